package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	polymarketclob "polypaper/internal/client/polymarket/clob"
	"polypaper/internal/config"
	"polypaper/internal/repository"
)

// PriceStreamService keeps the current_price column of open orders fresh
// from the CLOB market channel. It is display plumbing only; fills and
// settlements never read from it.
type PriceStreamService struct {
	Config config.ClobStreamConfig
	Repo   repository.Repository
	Logger *zap.Logger
}

// Run blocks until ctx is cancelled, maintaining the subscription over the
// token ids of open orders.
func (s *PriceStreamService) Run(ctx context.Context) error {
	if !s.Config.Enabled {
		s.Logger.Info("price stream disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	stream := &polymarketclob.MarketStream{
		URL:             s.Config.URL,
		Logger:          s.Logger,
		RefreshInterval: s.Config.RefreshInterval,
		Assets: func(ctx context.Context) ([]string, error) {
			return s.Repo.ListOpenTokenIDs(ctx, s.Config.MaxAssets)
		},
		Handle: s.applyPrice,
	}
	return stream.Run(ctx)
}

func (s *PriceStreamService) applyPrice(ctx context.Context, ev polymarketclob.PriceEvent) {
	price, err := decimal.NewFromString(ev.Price)
	if err != nil || !price.IsPositive() {
		return
	}
	if _, err := s.Repo.UpdateOrderCurrentPrice(ctx, ev.AssetID, price); err != nil {
		s.Logger.Warn("current price update failed",
			zap.String("token_id", ev.AssetID), zap.Error(err))
	}
}
