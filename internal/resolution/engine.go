package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/config"
	"polypaper/internal/models"
	"polypaper/internal/repository"
)

// MarketFetcher is the settlement lookup surface of the catalog client.
type MarketFetcher interface {
	GetMarketByID(ctx context.Context, marketID string) (*polymarketgamma.Market, error)
	GetMarketByConditionID(ctx context.Context, conditionID string) (*polymarketgamma.Market, error)
}

// Engine settles expired open orders against official outcomes. It runs on
// its own timer, independent of the trading cycle, and settles each order
// at most once.
type Engine struct {
	Config config.ResolutionConfig
	Repo   repository.Repository
	Gamma  MarketFetcher
	Logger *zap.Logger
}

func (e *Engine) Run(ctx context.Context) {
	if e == nil || !e.Config.Enabled {
		return
	}
	interval := e.Config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil && e.Logger != nil {
				e.Logger.Warn("resolution sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce sweeps open orders due for a settlement check. One order's
// failure never blocks the rest of the batch.
func (e *Engine) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	cooldown := e.Config.OrderCooldown
	if cooldown <= 0 {
		cooldown = 3 * time.Minute
	}
	batch := e.Config.BatchSize
	if batch <= 0 {
		batch = 50
	}
	orders, err := e.Repo.ListOpenOrdersDue(ctx, now.Add(-cooldown), batch)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.checkOrder(ctx, &order, now); err != nil && e.Logger != nil {
			e.Logger.Warn("resolution check failed",
				zap.String("order_id", order.ID),
				zap.String("market_id", order.MarketID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Engine) checkOrder(ctx context.Context, order *models.Order, now time.Time) error {
	// Orders without a known end, or not yet expired, are left alone.
	if order.EndDate == nil || order.EndDate.After(now) {
		return nil
	}
	if err := e.Repo.TouchOrderChecked(ctx, order.ID, now); err != nil {
		return err
	}
	market, err := e.fetchMarket(ctx, order)
	if err != nil {
		return err
	}
	if market == nil {
		return fmt.Errorf("market %s not found", order.MarketID)
	}
	// Closed-but-unresolved is the oracle dispute window; stay open and
	// retry next sweep.
	if !market.Resolved() {
		return nil
	}
	winnerIdx, _ := determineWinner(market.OutcomePrices, e.winnerThreshold())
	if winnerIdx < 0 {
		return nil
	}
	return e.settle(ctx, order, market, winnerIdx, now)
}

func (e *Engine) fetchMarket(ctx context.Context, order *models.Order) (*polymarketgamma.Market, error) {
	market, err := e.Gamma.GetMarketByID(ctx, order.MarketID)
	if err == nil && market != nil {
		return market, nil
	}
	if order.ConditionID != "" {
		if byCondition, condErr := e.Gamma.GetMarketByConditionID(ctx, order.ConditionID); condErr == nil && byCondition != nil {
			return byCondition, nil
		}
	}
	return market, err
}

// settle credits or debits the ledger exactly once: the status-guarded
// update wins or loses the race, and the balance moves only when it wins.
func (e *Engine) settle(ctx context.Context, order *models.Order, market *polymarketgamma.Market, winnerIdx int, now time.Time) error {
	won := order.OutcomeIndex == winnerIdx
	status := models.OrderStatusLost
	pnl := order.TotalCost.Neg()
	credit := decimal.Zero
	if won {
		status = models.OrderStatusWon
		pnl = order.PotentialPayout.Sub(order.TotalCost)
		credit = order.PotentialPayout
	}
	resolutionPrice := decimal.Zero
	if order.OutcomeIndex < len(market.OutcomePrices) {
		resolutionPrice = decimal.NewFromFloat(market.OutcomePrices[order.OutcomeIndex])
	}

	var settled bool
	err := e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		rows, err := e.Repo.SettleOrderTx(ctx, tx, order.ID,
			[]string{models.OrderStatusPending, models.OrderStatusFilled},
			map[string]any{
				"status":           status,
				"pnl":              pnl,
				"resolution_price": resolutionPrice,
				"resolved_at":      now,
			})
		if err != nil {
			return err
		}
		if rows == 0 {
			// Already settled by a concurrent sweep.
			return nil
		}
		settled = true
		if err := e.Repo.AdjustBalanceTx(ctx, tx, credit, pnl); err != nil {
			return err
		}
		verb := "LOST"
		if won {
			verb = "WON"
		}
		amount := pnl
		return e.Repo.InsertActivityTx(ctx, tx, &models.Activity{
			Type:    models.ActivityResolved,
			Message: fmt.Sprintf("%s $%s on %q", verb, pnl.Abs().StringFixed(2), truncate(order.Question, 60)),
			Amount:  &amount,
		})
	})
	if err != nil {
		return err
	}
	if settled && e.Logger != nil {
		e.Logger.Info("order resolved",
			zap.String("order_id", order.ID),
			zap.String("status", status),
			zap.String("pnl", pnl.StringFixed(2)),
		)
	}
	return nil
}

func (e *Engine) winnerThreshold() float64 {
	if e.Config.WinnerPrice > 0 {
		return e.Config.WinnerPrice
	}
	return 0.95
}

// determineWinner picks the outcome at or above the near-certainty
// threshold, falling back to the highest-priced outcome.
func determineWinner(prices []float64, threshold float64) (int, float64) {
	if len(prices) == 0 {
		return -1, 0
	}
	best := 0
	for i, p := range prices {
		if p >= threshold {
			return i, p
		}
		if p > prices[best] {
			best = i
		}
	}
	return best, prices[best]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
