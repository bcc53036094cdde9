package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/config"
)

// MarketPager is the slice of the Gamma client the catalog needs.
type MarketPager interface {
	GetMarkets(ctx context.Context, params *polymarketgamma.GetMarketsParams) ([]polymarketgamma.Market, error)
}

// CatalogService pages the full tradable catalog out of Gamma. It keeps the
// last good snapshot in memory so a flaky upstream degrades to stale data
// instead of an empty cycle.
type CatalogService struct {
	Config config.CatalogConfig
	Gamma  MarketPager
	Logger *zap.Logger

	mu         sync.Mutex
	lastGood   []polymarketgamma.Market
	lastGoodAt time.Time
}

// FetchAll pages /markets until a short page, the page ceiling, or two
// consecutive page failures. Markets are deduplicated by id across pages
// because Gamma's offset pagination can repeat rows while the set shifts.
func (s *CatalogService) FetchAll(ctx context.Context) ([]polymarketgamma.Market, error) {
	if s.Gamma == nil {
		return nil, fmt.Errorf("gamma client is nil")
	}
	limit := s.Config.PageLimit
	if limit <= 0 {
		limit = 200
	}
	maxPages := s.Config.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}

	active := true
	closed := false
	seen := map[string]struct{}{}
	out := make([]polymarketgamma.Market, 0, limit)
	offset := 0
	failures := 0
	for page := 0; page < maxPages; page++ {
		items, err := s.getPageWithRetry(ctx, &polymarketgamma.GetMarketsParams{
			Limit:  limit,
			Offset: offset,
			Active: &active,
			Closed: &closed,
		})
		if err != nil {
			failures++
			if s.Logger != nil {
				s.Logger.Warn("catalog page fetch failed",
					zap.Int("offset", offset), zap.Int("failures", failures), zap.Error(err))
			}
			if failures >= 2 || ctx.Err() != nil {
				break
			}
			offset += limit
			continue
		}
		failures = 0
		for _, m := range items {
			if m.ID == "" {
				continue
			}
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			if s.Config.MinVolumeUSD > 0 && m.VolumeUSD() < s.Config.MinVolumeUSD {
				continue
			}
			out = append(out, m)
		}
		offset += len(items)
		if len(items) < limit {
			break
		}
	}

	if len(out) == 0 {
		return s.staleFallback()
	}
	s.mu.Lock()
	s.lastGood = out
	s.lastGoodAt = time.Now().UTC()
	s.mu.Unlock()
	if s.Logger != nil {
		s.Logger.Info("catalog fetched", zap.Int("markets", len(out)))
	}
	return out, nil
}

func (s *CatalogService) getPageWithRetry(ctx context.Context, params *polymarketgamma.GetMarketsParams) ([]polymarketgamma.Market, error) {
	var lastErr error
	for attempt := 0; attempt <= 2; attempt++ {
		items, err := s.Gamma.GetMarkets(ctx, params)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		backoff := time.Duration(400+attempt*400) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// staleFallback serves the previous snapshot when the current fetch came up
// empty. Snapshots older than an hour are considered unusable.
func (s *CatalogService) staleFallback() ([]polymarketgamma.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lastGood) == 0 || time.Since(s.lastGoodAt) > time.Hour {
		return nil, fmt.Errorf("catalog fetch returned no markets and no usable snapshot exists")
	}
	if s.Logger != nil {
		s.Logger.Warn("serving stale catalog snapshot",
			zap.Int("markets", len(s.lastGood)),
			zap.Time("fetched_at", s.lastGoodAt))
	}
	return s.lastGood, nil
}
