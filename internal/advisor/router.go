package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/models"
	"polypaper/internal/repository"
)

// Router dispatches a batch to the selected provider, normalizes the
// output and records usage/cost for every call.
type Router struct {
	Providers map[string]Provider
	Default   string
	Limiter   *rate.Limiter
	Repo      repository.Repository
	Logger    *zap.Logger

	// MaxImpliedEdge drops recommendations whose edge is implausibly
	// large; those are almost always reasoning errors, not opportunities.
	MaxImpliedEdge float64
}

func (r *Router) Provider(name string) (Provider, error) {
	if name == "" {
		name = r.Default
	}
	p, ok := r.Providers[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("unknown advisory provider %q", name)
	}
	return p, nil
}

// Ask runs one batch through one provider. A provider failure aborts only
// this batch: the error comes back and already-placed orders stand.
func (r *Router) Ask(ctx context.Context, providerName string, batch []polymarketgamma.Market, openOrders []models.Order, bankroll decimal.Decimal, now time.Time) (*Result, Provider, error) {
	provider, err := r.Provider(providerName)
	if err != nil {
		return nil, nil, err
	}
	if len(batch) == 0 {
		return &Result{}, provider, nil
	}
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return nil, provider, err
		}
	}

	prompt := BuildPrompt(now, bankroll, batch, openOrders)
	text, usage, askErr := provider.Ask(ctx, prompt)

	result := &Result{Usage: usage, Raw: text}
	if askErr == nil {
		r.normalize(result, batch, text)
	}
	r.record(ctx, provider, len(batch), result, askErr)
	if askErr != nil {
		return nil, provider, askErr
	}
	return result, provider, nil
}

func (r *Router) normalize(result *Result, batch []polymarketgamma.Market, text string) {
	parsed, err := parsePayload(text)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("advisory payload unparseable", zap.Error(err))
		}
		return
	}
	result.Summary = parsed.Summary
	for _, s := range parsed.Skipped {
		result.Skipped = append(result.Skipped, Skip{MarketID: s.MarketID, Reason: s.Reason})
	}

	priceByID := make(map[string]float64, len(batch))
	for _, m := range batch {
		priceByID[m.ID] = m.YesPrice()
	}
	maxEdge := r.MaxImpliedEdge
	if maxEdge <= 0 {
		maxEdge = 0.65
	}
	for _, raw := range parsed.Recommendations {
		price, ok := priceByID[raw.MarketID]
		if !ok {
			result.Skipped = append(result.Skipped, Skip{MarketID: raw.MarketID, Reason: "not in batch"})
			continue
		}
		rec := Recommendation{
			MarketID:   raw.MarketID,
			Side:       normalizeSide(raw.Side),
			PReal:      clamp(raw.PReal, 0, 1),
			Confidence: clamp(raw.Confidence, 0, 100),
			Reasoning:  raw.Reasoning,
			Sources:    raw.Sources,
			RiskNotes:  raw.RiskNotes,
		}
		if rec.Side == SideSkip {
			result.Skipped = append(result.Skipped, Skip{MarketID: rec.MarketID, Reason: "provider skipped"})
			continue
		}
		repairCoherence(&rec, price)
		if math.Abs(rec.PReal-price) > maxEdge {
			result.Skipped = append(result.Skipped, Skip{MarketID: rec.MarketID, Reason: "implied edge beyond sanity ceiling"})
			continue
		}
		result.Recommendations = append(result.Recommendations, rec)
	}
}

// record persists usage and cost even when the call failed or nothing
// survived normalization.
func (r *Router) record(ctx context.Context, provider Provider, batchSize int, result *Result, askErr error) {
	if r.Repo == nil {
		return
	}
	raw, _ := json.Marshal(map[string]any{
		"response": result.Raw,
		"error":    errString(askErr),
	})
	call := &models.AdvisoryCall{
		Provider:        provider.Name(),
		Model:           provider.Model(),
		InputTokens:     result.Usage.InputTokens,
		OutputTokens:    result.Usage.OutputTokens,
		CostUSD:         decimal.NewFromFloat(result.Usage.CostUSD),
		LatencyMs:       result.Usage.LatencyMs,
		BatchSize:       batchSize,
		Recommendations: len(result.Recommendations),
		Skipped:         len(result.Skipped),
		Raw:             raw,
	}
	if err := r.Repo.InsertAdvisoryCall(ctx, call); err != nil && r.Logger != nil {
		r.Logger.Warn("record advisory call failed", zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// TotalCost aggregates recorded advisory spend.
func (r *Router) TotalCost(ctx context.Context) (repository.AdvisoryCostSummary, error) {
	if r.Repo == nil {
		return repository.AdvisoryCostSummary{}, nil
	}
	return r.Repo.SumAdvisoryCosts(ctx)
}
