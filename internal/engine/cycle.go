package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polypaper/internal/advisor"
	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/config"
	"polypaper/internal/kelly"
	"polypaper/internal/ledger"
	"polypaper/internal/models"
	"polypaper/internal/pool"
	"polypaper/internal/repository"
)

// Cycle statuses reported to the caller.
const (
	StatusCompleted      = "completed"
	StatusLocked         = "locked"
	StatusThrottled      = "throttled"
	StatusCostCapReached = "cost_cap_reached"
	StatusPositionCap    = "position_cap_reached"
	StatusBankrollLow    = "bankroll_too_low"
	StatusNoMarkets      = "no_eligible_markets"
	StatusAllAnalyzed    = "all_recently_analyzed"
	StatusAdvisoryFailed = "advisory_failed"
)

// CatalogFetcher supplies the deduplicated market snapshot.
type CatalogFetcher interface {
	FetchAll(ctx context.Context) ([]polymarketgamma.Market, error)
}

// Result summarizes one cycle invocation. HasMoreMarkets tells the external
// chain whether re-invoking immediately would find fresh work.
type Result struct {
	Status         string          `json:"status"`
	Detail         string          `json:"detail,omitempty"`
	Scanned        int             `json:"scanned"`
	PoolSize       int             `json:"pool_size"`
	Analyzed       int             `json:"analyzed"`
	OrdersPlaced   int             `json:"orders_placed"`
	TotalStaked    decimal.Decimal `json:"total_staked"`
	CostUSD        float64         `json:"cost_usd"`
	HasMoreMarkets bool            `json:"has_more_markets"`
}

// Orchestrator drives one batch of the trading cycle per invocation. All
// cross-invocation state (lock, throttle, analyzed cache) lives in the
// scheduler_state table; the orchestrator itself holds nothing between runs.
type Orchestrator struct {
	Config    config.CycleConfig
	BatchSize int
	PoolSize  int
	BucketCap int
	Provider  string

	Repo    repository.Repository
	Catalog CatalogFetcher
	Pool    *pool.Builder
	Router  *advisor.Router
	Sizer   *kelly.Sizer
	Ledger  *ledger.Ledger
	Logger  *zap.Logger
}

// RunCycle executes at most one advisory batch. Manual runs bypass the
// throttle and reset the analyzed cache. The lock is always released and,
// for manual runs, the analyzing flag always cleared, on every exit path.
func (o *Orchestrator) RunCycle(ctx context.Context, manual bool) (*Result, error) {
	return o.run(ctx, manual, false)
}

// ContinueCycle runs the next auto batch of an in-progress chain. The
// throttle gates chain starts, not continuations: the stamp written by the
// previous batch must not block the batches that follow it in the same tick.
func (o *Orchestrator) ContinueCycle(ctx context.Context) (*Result, error) {
	return o.run(ctx, false, true)
}

func (o *Orchestrator) run(ctx context.Context, manual, chained bool) (*Result, error) {
	now := time.Now().UTC()
	lockTTL := o.Config.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	ok, err := o.Repo.AcquireCycleLock(ctx, now, lockTTL)
	if err != nil {
		return nil, o.fail(ctx, err)
	}
	if !ok {
		return o.abort(ctx, StatusLocked, "another cycle invocation holds the lock"), nil
	}
	defer func() {
		if err := o.Repo.ReleaseCycleLock(ctx); err != nil && o.Logger != nil {
			o.Logger.Warn("release cycle lock failed", zap.Error(err))
		}
		if manual {
			if err := o.Repo.DeleteSchedulerState(ctx, models.SchedulerKeyAnalyzing); err != nil && o.Logger != nil {
				o.Logger.Warn("clear analyzing flag failed", zap.Error(err))
			}
		}
	}()

	if manual {
		flag, _ := json.Marshal(true)
		if err := o.Repo.SaveSchedulerState(ctx, models.SchedulerKeyAnalyzing, flag); err != nil {
			return nil, o.fail(ctx, err)
		}
		if err := o.Repo.DeleteSchedulerState(ctx, models.SchedulerKeyAnalyzed); err != nil {
			return nil, o.fail(ctx, err)
		}
	} else if !chained {
		throttled, err := o.throttled(ctx, now)
		if err != nil {
			return nil, o.fail(ctx, err)
		}
		if throttled {
			return o.abort(ctx, StatusThrottled, "minimum inter-cycle interval not elapsed"), nil
		}
	}

	if o.Config.DailyCostCapUSD > 0 {
		dayStart := now.Truncate(24 * time.Hour)
		spent, err := o.Repo.SumAdvisoryCostsSince(ctx, dayStart)
		if err != nil {
			return nil, o.fail(ctx, err)
		}
		if spent.GreaterThanOrEqual(decimal.NewFromFloat(o.Config.DailyCostCapUSD)) {
			return o.abort(ctx, StatusCostCapReached, fmt.Sprintf("advisory spend $%s hit the daily cap", spent.StringFixed(2))), nil
		}
	}
	if o.Config.MaxOpenOrders > 0 {
		open, err := o.Repo.ListOpenOrders(ctx)
		if err != nil {
			return nil, o.fail(ctx, err)
		}
		if len(open) >= o.Config.MaxOpenOrders {
			return o.abort(ctx, StatusPositionCap, fmt.Sprintf("%d open positions at the cap", len(open))), nil
		}
	}

	portfolio, err := o.Repo.GetPortfolio(ctx)
	if err != nil {
		return nil, o.fail(ctx, err)
	}
	if portfolio == nil {
		return nil, o.fail(ctx, fmt.Errorf("portfolio not initialized"))
	}
	if _, err := o.Ledger.CheckBalance(ctx); err != nil && o.Logger != nil {
		o.Logger.Warn("balance check failed", zap.Error(err))
	}
	minBet := decimal.NewFromInt(5)
	if portfolio.Balance.LessThan(minBet) {
		return o.abort(ctx, StatusBankrollLow, fmt.Sprintf("balance $%s below minimum bet", portfolio.Balance.StringFixed(2))), nil
	}

	shortlist, scanned, poolSize, err := o.buildShortlist(ctx, now, portfolio.Balance)
	if err != nil {
		return nil, o.fail(ctx, err)
	}
	if len(shortlist) == 0 {
		return o.abort(ctx, StatusNoMarkets, "no markets survived the pool filters"), nil
	}

	analyzed, err := o.loadAnalyzed(ctx, now)
	if err != nil {
		return nil, o.fail(ctx, err)
	}
	fresh := make([]polymarketgamma.Market, 0, len(shortlist))
	for _, m := range shortlist {
		if _, done := analyzed[m.ID]; !done {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return o.abort(ctx, StatusAllAnalyzed, "every shortlisted market was analyzed recently"), nil
	}

	batchSize := o.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	batch := fresh
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}
	result := &Result{
		Status:         StatusCompleted,
		Scanned:        scanned,
		PoolSize:       poolSize,
		HasMoreMarkets: len(fresh) > len(batch),
	}

	openOrders, err := o.Repo.ListOpenOrders(ctx)
	if err != nil {
		return nil, o.fail(ctx, err)
	}
	advice, provider, askErr := o.Router.Ask(ctx, o.Provider, batch, openOrders, portfolio.Balance, now)
	if advice != nil {
		result.CostUSD = advice.Usage.CostUSD
	}
	if askErr != nil {
		// Earlier invocations' orders stand; the chain decides whether
		// to retry. Report the failure, do not raise it.
		result.Status = StatusAdvisoryFailed
		result.Detail = askErr.Error()
		o.logAbort(ctx, StatusAdvisoryFailed, askErr.Error())
		return result, nil
	}
	result.Analyzed = len(batch)

	for _, m := range batch {
		analyzed[m.ID] = now
	}
	if err := o.saveAnalyzed(ctx, analyzed); err != nil && o.Logger != nil {
		o.Logger.Warn("save analyzed cache failed", zap.Error(err))
	}
	if !manual {
		stamp, _ := json.Marshal(now)
		if err := o.Repo.SaveSchedulerState(ctx, models.SchedulerKeyLastAutoAt, stamp); err != nil && o.Logger != nil {
			o.Logger.Warn("save throttle stamp failed", zap.Error(err))
		}
	}

	result.OrdersPlaced, result.TotalStaked = o.placeRecommendations(ctx, batch, advice, provider)
	o.logSummary(ctx, result, advice)
	return result, nil
}

// placeRecommendations sizes and fills sequentially: each fill reduces the
// cash available to the next recommendation in the same batch.
func (o *Orchestrator) placeRecommendations(ctx context.Context, batch []polymarketgamma.Market, advice *advisor.Result, provider advisor.Provider) (int, decimal.Decimal) {
	marketByID := make(map[string]*polymarketgamma.Market, len(batch))
	for i := range batch {
		marketByID[batch[i].ID] = &batch[i]
	}
	placed := 0
	staked := decimal.Zero
	for _, rec := range advice.Recommendations {
		market, ok := marketByID[rec.MarketID]
		if !ok {
			continue
		}
		portfolio, err := o.Repo.GetPortfolio(ctx)
		if err != nil || portfolio == nil {
			if o.Logger != nil {
				o.Logger.Warn("portfolio reload failed", zap.Error(err))
			}
			break
		}
		sized := o.Sizer.Size(rec, market.YesPrice(), portfolio.Balance,
			advice.Usage.CostUSD, len(advice.Recommendations), provider.Limits())
		if sized.Rejected() {
			o.logEdge(ctx, market, rec, sized.Reject)
			continue
		}
		outcomeIndex := 0
		if rec.Side == advisor.SideNo {
			outcomeIndex = 1
		}
		recCopy := rec
		order, err := o.Ledger.Place(ctx, ledger.PlaceRequest{
			Market:         *market,
			OutcomeIndex:   outcomeIndex,
			Side:           rec.Side,
			Stake:          sized.Stake,
			Recommendation: &recCopy,
		})
		if err != nil {
			if o.Logger != nil {
				o.Logger.Warn("order placement failed",
					zap.String("market_id", market.ID), zap.Error(err))
			}
			continue
		}
		placed++
		staked = staked.Add(order.TotalCost)
		if o.Logger != nil {
			o.Logger.Info("recommendation filled",
				zap.String("order_id", order.ID),
				zap.String("market_id", market.ID),
				zap.Float64("p_real", rec.PReal),
				zap.Float64("confidence", rec.Confidence),
			)
		}
	}
	return placed, staked
}

func (o *Orchestrator) buildShortlist(ctx context.Context, now time.Time, bankroll decimal.Decimal) ([]polymarketgamma.Market, int, int, error) {
	markets, err := o.Catalog.FetchAll(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	scanned := len(markets)
	if scanned == 0 {
		return nil, 0, 0, nil
	}
	openIDs, err := o.Repo.ListOpenMarketIDs(ctx)
	if err != nil {
		return nil, scanned, 0, err
	}
	openOrders, err := o.Repo.ListOpenOrders(ctx)
	if err != nil {
		return nil, scanned, 0, err
	}
	openQuestions := make([]string, 0, len(openOrders))
	for _, ord := range openOrders {
		openQuestions = append(openQuestions, ord.Question)
	}

	candidates, _ := o.Pool.Build(markets, openIDs, now, bankroll)
	candidates = pool.Dedupe(candidates)
	candidates = pool.DropHeldClusters(candidates, openQuestions)
	poolSize := len(candidates)

	maxSize := o.PoolSize
	if maxSize <= 0 {
		maxSize = 30
	}
	return pool.Diversify(candidates, maxSize, o.BucketCap), scanned, poolSize, nil
}

func (o *Orchestrator) throttled(ctx context.Context, now time.Time) (bool, error) {
	throttle := o.Config.AutoThrottle
	if throttle <= 0 {
		throttle = 20 * time.Hour
	}
	state, err := o.Repo.GetSchedulerState(ctx, models.SchedulerKeyLastAutoAt)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	var last time.Time
	if err := json.Unmarshal(state.Value, &last); err != nil {
		return false, nil
	}
	return now.Sub(last) < throttle, nil
}

// loadAnalyzed reads the analyzed-market cache and drops expired entries.
func (o *Orchestrator) loadAnalyzed(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	ttl := o.Config.AnalyzedTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	state, err := o.Repo.GetSchedulerState(ctx, models.SchedulerKeyAnalyzed)
	if err != nil {
		return nil, err
	}
	analyzed := map[string]time.Time{}
	if state != nil {
		_ = json.Unmarshal(state.Value, &analyzed)
	}
	for id, at := range analyzed {
		if now.Sub(at) > ttl {
			delete(analyzed, id)
		}
	}
	return analyzed, nil
}

func (o *Orchestrator) saveAnalyzed(ctx context.Context, analyzed map[string]time.Time) error {
	blob, err := json.Marshal(analyzed)
	if err != nil {
		return err
	}
	return o.Repo.SaveSchedulerState(ctx, models.SchedulerKeyAnalyzed, blob)
}

// Stop is the operator escape hatch: clears the analyzing flag and lock.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if err := o.Repo.DeleteSchedulerState(ctx, models.SchedulerKeyAnalyzing); err != nil {
		return err
	}
	return o.Repo.ReleaseCycleLock(ctx)
}

// Status reports the scheduler state for the operator surface.
func (o *Orchestrator) Status(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if state, err := o.Repo.GetSchedulerState(ctx, models.SchedulerKeyLock); err == nil && state != nil {
		var lock models.CycleLock
		if json.Unmarshal(state.Value, &lock) == nil {
			out["locked"] = lock.Locked
			if lock.Locked {
				out["lock_acquired_at"] = lock.AcquiredAt
			}
		}
	}
	if state, err := o.Repo.GetSchedulerState(ctx, models.SchedulerKeyLastAutoAt); err == nil && state != nil {
		var last time.Time
		if json.Unmarshal(state.Value, &last) == nil {
			out["last_auto_cycle_at"] = last
		}
	}
	if state, err := o.Repo.GetSchedulerState(ctx, models.SchedulerKeyAnalyzing); err == nil && state != nil {
		out["analyzing"] = true
	}
	analyzed, err := o.loadAnalyzed(ctx, time.Now().UTC())
	if err == nil {
		out["analyzed_cached"] = len(analyzed)
	}
	return out, nil
}

// abort ends the cycle early and leaves a visible reason on the dashboard.
func (o *Orchestrator) abort(ctx context.Context, status, detail string) *Result {
	o.logAbort(ctx, status, detail)
	return &Result{Status: status, Detail: detail}
}

func (o *Orchestrator) logAbort(ctx context.Context, status, detail string) {
	if o.Logger != nil {
		o.Logger.Info("cycle ended early", zap.String("status", status), zap.String("detail", detail))
	}
	if err := o.Repo.InsertActivity(ctx, &models.Activity{
		Type:    models.ActivityInfo,
		Message: fmt.Sprintf("Cycle skipped (%s): %s", status, detail),
	}); err != nil && o.Logger != nil {
		o.Logger.Warn("abort activity write failed", zap.Error(err))
	}
}

// fail records a fatal cycle error on the activity log before it propagates,
// so the dashboard shows why a cycle produced nothing.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	if o.Logger != nil {
		o.Logger.Error("cycle failed", zap.Error(err))
	}
	if actErr := o.Repo.InsertActivity(ctx, &models.Activity{
		Type:    models.ActivityError,
		Message: fmt.Sprintf("Cycle failed: %s", truncate(err.Error(), 500)),
	}); actErr != nil && o.Logger != nil {
		o.Logger.Warn("failure activity write failed", zap.Error(actErr))
	}
	return err
}

func (o *Orchestrator) logEdge(ctx context.Context, market *polymarketgamma.Market, rec advisor.Recommendation, reason string) {
	if err := o.Repo.InsertActivity(ctx, &models.Activity{
		Type:    models.ActivityEdge,
		Message: fmt.Sprintf("Edge on %q (%s p=%.2f conf=%.0f) not sized: %s", truncate(market.Question, 50), rec.Side, rec.PReal, rec.Confidence, reason),
	}); err != nil && o.Logger != nil {
		o.Logger.Warn("edge activity write failed", zap.Error(err))
	}
}

func (o *Orchestrator) logSummary(ctx context.Context, result *Result, advice *advisor.Result) {
	msg := fmt.Sprintf("Cycle analyzed %d markets, placed %d orders", result.Analyzed, result.OrdersPlaced)
	if advice.Summary != "" {
		msg += ": " + truncate(advice.Summary, 120)
	}
	if err := o.Repo.InsertActivity(ctx, &models.Activity{
		Type:    models.ActivityInfo,
		Message: msg,
	}); err != nil && o.Logger != nil {
		o.Logger.Warn("summary activity write failed", zap.Error(err))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
