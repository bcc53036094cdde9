package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polypaper/internal/models"
	"polypaper/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Transactions run the callback against the same maps; rollback is not
// simulated beyond returning the callback's error.
type stubRepo struct {
	portfolio *models.Portfolio
	orders    map[string]*models.Order
	activity  []models.Activity
	calls     []models.AdvisoryCall
	state     map[string][]byte
	points    []models.BalancePoint
}

func newStubRepo(balance float64) *stubRepo {
	b := decimal.NewFromFloat(balance)
	return &stubRepo{
		portfolio: &models.Portfolio{ID: models.PortfolioID, Balance: b, InitialBalance: b},
		orders:    map[string]*models.Order{},
		state:     map[string][]byte{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) GetPortfolio(ctx context.Context) (*models.Portfolio, error) {
	if s.portfolio == nil {
		return nil, nil
	}
	cp := *s.portfolio
	return &cp, nil
}

func (s *stubRepo) SavePortfolio(ctx context.Context, item *models.Portfolio) error {
	cp := *item
	s.portfolio = &cp
	return nil
}

func (s *stubRepo) SavePortfolioTx(ctx context.Context, tx *gorm.DB, item *models.Portfolio) error {
	return s.SavePortfolio(ctx, item)
}

func (s *stubRepo) ResetPortfolio(ctx context.Context, initial decimal.Decimal) error {
	s.portfolio = &models.Portfolio{ID: models.PortfolioID, Balance: initial, InitialBalance: initial}
	return nil
}

func (s *stubRepo) AdjustBalanceTx(ctx context.Context, tx *gorm.DB, delta, pnlDelta decimal.Decimal) error {
	s.portfolio.Balance = s.portfolio.Balance.Add(delta)
	s.portfolio.TotalPnL = s.portfolio.TotalPnL.Add(pnlDelta)
	return nil
}

func (s *stubRepo) DebitBalanceTx(ctx context.Context, tx *gorm.DB, amount decimal.Decimal) (bool, error) {
	if s.portfolio.Balance.LessThan(amount) {
		return false, nil
	}
	s.portfolio.Balance = s.portfolio.Balance.Sub(amount)
	return true, nil
}

func (s *stubRepo) InsertOrderTx(ctx context.Context, tx *gorm.DB, item *models.Order) error {
	cp := *item
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.orders[cp.ID] = &cp
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *stubRepo) listOrders(filter func(*models.Order) bool) []models.Order {
	out := []models.Order{}
	for _, o := range s.orders {
		if filter == nil || filter(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *stubRepo) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	return s.listOrders(func(o *models.Order) bool {
		if params.Status == nil {
			return true
		}
		if *params.Status == "open" {
			return o.Open()
		}
		return o.Status == *params.Status
	}), nil
}

func (s *stubRepo) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	items, _ := s.ListOrders(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) ListOpenOrders(ctx context.Context) ([]models.Order, error) {
	return s.listOrders(func(o *models.Order) bool { return o.Open() }), nil
}

func (s *stubRepo) ListOpenOrdersDue(ctx context.Context, checkedBefore time.Time, limit int) ([]models.Order, error) {
	items := s.listOrders(func(o *models.Order) bool {
		if !o.Open() {
			return false
		}
		return o.LastCheckedAt == nil || o.LastCheckedAt.Before(checkedBefore)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *stubRepo) ListOpenMarketIDs(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	out := []string{}
	for _, o := range s.orders {
		if o.Open() {
			if _, ok := seen[o.MarketID]; !ok {
				seen[o.MarketID] = struct{}{}
				out = append(out, o.MarketID)
			}
		}
	}
	return out, nil
}

func (s *stubRepo) ListOpenTokenIDs(ctx context.Context, limit int) ([]string, error) {
	out := []string{}
	for _, o := range s.orders {
		if o.Open() && o.TokenID != nil {
			out = append(out, *o.TokenID)
		}
	}
	return out, nil
}

func (s *stubRepo) ListResolvedOrders(ctx context.Context, limit int) ([]models.Order, error) {
	return s.listOrders(func(o *models.Order) bool {
		return o.Status == models.OrderStatusWon || o.Status == models.OrderStatusLost
	}), nil
}

func (s *stubRepo) UpdateOrderCurrentPrice(ctx context.Context, tokenID string, price decimal.Decimal) (int64, error) {
	var n int64
	for _, o := range s.orders {
		if o.Open() && o.TokenID != nil && *o.TokenID == tokenID {
			p := price
			o.CurrentPrice = &p
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) TouchOrderChecked(ctx context.Context, id string, at time.Time) error {
	if o, ok := s.orders[id]; ok {
		t := at
		o.LastCheckedAt = &t
	}
	return nil
}

func (s *stubRepo) SettleOrderTx(ctx context.Context, tx *gorm.DB, id string, fromStatuses []string, updates map[string]any) (int64, error) {
	o, ok := s.orders[id]
	if !ok {
		return 0, nil
	}
	matched := false
	for _, st := range fromStatuses {
		if o.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return 0, nil
	}
	if v, ok := updates["status"]; ok {
		o.Status = v.(string)
	}
	if v, ok := updates["pnl"]; ok {
		pnl := v.(decimal.Decimal)
		o.PnL = &pnl
	}
	if v, ok := updates["resolution_price"]; ok {
		rp := v.(decimal.Decimal)
		o.ResolutionPrice = &rp
	}
	if v, ok := updates["resolved_at"]; ok {
		at := v.(time.Time)
		o.ResolvedAt = &at
	}
	return 1, nil
}

func (s *stubRepo) DeleteOrders(ctx context.Context) error {
	s.orders = map[string]*models.Order{}
	return nil
}

func (s *stubRepo) InsertActivity(ctx context.Context, item *models.Activity) error {
	s.activity = append(s.activity, *item)
	return nil
}

func (s *stubRepo) InsertActivityTx(ctx context.Context, tx *gorm.DB, item *models.Activity) error {
	return s.InsertActivity(ctx, item)
}

func (s *stubRepo) ListActivities(ctx context.Context, params repository.ListActivitiesParams) ([]models.Activity, error) {
	return append([]models.Activity{}, s.activity...), nil
}

func (s *stubRepo) PruneActivities(ctx context.Context, keep int) (int64, error) { return 0, nil }

func (s *stubRepo) DeleteActivities(ctx context.Context) error {
	s.activity = nil
	return nil
}

func (s *stubRepo) InsertAdvisoryCall(ctx context.Context, item *models.AdvisoryCall) error {
	s.calls = append(s.calls, *item)
	return nil
}

func (s *stubRepo) ListAdvisoryCalls(ctx context.Context, limit int) ([]models.AdvisoryCall, error) {
	items := append([]models.AdvisoryCall{}, s.calls...)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *stubRepo) DeleteAdvisoryCalls(ctx context.Context) error {
	s.calls = nil
	return nil
}

func (s *stubRepo) SumAdvisoryCosts(ctx context.Context) (repository.AdvisoryCostSummary, error) {
	sum := repository.AdvisoryCostSummary{CostUSD: decimal.Zero}
	for _, c := range s.calls {
		sum.Calls++
		sum.InputTokens += int64(c.InputTokens)
		sum.OutputTokens += int64(c.OutputTokens)
		sum.CostUSD = sum.CostUSD.Add(c.CostUSD)
	}
	return sum, nil
}

func (s *stubRepo) SumAdvisoryCostsSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range s.calls {
		if !c.CreatedAt.Before(since) {
			sum = sum.Add(c.CostUSD)
		}
	}
	return sum, nil
}

func (s *stubRepo) GetSchedulerState(ctx context.Context, key string) (*models.SchedulerState, error) {
	v, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	return &models.SchedulerState{Key: key, Value: v}, nil
}

func (s *stubRepo) SaveSchedulerState(ctx context.Context, key string, value []byte) error {
	s.state[key] = value
	return nil
}

func (s *stubRepo) DeleteSchedulerState(ctx context.Context, key string) error {
	delete(s.state, key)
	return nil
}

func (s *stubRepo) AcquireCycleLock(ctx context.Context, now time.Time, ttl time.Duration) (bool, error) {
	raw, ok := s.state[models.SchedulerKeyLock]
	if ok {
		var lock models.CycleLock
		if err := json.Unmarshal(raw, &lock); err == nil {
			if lock.Locked && lock.AcquiredAt.After(now.Add(-ttl)) {
				return false, nil
			}
		}
	}
	value, _ := json.Marshal(models.CycleLock{Locked: true, AcquiredAt: now})
	s.state[models.SchedulerKeyLock] = value
	return true, nil
}

func (s *stubRepo) ReleaseCycleLock(ctx context.Context) error {
	value, _ := json.Marshal(models.CycleLock{Locked: false})
	s.state[models.SchedulerKeyLock] = value
	return nil
}

func (s *stubRepo) InsertBalancePoint(ctx context.Context, item *models.BalancePoint) error {
	s.points = append(s.points, *item)
	return nil
}

func (s *stubRepo) ListBalancePoints(ctx context.Context, since *time.Time, limit int) ([]models.BalancePoint, error) {
	return append([]models.BalancePoint{}, s.points...), nil
}

func (s *stubRepo) DeleteBalancePoints(ctx context.Context) error {
	s.points = nil
	return nil
}

func (s *stubRepo) SumOpenCost(ctx context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, o := range s.orders {
		if o.Open() {
			sum = sum.Add(o.TotalCost)
		}
	}
	return sum, nil
}

func (s *stubRepo) SumResolvedPnL(ctx context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, o := range s.orders {
		if (o.Status == models.OrderStatusWon || o.Status == models.OrderStatusLost) && o.PnL != nil {
			sum = sum.Add(*o.PnL)
		}
	}
	return sum, nil
}

var _ repository.Repository = (*stubRepo)(nil)
