package gormrepository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"polypaper/internal/models"
	"polypaper/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- portfolio ---------------------------------------------------------------

func (s *Store) GetPortfolio(ctx context.Context) (*models.Portfolio, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Portfolio
	err := s.db.WithContext(ctx).First(&item, "id = ?", models.PortfolioID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePortfolio(ctx context.Context, item *models.Portfolio) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.ID = models.PortfolioID
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) SavePortfolioTx(ctx context.Context, tx *gorm.DB, item *models.Portfolio) error {
	if tx == nil || item == nil {
		return nil
	}
	item.ID = models.PortfolioID
	return tx.WithContext(ctx).Save(item).Error
}

// ResetPortfolio rewinds the account to its initial state: balance restored,
// realized P&L zeroed. Dependent tables are cleared by the caller.
func (s *Store) ResetPortfolio(ctx context.Context, initial decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	item := models.Portfolio{
		ID:             models.PortfolioID,
		Balance:        initial,
		InitialBalance: initial,
		TotalPnL:       decimal.Zero,
	}
	return s.db.WithContext(ctx).Save(&item).Error
}

// AdjustBalanceTx applies a balance delta (and optional realized P&L delta)
// atomically in SQL so concurrent settlements never lose an update.
func (s *Store) AdjustBalanceTx(ctx context.Context, tx *gorm.DB, delta decimal.Decimal, pnlDelta decimal.Decimal) error {
	if tx == nil {
		return nil
	}
	updates := map[string]any{
		"balance": gorm.Expr("balance + ?", delta),
	}
	if !pnlDelta.IsZero() {
		updates["total_pnl"] = gorm.Expr("total_pnl + ?", pnlDelta)
	}
	res := tx.WithContext(ctx).Model(&models.Portfolio{}).
		Where("id = ?", models.PortfolioID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("portfolio row missing")
	}
	return nil
}

// DebitBalanceTx subtracts amount only while the balance covers it. A false
// return means insufficient funds; the caller rolls the transaction back.
func (s *Store) DebitBalanceTx(ctx context.Context, tx *gorm.DB, amount decimal.Decimal) (bool, error) {
	if tx == nil || amount.LessThanOrEqual(decimal.Zero) {
		return false, nil
	}
	res := tx.WithContext(ctx).Model(&models.Portfolio{}).
		Where("id = ?", models.PortfolioID).
		Where("balance >= ?", amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- orders -------------------------------------------------------------------

func (s *Store) InsertOrderTx(ctx context.Context, tx *gorm.DB, item *models.Order) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func buildOrdersQuery(query *gorm.DB, params repository.ListOrdersParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		status := strings.TrimSpace(*params.Status)
		if status == "open" {
			query = query.Where("status IN ?", []string{models.OrderStatusPending, models.OrderStatusFilled})
		} else {
			query = query.Where("status = ?", status)
		}
	}
	if params.MarketID != nil && strings.TrimSpace(*params.MarketID) != "" {
		query = query.Where("market_id = ?", strings.TrimSpace(*params.MarketID))
	}
	return query
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := buildOrdersQuery(s.db.WithContext(ctx).Model(&models.Order{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Order
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := buildOrdersQuery(s.db.WithContext(ctx).Model(&models.Order{}), params)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListOpenOrders(ctx context.Context) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Order
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.OrderStatusPending, models.OrderStatusFilled}).
		Order("created_at desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListOpenOrdersDue returns open orders not checked since checkedBefore,
// oldest check first, so the resolution sweep round-robins fairly.
func (s *Store) ListOpenOrdersDue(ctx context.Context, checkedBefore time.Time, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Order
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.OrderStatusPending, models.OrderStatusFilled}).
		Where("last_checked_at IS NULL OR last_checked_at < ?", checkedBefore).
		Order("last_checked_at asc nulls first").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOpenMarketIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("status IN ?", []string{models.OrderStatusPending, models.OrderStatusFilled}).
		Distinct().
		Pluck("market_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListOpenTokenIDs(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("status IN ?", []string{models.OrderStatusPending, models.OrderStatusFilled}).
		Where("token_id IS NOT NULL AND token_id <> ''").
		Distinct().
		Limit(normalizeLimit(limit, 200)).
		Pluck("token_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListResolvedOrders(ctx context.Context, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Order
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.OrderStatusWon, models.OrderStatusLost}).
		Order("resolved_at desc").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateOrderCurrentPrice(ctx context.Context, tokenID string, price decimal.Decimal) (int64, error) {
	if s == nil || s.db == nil || strings.TrimSpace(tokenID) == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("token_id = ?", tokenID).
		Where("status IN ?", []string{models.OrderStatusPending, models.OrderStatusFilled}).
		Update("current_price", price)
	return res.RowsAffected, res.Error
}

func (s *Store) TouchOrderChecked(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("last_checked_at", at).Error
}

// SettleOrderTx applies updates only while the order is still in one of
// fromStatuses. RowsAffected==0 means another sweep got there first.
func (s *Store) SettleOrderTx(ctx context.Context, tx *gorm.DB, id string, fromStatuses []string, updates map[string]any) (int64, error) {
	if tx == nil || strings.TrimSpace(id) == "" || len(updates) == 0 {
		return 0, nil
	}
	res := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Where("status IN ?", fromStatuses).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteOrders(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.Order{}).Error
}

// --- activities ---------------------------------------------------------------

func (s *Store) InsertActivity(ctx context.Context, item *models.Activity) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) InsertActivityTx(ctx context.Context, tx *gorm.DB, item *models.Activity) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListActivities(ctx context.Context, params repository.ListActivitiesParams) ([]models.Activity, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Activity{})
	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		query = query.Where("type = ?", strings.TrimSpace(*params.Type))
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Activity
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// PruneActivities deletes everything older than the newest keep rows.
func (s *Store) PruneActivities(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil || keep <= 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Exec(
		`DELETE FROM activities WHERE id NOT IN (SELECT id FROM activities ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteActivities(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.Activity{}).Error
}

// --- advisory calls -------------------------------------------------------------

func (s *Store) InsertAdvisoryCall(ctx context.Context, item *models.AdvisoryCall) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SumAdvisoryCosts(ctx context.Context) (repository.AdvisoryCostSummary, error) {
	if s == nil || s.db == nil {
		return repository.AdvisoryCostSummary{}, nil
	}
	var row struct {
		Calls        int64
		InputTokens  int64
		OutputTokens int64
		CostUSD      decimal.Decimal
	}
	err := s.db.WithContext(ctx).Model(&models.AdvisoryCall{}).
		Select("COUNT(*) AS calls, COALESCE(SUM(input_tokens),0) AS input_tokens, COALESCE(SUM(output_tokens),0) AS output_tokens, COALESCE(SUM(cost_usd),0) AS cost_usd").
		Scan(&row).Error
	if err != nil {
		return repository.AdvisoryCostSummary{}, err
	}
	return repository.AdvisoryCostSummary{
		Calls:        row.Calls,
		InputTokens:  row.InputTokens,
		OutputTokens: row.OutputTokens,
		CostUSD:      row.CostUSD,
	}, nil
}

func (s *Store) SumAdvisoryCostsSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var row struct {
		Total decimal.Decimal
	}
	err := s.db.WithContext(ctx).Model(&models.AdvisoryCall{}).
		Select("COALESCE(SUM(cost_usd),0) AS total").
		Where("created_at >= ?", since).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

func (s *Store) ListAdvisoryCalls(ctx context.Context, limit int) ([]models.AdvisoryCall, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AdvisoryCall
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(normalizeLimit(limit, 20)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteAdvisoryCalls(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.AdvisoryCall{}).Error
}

// --- scheduler state -------------------------------------------------------------

func (s *Store) GetSchedulerState(ctx context.Context, key string) (*models.SchedulerState, error) {
	if s == nil || s.db == nil || strings.TrimSpace(key) == "" {
		return nil, nil
	}
	var item models.SchedulerState
	err := s.db.WithContext(ctx).First(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveSchedulerState(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	item := models.SchedulerState{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&item).Error
}

func (s *Store) DeleteSchedulerState(ctx context.Context, key string) error {
	if s == nil || s.db == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.SchedulerState{}, "key = ?", key).Error
}

// AcquireCycleLock takes the cycle lock in a single conditional statement.
// The lock is free when the row is absent, unlocked, or older than the TTL;
// a crashed holder therefore self-expires without an operator touching it.
func (s *Store) AcquireCycleLock(ctx context.Context, now time.Time, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	value, err := json.Marshal(models.CycleLock{Locked: true, AcquiredAt: now})
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO scheduler_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		WHERE scheduler_state.value->>'locked' IS DISTINCT FROM 'true'
		   OR (scheduler_state.value->>'acquired_at')::timestamptz < ?`,
		models.SchedulerKeyLock, string(value), now, now.Add(-ttl),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ReleaseCycleLock(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	value, err := json.Marshal(models.CycleLock{Locked: false})
	if err != nil {
		return err
	}
	return s.SaveSchedulerState(ctx, models.SchedulerKeyLock, value)
}

// --- balance history -------------------------------------------------------------

func (s *Store) InsertBalancePoint(ctx context.Context, item *models.BalancePoint) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListBalancePoints(ctx context.Context, since *time.Time, limit int) ([]models.BalancePoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.BalancePoint{})
	if since != nil && !since.IsZero() {
		query = query.Where("recorded_at >= ?", *since)
	}
	var items []models.BalancePoint
	err := query.Order("recorded_at asc").Limit(normalizeLimit(limit, 500)).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteBalancePoints(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.BalancePoint{}).Error
}

// --- ledger aggregates -------------------------------------------------------------

func (s *Store) SumOpenCost(ctx context.Context) (decimal.Decimal, error) {
	return s.sumOrders(ctx, "total_cost", []string{models.OrderStatusPending, models.OrderStatusFilled})
}

func (s *Store) SumResolvedPnL(ctx context.Context) (decimal.Decimal, error) {
	return s.sumOrders(ctx, "pnl", []string{models.OrderStatusWon, models.OrderStatusLost})
}

func (s *Store) sumOrders(ctx context.Context, column string, statuses []string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var row struct {
		Total decimal.Decimal
	}
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select("COALESCE(SUM(" + column + "),0) AS total").
		Where("status IN ?", statuses).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

// --- helpers -------------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
