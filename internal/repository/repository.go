package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polypaper/internal/models"
)

type ListOrdersParams struct {
	Status   *string
	MarketID *string
	Limit    int
	Offset   int
	OrderBy  string
	Asc      *bool
}

type ListActivitiesParams struct {
	Type   *string
	Limit  int
	Offset int
}

// AdvisoryCostSummary aggregates spend across all recorded advisory calls.
type AdvisoryCostSummary struct {
	Calls        int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      decimal.Decimal
}

type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Portfolio
	GetPortfolio(ctx context.Context) (*models.Portfolio, error)
	SavePortfolio(ctx context.Context, item *models.Portfolio) error
	SavePortfolioTx(ctx context.Context, tx *gorm.DB, item *models.Portfolio) error
	ResetPortfolio(ctx context.Context, initial decimal.Decimal) error
	AdjustBalanceTx(ctx context.Context, tx *gorm.DB, delta decimal.Decimal, pnlDelta decimal.Decimal) error
	DebitBalanceTx(ctx context.Context, tx *gorm.DB, amount decimal.Decimal) (bool, error)

	// Orders
	InsertOrderTx(ctx context.Context, tx *gorm.DB, item *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	ListOpenOrders(ctx context.Context) ([]models.Order, error)
	ListOpenOrdersDue(ctx context.Context, checkedBefore time.Time, limit int) ([]models.Order, error)
	ListOpenMarketIDs(ctx context.Context) ([]string, error)
	ListOpenTokenIDs(ctx context.Context, limit int) ([]string, error)
	ListResolvedOrders(ctx context.Context, limit int) ([]models.Order, error)
	UpdateOrderCurrentPrice(ctx context.Context, tokenID string, price decimal.Decimal) (int64, error)
	TouchOrderChecked(ctx context.Context, id string, at time.Time) error
	SettleOrderTx(ctx context.Context, tx *gorm.DB, id string, fromStatuses []string, updates map[string]any) (int64, error)
	DeleteOrders(ctx context.Context) error

	// Activities
	InsertActivity(ctx context.Context, item *models.Activity) error
	InsertActivityTx(ctx context.Context, tx *gorm.DB, item *models.Activity) error
	ListActivities(ctx context.Context, params ListActivitiesParams) ([]models.Activity, error)
	PruneActivities(ctx context.Context, keep int) (int64, error)
	DeleteActivities(ctx context.Context) error

	// Advisory calls
	InsertAdvisoryCall(ctx context.Context, item *models.AdvisoryCall) error
	ListAdvisoryCalls(ctx context.Context, limit int) ([]models.AdvisoryCall, error)
	SumAdvisoryCosts(ctx context.Context) (AdvisoryCostSummary, error)
	SumAdvisoryCostsSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	DeleteAdvisoryCalls(ctx context.Context) error

	// Scheduler state
	GetSchedulerState(ctx context.Context, key string) (*models.SchedulerState, error)
	SaveSchedulerState(ctx context.Context, key string, value []byte) error
	DeleteSchedulerState(ctx context.Context, key string) error
	AcquireCycleLock(ctx context.Context, now time.Time, ttl time.Duration) (bool, error)
	ReleaseCycleLock(ctx context.Context) error

	// Balance history
	InsertBalancePoint(ctx context.Context, item *models.BalancePoint) error
	ListBalancePoints(ctx context.Context, since *time.Time, limit int) ([]models.BalancePoint, error)
	DeleteBalancePoints(ctx context.Context) error

	// Ledger aggregates
	SumOpenCost(ctx context.Context) (decimal.Decimal, error)
	SumResolvedPnL(ctx context.Context) (decimal.Decimal, error)
}
