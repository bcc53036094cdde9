package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order statuses. "filled" is the open state (simulated execution is
// instantaneous); "won"/"lost" are terminal resolution outcomes.
const (
	OrderStatusPending   = "pending"
	OrderStatusFilled    = "filled"
	OrderStatusWon       = "won"
	OrderStatusLost      = "lost"
	OrderStatusCancelled = "cancelled"
	OrderStatusResolved  = "resolved"
)

const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Order is a simulated position. Created at fill time by the ledger,
// mutated only by cancellation or the resolution engine.
type Order struct {
	ID string `gorm:"type:varchar(40);primaryKey" json:"id"`

	MarketID    string  `gorm:"type:varchar(100);not null;index" json:"market_id"`
	ConditionID string  `gorm:"type:varchar(100);index" json:"condition_id"`
	Question    string  `gorm:"type:text;not null" json:"question"`
	Slug        *string `gorm:"type:text" json:"slug,omitempty"`
	TokenID     *string `gorm:"type:varchar(100);index" json:"token_id,omitempty"`

	OutcomeIndex int    `gorm:"not null" json:"outcome_index"`
	Outcome      string `gorm:"type:varchar(60);not null" json:"outcome"`
	Side         string `gorm:"type:varchar(10);not null" json:"side"`

	Price    decimal.Decimal `gorm:"type:numeric(20,10);not null" json:"price"`
	Quantity decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"quantity"`
	// TotalCost = Price * Quantity at fill time.
	TotalCost decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_cost"`
	// PotentialPayout equals Quantity: each winning share settles at 1 unit.
	PotentialPayout decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"potential_payout"`
	// CurrentPrice is a dashboard-only mark refreshed by the price stream.
	CurrentPrice *decimal.Decimal `gorm:"type:numeric(20,10)" json:"current_price,omitempty"`

	Status string `gorm:"type:varchar(20);not null;default:'filled';index" json:"status"`

	PnL             *decimal.Decimal `gorm:"column:pnl;type:numeric(30,10)" json:"pnl,omitempty"`
	ResolutionPrice *decimal.Decimal `gorm:"type:numeric(20,10)" json:"resolution_price,omitempty"`

	EndDate       *time.Time `gorm:"type:timestamptz;index" json:"end_date,omitempty"`
	ResolvedAt    *time.Time `gorm:"type:timestamptz" json:"resolved_at,omitempty"`
	LastCheckedAt *time.Time `gorm:"type:timestamptz" json:"last_checked_at,omitempty"`

	// Reasoning holds the advisory output that motivated the position
	// (pReal, confidence, reasoning text, sources, risk notes).
	Reasoning datatypes.JSON `gorm:"type:jsonb" json:"reasoning,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Open reports whether the order still holds cash (cost debited, not settled).
func (o Order) Open() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusFilled
}
