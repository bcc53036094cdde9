package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is the single simulated cash account. Exactly one row exists
// (ID=1); balance mutations go through atomic repository updates, never
// read-modify-write in the application layer.
type Portfolio struct {
	ID uint64 `gorm:"primaryKey" json:"id"`

	Balance        decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"balance"`
	InitialBalance decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"initial_balance"`
	// TotalPnL is realized P&L across resolved orders.
	TotalPnL decimal.Decimal `gorm:"column:total_pnl;type:numeric(30,10);not null;default:0" json:"total_pnl"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Portfolio) TableName() string {
	return "portfolio"
}

// PortfolioID is the fixed primary key of the singleton row.
const PortfolioID uint64 = 1
