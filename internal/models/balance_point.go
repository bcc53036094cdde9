package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalancePoint is one sample of the cash balance over time, recorded hourly
// for the dashboard chart.
type BalancePoint struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Balance    decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"balance"`
	RecordedAt time.Time       `gorm:"type:timestamptz;autoCreateTime;index" json:"recorded_at"`
}

func (BalancePoint) TableName() string {
	return "balance_points"
}
