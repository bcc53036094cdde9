package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ActivityInfo      = "info"
	ActivityEdge      = "edge"
	ActivityOrder     = "order"
	ActivityResolved  = "resolved"
	ActivityWarning   = "warning"
	ActivityError     = "error"
	ActivityInference = "inference"
)

// Activity is one append-only log entry shown on the dashboard. The table is
// pruned to a bounded recent window by a cron job.
type Activity struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Type    string `gorm:"type:varchar(20);not null;index" json:"type"`
	Message string `gorm:"type:text;not null" json:"message"`
	// Amount is the realized amount for order/resolution entries.
	Amount    *decimal.Decimal `gorm:"type:numeric(30,10)" json:"amount,omitempty"`
	CreatedAt time.Time        `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (Activity) TableName() string {
	return "activities"
}
