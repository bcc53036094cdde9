package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AdvisoryCall records usage and cost of one provider call, kept regardless
// of whether any recommendation survived normalization.
type AdvisoryCall struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider string `gorm:"type:varchar(40);not null;index" json:"provider"`
	Model    string `gorm:"type:varchar(80)" json:"model"`

	InputTokens  int             `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens int             `gorm:"not null;default:0" json:"output_tokens"`
	CostUSD      decimal.Decimal `gorm:"column:cost_usd;type:numeric(20,10);not null;default:0" json:"cost_usd"`
	LatencyMs    int64           `gorm:"not null;default:0" json:"latency_ms"`

	BatchSize       int `gorm:"not null;default:0" json:"batch_size"`
	Recommendations int `gorm:"not null;default:0" json:"recommendations"`
	Skipped         int `gorm:"not null;default:0" json:"skipped"`

	// Raw keeps the provider transcript for later review.
	Raw datatypes.JSON `gorm:"type:jsonb" json:"raw,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (AdvisoryCall) TableName() string {
	return "advisory_calls"
}
