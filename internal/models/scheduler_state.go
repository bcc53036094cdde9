package models

import (
	"time"

	"gorm.io/datatypes"
)

// SchedulerState is a key-value row holding cross-invocation orchestrator
// state. The trading cycle has no memory of its own: the lock, throttle
// timestamp and analyzed-market cache are read at invocation start and
// written at invocation end.
type SchedulerState struct {
	Key       string         `gorm:"primaryKey;type:varchar(120)"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SchedulerState) TableName() string {
	return "scheduler_state"
}

// Scheduler state keys.
const (
	SchedulerKeyLock       = "cycle.lock"
	SchedulerKeyLastAutoAt = "cycle.last_auto_at"
	SchedulerKeyAnalyzed   = "cycle.analyzed"
	SchedulerKeyAnalyzing  = "cycle.analyzing"
)

// CycleLock is the serialized value under SchedulerKeyLock.
type CycleLock struct {
	Locked     bool      `json:"locked"`
	AcquiredAt time.Time `json:"acquired_at"`
}
