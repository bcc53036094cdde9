package db

import (
	"polypaper/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Portfolio{},
		&models.Order{},
		&models.Activity{},
		&models.AdvisoryCall{},
		&models.SchedulerState{},
		&models.BalancePoint{},
	)
}
