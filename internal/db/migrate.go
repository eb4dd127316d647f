package db

import (
	"tripledash/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Candle{},
		&models.BuyRecord{},
		&models.SellRecord{},
		&models.PriceAlert{},
		&models.SMSLog{},
		&models.SystemSetting{},
	)
}
