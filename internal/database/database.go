package database

import (
	"fmt"

	"tinkoff-trading-bot-go/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// AssetTypes are the instrument classes served by the broker API. They are
// seeded into the asset_types table at deploy time.
var AssetTypes = []string{
	"bond",
	"currency",
	"etf",
	"future",
	"option",
	"share",
}

// NewDatabase opens a PostgreSQL connection.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Deploy creates or updates the schema and seeds static data.
// It never drops existing data and is safe to run repeatedly.
func Deploy(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.AssetType{}, &models.Instrument{}, &models.Candle{}, &models.HistoryYear{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	for _, name := range AssetTypes {
		assetType := models.AssetType{Name: name}
		if err := db.FirstOrCreate(&assetType, models.AssetType{Name: name}).Error; err != nil {
			return fmt.Errorf("failed to seed asset type '%s': %w", name, err)
		}
	}

	return nil
}

// Reset drops all tables and redeploys the schema. Candles and download
// progress are lost; instruments and history must be downloaded again.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&models.Candle{}, &models.HistoryYear{}, &models.Instrument{}, &models.AssetType{}); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	return Deploy(db)
}
