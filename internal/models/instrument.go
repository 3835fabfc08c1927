package models

import (
	"time"

	"gorm.io/gorm"
)

// Instrument is a single currency, share, bond, etc. The broker-assigned UID
// is stable across metadata updates and is the upsert key.
type Instrument struct {
	gorm.Model
	UID                 string `gorm:"uniqueIndex;not null"`
	FIGI                string
	Name                string
	AssetTypeID         uint
	Lot                 int32
	First1MinCandleDate time.Time `gorm:"column:first_1min_candle_date"`
	First1DayCandleDate time.Time `gorm:"column:first_1day_candle_date"`
	ForQualInvestorFlag bool
}
