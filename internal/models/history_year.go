package models

import "gorm.io/gorm"

// HistoryYear statuses.
const (
	HistoryYearPending  = "pending"
	HistoryYearComplete = "complete"
)

// HistoryYear tracks download progress for one instrument-year of candle
// history. A year is complete only when every candle the broker has for it
// is persisted; the current calendar year stays pending because it is still
// accumulating candles.
type HistoryYear struct {
	gorm.Model
	InstrumentID uint   `gorm:"uniqueIndex:idx_instrument_year;not null"`
	Year         int    `gorm:"uniqueIndex:idx_instrument_year;not null"`
	Status       string `gorm:"not null;default:pending"`
}
