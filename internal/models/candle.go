package models

import "time"

// Candle is a historical pricing datum for an instrument.
// Field order follows the broker's history CSV files: open, close, high, low.
type Candle struct {
	InstrumentID uint      `gorm:"primaryKey"`
	Timestamp    time.Time `gorm:"primaryKey"`
	Open         float64
	Close        float64
	High         float64
	Low          float64
	Volume       int64
}
