package models

import "gorm.io/gorm"

// AssetType is an instrument class: currency, share, bond, etc.
// The table is seeded once at deploy time and referenced by instruments.
type AssetType struct {
	gorm.Model
	Name string `gorm:"uniqueIndex;not null"`
}
