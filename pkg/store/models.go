package store

import (
	"time"

	"gorm.io/datatypes"
)

// documentRow is the shared table layout of every collection. The full
// document lives in Body; the other columns exist for ordering and filters.
type documentRow struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	Title     string         `gorm:"size:512"`
	Category  string         `gorm:"size:128"`
	ScriptID  int64          `gorm:"not null;default:0"`
	Body      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}
