package models

import (
	"time"
)

// CacheEntry is a row in the SQL-backed cache. ExpiresAt is the logical expiry;
// PurgeAt is when the row stops being readable and may be pruned.
type CacheEntry struct {
	Key       string     `gorm:"primaryKey;size:256"`
	Value     []byte     `gorm:"not null"`
	ExpiresAt time.Time  `gorm:"index"`
	PurgeAt   *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
