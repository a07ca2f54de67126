package models

import "time"

// RateLimitCounter backs the HTTP rate limiter so limits hold across replicas.
type RateLimitCounter struct {
	Key       string    `gorm:"primaryKey;column:counter_key;type:varchar(255)"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"` // zero means no expiry
}
