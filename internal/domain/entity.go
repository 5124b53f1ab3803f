package domain

import (
	"time"
)

// Setting is a persisted key/value row (gas tier snapshots, rate snapshots).
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
