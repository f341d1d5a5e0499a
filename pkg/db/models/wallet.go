package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's spendable balance. BalanceCents never goes below zero.
type Wallet struct {
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0"`
	Version      int64     `gorm:"column:version;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
