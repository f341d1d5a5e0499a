package models

import (
	"time"

	"github.com/google/uuid"
)

// Shop is a campus food vendor.
type Shop struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	IsOpen    bool      `gorm:"column:is_open;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
