package models

import (
	"time"

	"github.com/google/uuid"
)

// MenuItem is a purchasable food item. Prices are in minor units.
type MenuItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ShopID      uuid.UUID `gorm:"column:shop_id;type:uuid;not null"`
	Name        string    `gorm:"column:name;not null"`
	PriceCents  int64     `gorm:"column:price_cents;not null"`
	IsAvailable bool      `gorm:"column:is_available;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
