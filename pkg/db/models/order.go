package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// Order is a student's food order against a single shop. TotalCents is fixed at placement.
type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID      uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	ShopID      uuid.UUID         `gorm:"column:shop_id;type:uuid;not null"`
	OrderNumber int64             `gorm:"column:order_number;not null"`
	Status      enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	PickupToken string            `gorm:"column:pickup_token;not null"`
	TotalCents  int64             `gorm:"column:total_cents;not null"`
	Items       []OrderItem       `gorm:"foreignKey:OrderID"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt *time.Time        `gorm:"column:completed_at"`
	CancelledAt *time.Time        `gorm:"column:cancelled_at"`
	CancelledBy *uuid.UUID        `gorm:"column:cancelled_by;type:uuid"`
}

// OrderItem is a priced line of an order. Prices are snapshotted at placement.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	FoodItemID     uuid.UUID `gorm:"column:food_item_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	LineTotalCents int64     `gorm:"column:line_total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
