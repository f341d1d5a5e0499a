package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// User mirrors the identity row owned by the auth service. The engine only reads it.
type User struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Email       string     `gorm:"column:email;type:text;not null;uniqueIndex"`
	DisplayName string     `gorm:"column:display_name;not null"`
	Role        enums.Role `gorm:"column:role;type:text;not null"`
	ShopID      *uuid.UUID `gorm:"column:shop_id;type:uuid"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
