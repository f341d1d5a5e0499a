package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// WalletTransaction is an append-only record of a single balance change.
type WalletTransaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID               `gorm:"column:user_id;type:uuid;not null"`
	Type              enums.TransactionType   `gorm:"column:type;type:text;not null"`
	AmountCents       int64                   `gorm:"column:amount_cents;not null"`
	Source            enums.TransactionSource `gorm:"column:source;type:text;not null"`
	Description       string                  `gorm:"column:description;not null;default:''"`
	BalanceAfterCents int64                   `gorm:"column:balance_after_cents;not null"`
	OrderID           *uuid.UUID              `gorm:"column:order_id;type:uuid"`
	ActorUserID       *uuid.UUID              `gorm:"column:actor_user_id;type:uuid"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
}
