package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// OrderEvent is the data carried by every order outbox event. FromStatus is empty for order_created.
type OrderEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber int64             `json:"order_number"`
	UserID      uuid.UUID         `json:"user_id"`
	ShopID      uuid.UUID         `json:"shop_id"`
	FromStatus  enums.OrderStatus `json:"from_status,omitempty"`
	Status      enums.OrderStatus `json:"status"`
	PickupToken string            `json:"pickup_token"`
	TotalCents  int64             `json:"total_cents"`
	ItemSummary string            `json:"item_summary"`
	CancelledBy *uuid.UUID        `json:"cancelled_by,omitempty"`
	RefundCents int64             `json:"refund_cents,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
