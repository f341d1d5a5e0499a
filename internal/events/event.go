package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/money"
)

// Event tells subscribers an order changed. It is a snapshot, not the source of truth.
type Event struct {
	EventType    enums.OrderEventType `json:"event_type"`
	OrderID      uuid.UUID            `json:"order_id"`
	OrderNumber  int64                `json:"order_number"`
	ShopID       uuid.UUID            `json:"shop_id"`
	UserID       uuid.UUID            `json:"user_id"`
	Status       enums.OrderStatus    `json:"status"`
	PickupToken  string               `json:"pickup_token"`
	Total        int64                `json:"total_cents"`
	TotalDisplay string               `json:"total_display"`
	ItemSummary  string               `json:"item_summary"`
	Timestamp    time.Time            `json:"timestamp"`
}

// OrderEvent snapshots order for a live event.
func OrderEvent(eventType enums.OrderEventType, order *models.Order, itemSummary string, at time.Time) Event {
	return Event{
		EventType:    eventType,
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		ShopID:       order.ShopID,
		UserID:       order.UserID,
		Status:       order.Status,
		PickupToken:  order.PickupToken,
		Total:        order.TotalCents,
		TotalDisplay: money.Format(order.TotalCents),
		ItemSummary:  itemSummary,
		Timestamp:    at,
	}
}

// Topics returns the shop and user topics an order event goes to.
func (e Event) Topics() []string {
	return []string{ShopTopic(e.ShopID), UserTopic(e.UserID)}
}
