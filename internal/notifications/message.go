package notifications

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/money"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
)

// ForOrderEvent builds the notification the ordering student receives for an order
// event. It returns nil for events that produce no notification.
func ForOrderEvent(eventType enums.OutboxEventType, event *payloads.OrderEvent) *models.Notification {
	if event == nil || event.UserID == uuid.Nil {
		return nil
	}
	orderID := event.OrderID
	n := &models.Notification{
		ID:      uuid.New(),
		UserID:  event.UserID,
		OrderID: &orderID,
	}

	switch eventType {
	case enums.EventOrderCreated:
		n.Type = enums.NotificationTypeOrderPlaced
		n.Title = fmt.Sprintf("Order #%d placed", event.OrderNumber)
		n.Message = fmt.Sprintf("%s for %s. Pickup token %s.", event.ItemSummary, money.Format(event.TotalCents), event.PickupToken)
	case enums.EventOrderStatusChanged:
		if event.FromStatus == enums.OrderStatusCancelled {
			n.Type = enums.NotificationTypeOrderUpdate
			n.Title = fmt.Sprintf("Order #%d reinstated", event.OrderNumber)
			n.Message = fmt.Sprintf("The cancellation could not be completed. Pickup token %s.", event.PickupToken)
			break
		}
		switch event.Status {
		case enums.OrderStatusPreparing:
			n.Type = enums.NotificationTypeOrderUpdate
			n.Title = fmt.Sprintf("Order #%d is being prepared", event.OrderNumber)
			n.Message = event.ItemSummary
		case enums.OrderStatusReady:
			n.Type = enums.NotificationTypeOrderReady
			n.Title = fmt.Sprintf("Order #%d is ready", event.OrderNumber)
			n.Message = fmt.Sprintf("Order #%d is ready for pickup, token %s.", event.OrderNumber, event.PickupToken)
		case enums.OrderStatusCompleted:
			n.Type = enums.NotificationTypeOrderUpdate
			n.Title = fmt.Sprintf("Order #%d picked up", event.OrderNumber)
			n.Message = "Enjoy your meal."
		default:
			return nil
		}
	case enums.EventOrderCancelled:
		n.Type = enums.NotificationTypeOrderCancelled
		n.Title = fmt.Sprintf("Order #%d cancelled", event.OrderNumber)
		n.Message = fmt.Sprintf("%s was refunded to your wallet.", money.Format(event.RefundCents))
	default:
		return nil
	}
	return n
}
