package enums

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationTypeOrderPlaced    NotificationType = "order_placed"
	NotificationTypeOrderUpdate    NotificationType = "order_update"
	NotificationTypeOrderReady     NotificationType = "order_ready"
	NotificationTypeOrderCancelled NotificationType = "order_cancelled"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderPlaced,
	NotificationTypeOrderUpdate,
	NotificationTypeOrderReady,
	NotificationTypeOrderCancelled,
}

// IsValid checks whether the given type matches a known notification type.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}
