package enums

// OrderEventType classifies live order events fanned out to subscribers.
type OrderEventType string

const (
	OrderEventNew           OrderEventType = "new"
	OrderEventStatusChanged OrderEventType = "status_changed"
	OrderEventCancelled     OrderEventType = "cancelled"
)

func (t OrderEventType) String() string {
	return string(t)
}
