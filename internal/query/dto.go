package query

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/money"
)

// OrderItemView is a priced order line as returned to clients.
type OrderItemView struct {
	FoodItemID       uuid.UUID `json:"food_item_id"`
	Name             string    `json:"name"`
	Quantity         int       `json:"quantity"`
	UnitPriceCents   int64     `json:"unit_price_cents"`
	UnitPriceDisplay string    `json:"unit_price_display"`
	LineTotalCents   int64     `json:"line_total_cents"`
	LineTotalDisplay string    `json:"line_total_display"`
}

// OrderView is the authoritative order snapshot returned by reads and mutations.
type OrderView struct {
	ID           uuid.UUID           `json:"id"`
	OrderNumber  int64               `json:"order_number"`
	UserID       uuid.UUID           `json:"user_id"`
	ShopID       uuid.UUID           `json:"shop_id"`
	Status       enums.OrderStatus   `json:"status"`
	PickupToken  string              `json:"pickup_token"`
	TotalCents   int64               `json:"total_cents"`
	TotalDisplay string              `json:"total_display"`
	ItemSummary  string              `json:"item_summary"`
	Items        []OrderItemView     `json:"items"`
	NextStatuses []enums.OrderStatus `json:"next_statuses"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	CancelledAt  *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy  *uuid.UUID          `json:"cancelled_by,omitempty"`
}

// OrderList wraps a page of order history plus the cursor for the next page.
type OrderList struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// ShopStats summarises a shop's board since a point in time.
type ShopStats struct {
	ShopID                  uuid.UUID                   `json:"shop_id"`
	Since                   time.Time                   `json:"since"`
	Counts                  map[enums.OrderStatus]int64 `json:"counts"`
	Active                  int64                       `json:"active"`
	CompletedRevenueCents   int64                       `json:"completed_revenue_cents"`
	CompletedRevenueDisplay string                      `json:"completed_revenue_display"`
}

// NewOrderView converts a stored order into its client representation.
func NewOrderView(order *models.Order) OrderView {
	items := make([]OrderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemView{
			FoodItemID:       item.FoodItemID,
			Name:             item.Name,
			Quantity:         item.Quantity,
			UnitPriceCents:   item.UnitPriceCents,
			UnitPriceDisplay: money.Format(item.UnitPriceCents),
			LineTotalCents:   item.LineTotalCents,
			LineTotalDisplay: money.Format(item.LineTotalCents),
		})
	}
	next := orders.NextStatuses(order.Status)
	if next == nil {
		next = []enums.OrderStatus{}
	}
	return OrderView{
		ID:           order.ID,
		OrderNumber:  order.OrderNumber,
		UserID:       order.UserID,
		ShopID:       order.ShopID,
		Status:       order.Status,
		PickupToken:  order.PickupToken,
		TotalCents:   order.TotalCents,
		TotalDisplay: money.Format(order.TotalCents),
		ItemSummary:  orders.ItemSummary(order.Items),
		Items:        items,
		NextStatuses: next,
		CreatedAt:    order.CreatedAt,
		CompletedAt:  order.CompletedAt,
		CancelledAt:  order.CancelledAt,
		CancelledBy:  order.CancelledBy,
	}
}

func newOrderViews(rows []models.Order) []OrderView {
	out := make([]OrderView, 0, len(rows))
	for i := range rows {
		out = append(out, NewOrderView(&rows[i]))
	}
	return out
}
