// Package query serves read-only views of orders. Reads always come from the store,
// never from event payloads.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/internal/access"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/money"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

type shopChecker interface {
	ShopExists(ctx context.Context, shopID uuid.UUID) (bool, error)
}

// HistoryFilter scopes order history to exactly one of a user or a shop.
type HistoryFilter struct {
	UserID *uuid.UUID
	ShopID *uuid.UUID
}

// Service is the read side of the order engine.
type Service interface {
	GetOrder(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*OrderView, error)
	GetActiveOrders(ctx context.Context, principal access.Principal, shopID uuid.UUID) ([]OrderView, error)
	GetMyActiveOrders(ctx context.Context, principal access.Principal) ([]OrderView, error)
	GetOrderHistory(ctx context.Context, principal access.Principal, filter HistoryFilter, params pagination.Params) (*OrderList, error)
	GetShopStats(ctx context.Context, principal access.Principal, shopID uuid.UUID, since time.Time) (*ShopStats, error)
}

type ServiceParams struct {
	Orders orders.Repository
	Shops  shopChecker
	Now    func() time.Time
}

type service struct {
	orders orders.Repository
	shops  shopChecker
	now    func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Shops == nil {
		return nil, fmt.Errorf("shop checker required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{orders: params.Orders, shops: params.Shops, now: now}, nil
}

// GetOrder returns the order if the principal owns it or may view its shop. Orders the
// caller cannot see are reported as missing.
func (s *service) GetOrder(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*OrderView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.UserID != principal.UserID && !principal.CanViewShop(order.ShopID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	view := NewOrderView(order)
	return &view, nil
}

func (s *service) GetActiveOrders(ctx context.Context, principal access.Principal, shopID uuid.UUID) ([]OrderView, error) {
	if err := s.authorizeShop(ctx, principal, shopID); err != nil {
		return nil, err
	}
	rows, err := s.orders.ListActiveByShop(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active orders")
	}
	return newOrderViews(rows), nil
}

func (s *service) GetMyActiveOrders(ctx context.Context, principal access.Principal) ([]OrderView, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	rows, err := s.orders.ListActiveByUser(ctx, principal.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active orders")
	}
	return newOrderViews(rows), nil
}

// GetOrderHistory lists completed and cancelled orders newest first. Users read their
// own history; shop history needs view access to the shop.
func (s *service) GetOrderHistory(ctx context.Context, principal access.Principal, filter HistoryFilter, params pagination.Params) (*OrderList, error) {
	if (filter.UserID == nil) == (filter.ShopID == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of user or shop is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.LimitWithBuffer(params.Limit)

	var rows []models.Order
	if filter.UserID != nil {
		if *filter.UserID != principal.UserID && principal.Role != enums.RoleAdmin {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cannot view another user's orders")
		}
		rows, err = s.orders.ListHistoryByUser(ctx, *filter.UserID, cursor, limit)
	} else {
		if err := s.authorizeShop(ctx, principal, *filter.ShopID); err != nil {
			return nil, err
		}
		rows, err = s.orders.ListHistoryByShop(ctx, *filter.ShopID, cursor, limit)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order history")
	}

	page := pagination.BuildPage(rows, params.Limit, func(order models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: order.CreatedAt, ID: order.ID}
	})
	return &OrderList{Orders: newOrderViews(page.Items), NextCursor: page.NextCursor}, nil
}

// GetShopStats counts the shop's orders per status and sums completed revenue since the
// given time. A zero since means the start of the current UTC day.
func (s *service) GetShopStats(ctx context.Context, principal access.Principal, shopID uuid.UUID, since time.Time) (*ShopStats, error) {
	if err := s.authorizeShop(ctx, principal, shopID); err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = StartOfDay(s.now())
	}
	since = since.UTC()

	counts, err := s.orders.CountByStatus(ctx, shopID, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count orders")
	}
	revenue, err := s.orders.SumCompletedSince(ctx, shopID, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum completed orders")
	}

	stats := &ShopStats{
		ShopID:                  shopID,
		Since:                   since,
		Counts:                  make(map[enums.OrderStatus]int64, 5),
		CompletedRevenueCents:   revenue,
		CompletedRevenueDisplay: money.Format(revenue),
	}
	for _, status := range append(append([]enums.OrderStatus{}, enums.ActiveOrderStatuses...), enums.TerminalOrderStatuses...) {
		stats.Counts[status] = counts[status]
	}
	for _, status := range enums.ActiveOrderStatuses {
		stats.Active += counts[status]
	}
	return stats, nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *service) authorizeShop(ctx context.Context, principal access.Principal, shopID uuid.UUID) error {
	if shopID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if !principal.CanViewShop(shopID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "cannot view this shop's orders")
	}
	exists, err := s.shops.ShopExists(ctx, shopID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	if !exists {
		return pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
	}
	return nil
}
