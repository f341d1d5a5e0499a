// Package coordinator runs the multi-step order operations that touch both an order and
// a wallet. Every step either completes or is compensated.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/internal/access"
	"github.com/angelmondragon/campusmart-backend/internal/events"
	"github.com/angelmondragon/campusmart-backend/internal/locks"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/internal/wallet"
	"github.com/angelmondragon/campusmart-backend/pkg/db"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
)

const defaultTokenAttempts = 8

var errTokenTaken = errors.New("pickup token already active in shop")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledger interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	Credit(ctx context.Context, input wallet.MutationInput) (*wallet.MutationResult, error)
	Debit(ctx context.Context, input wallet.MutationInput) (*wallet.MutationResult, error)
}

type menuReader interface {
	FindMenuItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuItem, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type eventPublisher interface {
	Publish(event events.Event, topics ...string) bool
}

// Service is the order/wallet coordinator.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	TransitionOrder(ctx context.Context, input TransitionInput) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, principal access.Principal) (*models.Order, error)
	ExpireOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// PlaceOrderInput is a student's checkout request.
type PlaceOrderInput struct {
	Principal access.Principal
	ShopID    uuid.UUID
	Lines     []orders.CartLine
}

// TransitionInput asks to move an order to Target.
type TransitionInput struct {
	OrderID   uuid.UUID
	Principal access.Principal
	Target    enums.OrderStatus
}

type ServiceParams struct {
	Orders        orders.Repository
	Wallet        ledger
	Menu          menuReader
	Tx            txRunner
	Outbox        outboxPublisher
	Events        eventPublisher
	Locks         locks.Locker
	Tokens        orders.TokenGenerator
	TokenAttempts int
	Logger        *logger.Logger
	Metrics       *metrics.OrderMetrics
	Now           func() time.Time
}

type service struct {
	orders        orders.Repository
	wallet        ledger
	menu          menuReader
	tx            txRunner
	outbox        outboxPublisher
	events        eventPublisher
	locks         locks.Locker
	tokens        orders.TokenGenerator
	tokenAttempts int
	logg          *logger.Logger
	metrics       *metrics.OrderMetrics
	now           func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Wallet == nil:
		return nil, fmt.Errorf("wallet ledger required")
	case params.Menu == nil:
		return nil, fmt.Errorf("menu reader required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Events == nil:
		return nil, fmt.Errorf("event publisher required")
	case params.Locks == nil:
		return nil, fmt.Errorf("lock table required")
	case params.Tokens == nil:
		return nil, fmt.Errorf("pickup token generator required")
	}
	attempts := params.TokenAttempts
	if attempts <= 0 {
		attempts = defaultTokenAttempts
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		orders:        params.Orders,
		wallet:        params.Wallet,
		menu:          params.Menu,
		tx:            params.Tx,
		outbox:        params.Outbox,
		events:        params.Events,
		locks:         params.Locks,
		tokens:        params.Tokens,
		tokenAttempts: attempts,
		logg:          params.Logger,
		metrics:       params.Metrics,
		now:           now,
	}, nil
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	order, err := s.placeOrder(ctx, input)
	if err != nil {
		s.metrics.IncRejection("place_order", string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	return order, nil
}

func (s *service) placeOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	principal := input.Principal
	if !principal.Can(access.CapPlaceOrder) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to place orders")
	}
	if input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}

	ids := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		ids = append(ids, line.FoodItemID)
	}
	menu, err := s.menu.FindMenuItems(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load menu items")
	}

	order, err := orders.Build(orders.BuildInput{
		UserID: principal.UserID,
		ShopID: input.ShopID,
		Lines:  input.Lines,
	}, menu, s.now())
	if err != nil {
		return nil, err
	}

	balance, err := s.wallet.GetBalance(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if balance < order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient wallet balance").
			WithDetails(map[string]any{"balance_cents": balance, "required_cents": order.TotalCents})
	}

	actorID := principal.UserID
	if _, err := s.wallet.Debit(ctx, wallet.MutationInput{
		UserID:      principal.UserID,
		AmountCents: order.TotalCents,
		Source:      enums.TransactionSourceOrderDebit,
		Description: "Food order",
		OrderID:     &order.ID,
		ActorUserID: &actorID,
	}); err != nil {
		return nil, err
	}

	// The debit is committed; from here the order is persisted or the money goes back.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.persistNewOrder(persistCtx, order, principal); err != nil {
		return nil, s.compensateDebit(persistCtx, order, err)
	}

	s.metrics.IncPlaced()
	s.logOrder(ctx, "order.placed", order, map[string]any{"pickup_token": order.PickupToken})
	s.publish(events.OrderEvent(enums.OrderEventNew, order, orders.ItemSummary(order.Items), s.now()))
	return order, nil
}

func (s *service) persistNewOrder(ctx context.Context, order *models.Order, principal access.Principal) error {
	var lastErr error
	for attempt := 0; attempt < s.tokenAttempts; attempt++ {
		token, err := s.tokens.Generate()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pickup token")
		}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.orders.WithTx(tx)
			taken, err := repo.ActivePickupTokenExists(ctx, order.ShopID, token)
			if err != nil {
				return err
			}
			if taken {
				return errTokenTaken
			}
			number, err := repo.NextOrderNumber(ctx, order.ShopID)
			if err != nil {
				return err
			}
			order.PickupToken = token
			order.OrderNumber = number
			if err := repo.Create(ctx, order); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, s.outboxEvent(enums.EventOrderCreated, order, "", principal, 0))
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, errTokenTaken) || db.IsUniqueViolation(err, "") {
			lastErr = err
			continue
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "could not allocate a pickup token, try again")
}

func (s *service) compensateDebit(ctx context.Context, order *models.Order, cause error) error {
	systemID := access.SystemUserID
	_, refundErr := s.wallet.Credit(ctx, wallet.MutationInput{
		UserID:      order.UserID,
		AmountCents: order.TotalCents,
		Source:      enums.TransactionSourceOrderRefund,
		Description: "Refund for order that could not be placed",
		OrderID:     &order.ID,
		ActorUserID: &systemID,
	})
	if refundErr == nil {
		s.metrics.IncCompensation("place_order_refund", "applied")
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "user_id": order.UserID.String(), "amount_cents": order.TotalCents})
			s.logg.Warn(logCtx, "order persistence failed; debit refunded")
		}
		return cause
	}
	return s.ledgerInconsistent(ctx, "place_order_refund", order, multierr.Combine(cause, refundErr))
}

func (s *service) TransitionOrder(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.Target == enums.OrderStatusCancelled {
		return s.CancelOrder(ctx, input.OrderID, input.Principal)
	}
	order, err := s.transition(ctx, input)
	if err != nil {
		s.metrics.IncRejection("transition_order", string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	return order, nil
}

func (s *service) transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	unlock, err := s.lockOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	writeCtx := context.WithoutCancel(ctx)

	order, err := s.loadOrder(writeCtx, input.OrderID)
	if err != nil {
		return nil, err
	}
	transition, err := orders.Authorize(order, input.Principal, input.Target)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.tx.WithTx(writeCtx, func(tx *gorm.DB) error {
		ok, err := s.orders.WithTx(tx).UpdateStatus(writeCtx, orders.StatusUpdate{
			OrderID: order.ID,
			From:    transition.From,
			To:      transition.To,
			At:      now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return lostRace(transition)
		}
		applyStatus(order, transition.To, now, nil)
		return s.outbox.Emit(writeCtx, tx, s.outboxEvent(enums.EventOrderStatusChanged, order, transition.From, input.Principal, 0))
	})
	if err != nil {
		return nil, asTyped(err, "record status change")
	}

	s.metrics.IncTransition(string(transition.From), string(transition.To))
	s.logOrder(ctx, "order.transitioned", order, map[string]any{"from": string(transition.From), "to": string(transition.To)})
	s.publish(events.OrderEvent(enums.OrderEventStatusChanged, order, orders.ItemSummary(order.Items), now))
	return order, nil
}

func (s *service) CancelOrder(ctx context.Context, orderID uuid.UUID, principal access.Principal) (*models.Order, error) {
	order, err := s.cancel(ctx, orderID, principal)
	if err != nil {
		s.metrics.IncRejection("cancel_order", string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	return order, nil
}

// ExpireOrder cancels a stale pending order on behalf of the scheduler.
func (s *service) ExpireOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.CancelOrder(ctx, orderID, access.System())
}

func (s *service) cancel(ctx context.Context, orderID uuid.UUID, principal access.Principal) (*models.Order, error) {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	writeCtx := context.WithoutCancel(ctx)

	order, err := s.loadOrder(writeCtx, orderID)
	if err != nil {
		return nil, err
	}
	transition, err := orders.Authorize(order, principal, enums.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cancelledBy := principal.UserID
	if err := s.tx.WithTx(writeCtx, func(tx *gorm.DB) error {
		ok, err := s.orders.WithTx(tx).UpdateStatus(writeCtx, orders.StatusUpdate{
			OrderID:     order.ID,
			From:        transition.From,
			To:          enums.OrderStatusCancelled,
			At:          now,
			CancelledBy: &cancelledBy,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !ok {
			return lostRace(transition)
		}
		applyStatus(order, enums.OrderStatusCancelled, now, &cancelledBy)
		return s.outbox.Emit(writeCtx, tx, s.outboxEvent(enums.EventOrderCancelled, order, transition.From, principal, order.TotalCents))
	}); err != nil {
		return nil, asTyped(err, "cancel order")
	}

	// Lock order: the order lock is held, the wallet lock is taken inside Credit.
	_, refundErr := s.wallet.Credit(writeCtx, wallet.MutationInput{
		UserID:      order.UserID,
		AmountCents: order.TotalCents,
		Source:      enums.TransactionSourceOrderRefund,
		Description: fmt.Sprintf("Refund for order #%d", order.OrderNumber),
		OrderID:     &order.ID,
		ActorUserID: &cancelledBy,
	})
	if refundErr != nil && pkgerrors.IsCode(refundErr, pkgerrors.CodeConflict) {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, order.ID), "order refund already recorded")
		}
		refundErr = nil
	}
	if refundErr != nil {
		return nil, s.restoreAfterFailedRefund(writeCtx, order, transition.From, refundErr)
	}

	s.metrics.IncTransition(string(transition.From), string(enums.OrderStatusCancelled))
	s.logOrder(ctx, "order.cancelled", order, map[string]any{
		"from":         string(transition.From),
		"cancelled_by": cancelledBy.String(),
		"refund_cents": order.TotalCents,
	})
	s.publish(events.OrderEvent(enums.OrderEventCancelled, order, orders.ItemSummary(order.Items), now))
	return order, nil
}

// restoreAfterFailedRefund puts a cancelled order back in previous and queues a
// status_changed event for it. If another order took the pickup token meanwhile, the
// order comes back with a fresh one.
func (s *service) restoreAfterFailedRefund(ctx context.Context, order *models.Order, previous enums.OrderStatus, refundErr error) error {
	at := s.now()
	token := ""
	var restoreErr error
	for attempt := 0; attempt < s.tokenAttempts; attempt++ {
		if attempt > 0 {
			if token, restoreErr = s.tokens.Generate(); restoreErr != nil {
				break
			}
		}
		restoreErr = s.restoreStatus(ctx, order, previous, token, at)
		if !db.IsUniqueViolation(restoreErr, "") {
			break
		}
	}
	if restoreErr == nil {
		s.metrics.IncCompensation("cancel_restore", "applied")
		if s.logg != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"order_id":     order.ID.String(),
				"status":       string(order.Status),
				"pickup_token": order.PickupToken,
			}), "order refund failed; status restored")
		}
		return refundErr
	}
	return s.ledgerInconsistent(ctx, "cancel_restore", order, multierr.Combine(refundErr, restoreErr))
}

func (s *service) restoreStatus(ctx context.Context, order *models.Order, previous enums.OrderStatus, token string, at time.Time) error {
	restored := *order
	restored.Status = previous
	restored.UpdatedAt = at
	restored.CancelledAt = nil
	restored.CancelledBy = nil
	if token != "" {
		restored.PickupToken = token
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.orders.WithTx(tx).UpdateStatus(ctx, orders.StatusUpdate{
			OrderID:     order.ID,
			From:        enums.OrderStatusCancelled,
			To:          previous,
			At:          at,
			PickupToken: token,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s left cancelled state before restore", order.ID)
		}
		return s.outbox.Emit(ctx, tx, s.outboxEvent(enums.EventOrderStatusChanged, &restored, enums.OrderStatusCancelled, access.System(), 0))
	})
	if err != nil {
		return err
	}
	*order = restored
	return nil
}

func (s *service) ledgerInconsistent(ctx context.Context, action string, order *models.Order, combined error) error {
	s.metrics.IncCompensation(action, "failed")
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"ledger_inconsistent": true,
			"action":              action,
			"order_id":            order.ID.String(),
			"user_id":             order.UserID.String(),
			"shop_id":             order.ShopID.String(),
			"amount_cents":        order.TotalCents,
			"errors":              len(multierr.Errors(combined)),
		})
		s.logg.Error(logCtx, "order.compensation_failed", combined)
	}
	return pkgerrors.Wrap(pkgerrors.CodeLedgerInconsistent, combined, "order and wallet are out of sync; flagged for reconciliation")
}

func (s *service) lockOrder(ctx context.Context, orderID uuid.UUID) (func(), error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	started := time.Now()
	unlock, err := s.locks.Lock(ctx, locks.OrderKey(orderID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "order is busy, try again")
	}
	s.metrics.ObserveLockWait("order", time.Since(started))
	return unlock, nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) outboxEvent(eventType enums.OutboxEventType, order *models.Order, from enums.OrderStatus, principal access.Principal, refund int64) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: principal.UserID, ShopID: principal.ShopID, Role: string(principal.Role)},
		OccurredAt:    order.UpdatedAt,
		Data: payloads.OrderEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			ShopID:      order.ShopID,
			FromStatus:  from,
			Status:      order.Status,
			PickupToken: order.PickupToken,
			TotalCents:  order.TotalCents,
			ItemSummary: orders.ItemSummary(order.Items),
			CancelledBy: order.CancelledBy,
			RefundCents: refund,
			OccurredAt:  order.UpdatedAt,
		},
	}
}

func (s *service) publish(event events.Event) {
	if !s.events.Publish(event) && s.logg != nil {
		s.logg.Warn(s.logg.WithOrderID(context.Background(), event.OrderID), "live order event dropped")
	}
}

func (s *service) logOrder(ctx context.Context, msg string, order *models.Order, extra map[string]any) {
	if s.logg == nil {
		return
	}
	fields := map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"shop_id":      order.ShopID.String(),
		"user_id":      order.UserID.String(),
		"status":       string(order.Status),
		"total_cents":  order.TotalCents,
	}
	for k, v := range extra {
		fields[k] = v
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

func applyStatus(order *models.Order, status enums.OrderStatus, at time.Time, cancelledBy *uuid.UUID) {
	order.Status = status
	order.UpdatedAt = at
	switch status {
	case enums.OrderStatusCompleted:
		order.CompletedAt = &at
	case enums.OrderStatusCancelled:
		order.CancelledAt = &at
		order.CancelledBy = cancelledBy
	}
}

func lostRace(transition *orders.Transition) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order changed concurrently").
		WithDetails(map[string]any{"from": string(transition.From), "to": string(transition.To)})
}

func asTyped(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
