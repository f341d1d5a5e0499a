package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/internal/access"
	"github.com/angelmondragon/campusmart-backend/internal/catalog"
	"github.com/angelmondragon/campusmart-backend/internal/events"
	"github.com/angelmondragon/campusmart-backend/internal/locks"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/internal/wallet"
	"github.com/angelmondragon/campusmart-backend/pkg/db"
	"github.com/angelmondragon/campusmart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
)

type fixture struct {
	svc     Service
	client  *db.Client
	conn    *gorm.DB
	ledger  wallet.Service
	dist    *events.Distributor
	locks   *locks.Table
	shop    models.Shop
	student access.Principal
	staff   access.Principal
	wrap    models.MenuItem
	juice   models.MenuItem
}

type sequenceTokens struct {
	mu     sync.Mutex
	tokens []string
	calls  int
}

func (g *sequenceTokens) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.calls
	if idx >= len(g.tokens) {
		idx = len(g.tokens) - 1
	}
	g.calls++
	return g.tokens[idx], nil
}

type failingOutbox struct{}

func (failingOutbox) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox table unavailable")
}

type flakyLedger struct {
	wallet.Service
	creditErr    error
	beforeCredit func()
}

func (f flakyLedger) Credit(context.Context, wallet.MutationInput) (*wallet.MutationResult, error) {
	if f.beforeCredit != nil {
		f.beforeCredit()
	}
	return nil, f.creditErr
}

// blindRepo hides active tokens from the pre-check so only the unique index catches collisions.
type blindRepo struct {
	orders.Repository
}

func (r blindRepo) WithTx(tx *gorm.DB) orders.Repository {
	return blindRepo{r.Repository.WithTx(tx)}
}

func (r blindRepo) ActivePickupTokenExists(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}

type stuckRestoreRepo struct {
	orders.Repository
}

func (r stuckRestoreRepo) WithTx(tx *gorm.DB) orders.Repository {
	return stuckRestoreRepo{r.Repository.WithTx(tx)}
}

func (r stuckRestoreRepo) UpdateStatus(ctx context.Context, update orders.StatusUpdate) (bool, error) {
	if update.From == enums.OrderStatusCancelled {
		return false, errors.New("connection reset")
	}
	return r.Repository.UpdateStatus(ctx, update)
}

func newFixture(t *testing.T, balance int64, overrides ...func(*ServiceParams)) fixture {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	table := locks.NewTable()

	ledger, err := wallet.NewService(wallet.ServiceParams{Repo: wallet.NewRepository(conn), Tx: client, Locks: table})
	require.NoError(t, err)

	dist := events.NewDistributor(events.Params{})
	ctx, cancel := context.WithCancel(context.Background())
	dist.Start(ctx)
	t.Cleanup(func() {
		cancel()
		dist.Stop()
	})

	tokens, err := orders.NewTokenGenerator(4)
	require.NoError(t, err)

	params := ServiceParams{
		Orders: orders.NewRepository(conn),
		Wallet: ledger,
		Menu:   catalog.NewRepository(conn),
		Tx:     client,
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
		Events: dist,
		Locks:  table,
		Tokens: tokens,
	}
	for _, override := range overrides {
		override(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)

	shop := dbtest.SeedShop(t, conn, "Library Kiosk")
	shopID := shop.ID
	studentUser := dbtest.SeedUser(t, conn, enums.RoleStudent, nil)
	staffUser := dbtest.SeedUser(t, conn, enums.RoleStaff, &shopID)
	dbtest.SeedWallet(t, conn, studentUser.ID, balance)

	return fixture{
		svc:     svc,
		client:  client,
		conn:    conn,
		ledger:  ledger,
		dist:    dist,
		locks:   table,
		shop:    shop,
		student: access.Principal{UserID: studentUser.ID, Role: enums.RoleStudent},
		staff:   access.Principal{UserID: staffUser.ID, Role: enums.RoleStaff, ShopID: &shopID},
		wrap:    dbtest.SeedMenuItem(t, conn, shop.ID, "Wrap", 40, true),
		juice:   dbtest.SeedMenuItem(t, conn, shop.ID, "Juice", 20, true),
	}
}

// sixty is a cart of one wrap and one juice, 60 cents.
func (f fixture) sixty() PlaceOrderInput {
	return PlaceOrderInput{
		Principal: f.student,
		ShopID:    f.shop.ID,
		Lines: []orders.CartLine{
			{FoodItemID: f.wrap.ID, Quantity: 1},
			{FoodItemID: f.juice.ID, Quantity: 1},
		},
	}
}

func (f fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), f.student.UserID)
	require.NoError(t, err)
	return b
}

func (f fixture) transactions(t *testing.T) []models.WalletTransaction {
	t.Helper()
	var rows []models.WalletTransaction
	require.NoError(t, f.conn.Where("user_id = ?", f.student.UserID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (f fixture) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(model).Count(&count).Error)
	return count
}

func (f fixture) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (f fixture) refunds(t *testing.T) []models.WalletTransaction {
	t.Helper()
	var out []models.WalletTransaction
	for _, tx := range f.transactions(t) {
		if tx.Source == enums.TransactionSourceOrderRefund {
			out = append(out, tx)
		}
	}
	return out
}

func (f fixture) reload(t *testing.T, orderID uuid.UUID) *models.Order {
	t.Helper()
	order, err := orders.NewRepository(f.conn).FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func TestPlaceOrderInsufficientBalanceCreatesNothing(t *testing.T) {
	f := newFixture(t, 59)

	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.Nil(t, order)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance), "got %v", err)

	require.Zero(t, f.countRows(t, &models.Order{}))
	require.Zero(t, f.countRows(t, &models.WalletTransaction{}))
	require.Zero(t, f.countRows(t, &models.OutboxEvent{}))
	require.Equal(t, int64(59), f.balance(t))
}

func TestPlaceOrderDebitsOnceAndPublishes(t *testing.T) {
	f := newFixture(t, 100)
	sub, err := f.dist.Subscribe(context.Background(), events.ShopTopic(f.shop.ID))
	require.NoError(t, err)

	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, int64(60), order.TotalCents)
	require.Equal(t, int64(1), order.OrderNumber)
	require.Len(t, order.PickupToken, 4)

	require.Equal(t, int64(40), f.balance(t))
	txs := f.transactions(t)
	require.Len(t, txs, 1)
	require.Equal(t, enums.TransactionTypeDebit, txs[0].Type)
	require.Equal(t, enums.TransactionSourceOrderDebit, txs[0].Source)
	require.Equal(t, int64(60), txs[0].AmountCents)
	require.Equal(t, order.ID, *txs[0].OrderID)

	require.Equal(t, int64(1), f.countRows(t, &models.Order{}))
	require.Equal(t, int64(2), f.countRows(t, &models.OrderItem{}))
	var outboxRows []models.OutboxEvent
	require.NoError(t, f.conn.Find(&outboxRows).Error)
	require.Len(t, outboxRows, 1)
	require.Equal(t, enums.EventOrderCreated, outboxRows[0].EventType)
	require.Equal(t, order.ID, outboxRows[0].AggregateID)

	select {
	case ev := <-sub.Events():
		require.Equal(t, enums.OrderEventNew, ev.EventType)
		require.Equal(t, order.ID, ev.OrderID)
		require.Equal(t, "0.60", ev.TotalDisplay)
		require.Equal(t, "1x Wrap, 1x Juice", ev.ItemSummary)
	case <-time.After(time.Second):
		t.Fatal("no new-order event")
	}
}

func TestPlaceOrderRequiresStudent(t *testing.T) {
	f := newFixture(t, 100)
	input := f.sixty()
	input.Principal = f.staff
	_, err := f.svc.PlaceOrder(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	input = f.sixty()
	input.Lines = nil
	_, err = f.svc.PlaceOrder(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyCart))
	require.Zero(t, f.countRows(t, &models.WalletTransaction{}))
}

func TestCancelRefundsExactlyOnce(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID, f.student)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, f.student.UserID, *cancelled.CancelledBy)
	require.Equal(t, int64(100), f.balance(t))

	_, err = f.svc.CancelOrder(context.Background(), order.ID, f.student)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
	_, err = f.svc.CancelOrder(context.Background(), order.ID, f.staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
	require.Equal(t, int64(100), f.balance(t))

	var refunds []models.WalletTransaction
	for _, tx := range f.transactions(t) {
		if tx.Source == enums.TransactionSourceOrderRefund {
			refunds = append(refunds, tx)
		}
	}
	require.Len(t, refunds, 1)
	require.Equal(t, int64(60), refunds[0].AmountCents)
	require.Equal(t, enums.TransactionTypeCredit, refunds[0].Type)

	var cancelledEvents int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderCancelled).Count(&cancelledEvents).Error)
	require.Equal(t, int64(1), cancelledEvents)
}

func TestConcurrentCancelsRefundOnce(t *testing.T) {
	f := newFixture(t, 100)
	for i := 0; i < 10; i++ {
		order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for j, who := range []access.Principal{f.student, f.staff} {
			wg.Add(1)
			go func(j int, who access.Principal) {
				defer wg.Done()
				_, results[j] = f.svc.CancelOrder(context.Background(), order.ID, who)
			}(j, who)
		}
		wg.Wait()

		failures := 0
		for _, err := range results {
			if err != nil {
				failures++
				assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "loser got %v", err)
			}
		}
		require.Equal(t, 1, failures)
		require.Equal(t, int64(100), f.balance(t))
		require.Len(t, f.refunds(t), i+1)
	}
	require.Equal(t, int64(10), f.outboxCount(t, enums.EventOrderCancelled))
}

func TestMenuPriceChangeKeepsOrderSnapshot(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&models.MenuItem{}).Where("id = ?", f.wrap.ID).Update("price_cents", 90).Error)

	stored := f.reload(t, order.ID)
	require.Equal(t, int64(60), stored.TotalCents)
	for _, item := range stored.Items {
		if item.FoodItemID == f.wrap.ID {
			require.Equal(t, int64(40), item.UnitPriceCents)
			require.Equal(t, int64(40), item.LineTotalCents)
		}
	}

	_, err = f.svc.CancelOrder(context.Background(), order.ID, f.student)
	require.NoError(t, err)
	require.Equal(t, int64(100), f.balance(t))
	refunds := f.refunds(t)
	require.Len(t, refunds, 1)
	require.Equal(t, int64(60), refunds[0].AmountCents)
}

func TestFullLifecycleKeepsDebit(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	for _, target := range []enums.OrderStatus{enums.OrderStatusPreparing, enums.OrderStatusReady, enums.OrderStatusCompleted} {
		updated, err := f.svc.TransitionOrder(context.Background(), TransitionInput{OrderID: order.ID, Principal: f.staff, Target: target})
		require.NoError(t, err)
		require.Equal(t, target, updated.Status)
	}

	require.Equal(t, int64(40), f.balance(t))
	require.Len(t, f.transactions(t), 1)
	completed := f.reload(t, order.ID)
	require.NotNil(t, completed.CompletedAt)

	// Nothing leaves completed.
	shopID := f.shop.ID
	admin := access.Principal{UserID: uuid.New(), Role: enums.RoleAdmin}
	accountant := access.Principal{UserID: uuid.New(), Role: enums.RoleAccountant}
	otherStaff := access.Principal{UserID: uuid.New(), Role: enums.RoleStaff, ShopID: &shopID}
	for _, who := range []access.Principal{f.student, f.staff, otherStaff, admin, accountant, access.System()} {
		for _, target := range []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusPreparing, enums.OrderStatusReady, enums.OrderStatusCancelled} {
			_, err := f.svc.TransitionOrder(context.Background(), TransitionInput{OrderID: order.ID, Principal: who, Target: target})
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "%s -> %s: %v", who.Role, target, err)
		}
	}
	require.Equal(t, int64(40), f.balance(t))
	require.Equal(t, enums.OrderStatusCompleted, f.reload(t, order.ID).Status)
}

func TestCancelWhilePendingRestoresBalance(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	_, err = f.svc.TransitionOrder(context.Background(), TransitionInput{OrderID: order.ID, Principal: f.student, Target: enums.OrderStatusCancelled})
	require.NoError(t, err)
	require.Equal(t, int64(100), f.balance(t))

	txs := f.transactions(t)
	require.Len(t, txs, 2)
	require.Equal(t, enums.TransactionSourceOrderRefund, txs[1].Source)
	require.Equal(t, int64(60), txs[1].AmountCents)
	require.Equal(t, int64(100), txs[1].BalanceAfterCents)
}

func TestConcurrentAdvanceHasOneWinner(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.TransitionOrder(context.Background(), TransitionInput{OrderID: order.ID, Principal: f.staff, Target: enums.OrderStatusPreparing})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "loser got %v", err)
	}
	require.Equal(t, 1, wins)
	require.Equal(t, enums.OrderStatusPreparing, f.reload(t, order.ID).Status)
}

func TestOrderLockTimeoutHasNoSideEffects(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	unlock, err := f.locks.Lock(context.Background(), locks.OrderKey(order.ID))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, Principal: f.staff, Target: enums.OrderStatusPreparing})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTimeout))
	_, err = f.svc.CancelOrder(ctx, order.ID, f.student)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTimeout))
	unlock()

	require.Equal(t, enums.OrderStatusPending, f.reload(t, order.ID).Status)
	require.Equal(t, int64(40), f.balance(t))
	require.Len(t, f.transactions(t), 1)
}

func TestPlaceOrderCompensatesWhenPersistenceFails(t *testing.T) {
	f := newFixture(t, 100, func(p *ServiceParams) { p.Outbox = failingOutbox{} })

	_, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)

	require.Equal(t, int64(100), f.balance(t))
	require.Zero(t, f.countRows(t, &models.Order{}))
	txs := f.transactions(t)
	require.Len(t, txs, 2)
	require.Equal(t, enums.TransactionSourceOrderDebit, txs[0].Source)
	require.Equal(t, enums.TransactionSourceOrderRefund, txs[1].Source)
	require.Equal(t, *txs[0].OrderID, *txs[1].OrderID)
}

func TestPlaceOrderLedgerInconsistentWhenCompensationFails(t *testing.T) {
	f := newFixture(t, 100, func(p *ServiceParams) {
		p.Outbox = failingOutbox{}
		p.Wallet = flakyLedger{Service: p.Wallet.(wallet.Service), creditErr: pkgerrors.New(pkgerrors.CodeDependency, "ledger offline")}
	})

	_, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLedgerInconsistent), "got %v", err)
	require.Len(t, multierr.Errors(errors.Unwrap(err)), 2)
	require.Equal(t, int64(40), f.balance(t))
}

func TestCancelRestoresStatusWhenRefundFails(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Orders: orders.NewRepository(f.conn),
		Wallet: flakyLedger{Service: f.ledger, creditErr: pkgerrors.New(pkgerrors.CodeDependency, "ledger offline")},
		Menu:   catalog.NewRepository(f.conn),
		Tx:     f.client,
		Outbox: outbox.NewService(outbox.NewRepository(f.conn), nil),
		Events: f.dist,
		Locks:  f.locks,
		Tokens: &sequenceTokens{tokens: []string{"ZZZZ"}},
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), order.ID, f.staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
	restored := f.reload(t, order.ID)
	require.Equal(t, enums.OrderStatusPending, restored.Status)
	require.Equal(t, order.PickupToken, restored.PickupToken)
	require.Nil(t, restored.CancelledAt)
	require.Equal(t, int64(40), f.balance(t))

	// The cancellation and its reversal are both on the durable feed.
	require.Equal(t, int64(1), f.outboxCount(t, enums.EventOrderCancelled))
	require.Equal(t, int64(1), f.outboxCount(t, enums.EventOrderStatusChanged))
	var reversal models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", enums.EventOrderStatusChanged).First(&reversal).Error)
	envelope, _, err := outbox.DecodeEnvelope(reversal.Payload)
	require.NoError(t, err)
	require.Contains(t, string(envelope.Data), `"from_status":"cancelled"`)
	require.Contains(t, string(envelope.Data), `"status":"pending"`)
}

func TestCancelRestoreTakesFreshTokenWhenReused(t *testing.T) {
	f := newFixture(t, 200, func(p *ServiceParams) { p.Tokens = &sequenceTokens{tokens: []string{"AAAA"}} })
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)
	require.Equal(t, "AAAA", order.PickupToken)

	var reused *models.Order
	svc, err := NewService(ServiceParams{
		Orders: orders.NewRepository(f.conn),
		Wallet: flakyLedger{
			Service:   f.ledger,
			creditErr: pkgerrors.New(pkgerrors.CodeDependency, "ledger offline"),
			beforeCredit: func() {
				// While the first order sits cancelled its token is free for the shop.
				placed, err := f.svc.PlaceOrder(context.Background(), f.sixty())
				require.NoError(t, err)
				reused = placed
			},
		},
		Menu:   catalog.NewRepository(f.conn),
		Tx:     f.client,
		Outbox: outbox.NewService(outbox.NewRepository(f.conn), nil),
		Events: f.dist,
		Locks:  f.locks,
		Tokens: &sequenceTokens{tokens: []string{"QQQQ"}},
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), order.ID, f.staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
	require.NotNil(t, reused)
	require.Equal(t, "AAAA", reused.PickupToken)

	restored := f.reload(t, order.ID)
	require.Equal(t, enums.OrderStatusPending, restored.Status)
	require.Equal(t, "QQQQ", restored.PickupToken)
	require.Equal(t, int64(80), f.balance(t))
}

func TestCancelRollsBackWhenEventCannotBeQueued(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Orders: orders.NewRepository(f.conn),
		Wallet: f.ledger,
		Menu:   catalog.NewRepository(f.conn),
		Tx:     f.client,
		Outbox: failingOutbox{},
		Events: f.dist,
		Locks:  f.locks,
		Tokens: &sequenceTokens{tokens: []string{"ZZZZ"}},
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), order.ID, f.student)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
	require.Equal(t, enums.OrderStatusPending, f.reload(t, order.ID).Status)
	require.Equal(t, int64(40), f.balance(t))
	require.Empty(t, f.refunds(t))
}

func TestCancelLedgerInconsistentWhenRestoreFails(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Orders: stuckRestoreRepo{orders.NewRepository(f.conn)},
		Wallet: flakyLedger{Service: f.ledger, creditErr: errors.New("ledger offline")},
		Menu:   catalog.NewRepository(f.conn),
		Tx:     f.client,
		Outbox: outbox.NewService(outbox.NewRepository(f.conn), nil),
		Events: f.dist,
		Locks:  f.locks,
		Tokens: &sequenceTokens{tokens: []string{"ZZZZ"}},
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), order.ID, f.staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLedgerInconsistent), "got %v", err)
	require.Equal(t, enums.OrderStatusCancelled, f.reload(t, order.ID).Status)
}

func TestPickupTokenCollisionRegenerates(t *testing.T) {
	tokens := &sequenceTokens{tokens: []string{"AAAA", "AAAA", "BBBB"}}
	f := newFixture(t, 500, func(p *ServiceParams) { p.Tokens = tokens })

	first, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)
	second, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	require.Equal(t, "AAAA", first.PickupToken)
	require.Equal(t, "BBBB", second.PickupToken)
	require.Equal(t, int64(2), second.OrderNumber)
	require.Equal(t, 3, tokens.calls)
}

func TestPickupTokenCollisionCaughtByIndex(t *testing.T) {
	tokens := &sequenceTokens{tokens: []string{"AAAA", "AAAA", "CCCC"}}
	f := newFixture(t, 500, func(p *ServiceParams) {
		p.Tokens = tokens
		p.Orders = blindRepo{p.Orders}
	})

	first, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)
	second, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)
	require.Equal(t, "AAAA", first.PickupToken)
	require.Equal(t, "CCCC", second.PickupToken)
	require.Equal(t, int64(380), f.balance(t))
}

func TestPickupTokenExhaustionRefunds(t *testing.T) {
	f := newFixture(t, 500, func(p *ServiceParams) {
		p.Tokens = &sequenceTokens{tokens: []string{"AAAA"}}
		p.TokenAttempts = 3
	})

	_, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(context.Background(), f.sixty())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	require.Equal(t, int64(440), f.balance(t))
	require.Equal(t, int64(1), f.countRows(t, &models.Order{}))
}

func TestExpireOrderRunsAsSystem(t *testing.T) {
	f := newFixture(t, 100)
	order, err := f.svc.PlaceOrder(context.Background(), f.sixty())
	require.NoError(t, err)

	expired, err := f.svc.ExpireOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, expired.Status)
	require.Equal(t, access.SystemUserID, *expired.CancelledBy)
	require.Equal(t, int64(100), f.balance(t))

	_, err = f.svc.ExpireOrder(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
