// Package dbtest opens throwaway sqlite databases carrying the engine schema.
package dbtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// schema mirrors pkg/migrate/migrations in sqlite syntax.
var schema = []string{
	`CREATE TABLE shops (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_open BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME
	)`,
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL,
		shop_id TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE menu_items (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		is_available BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE wallets (
		user_id TEXT PRIMARY KEY,
		balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE wallet_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		source TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		balance_after_cents INTEGER NOT NULL,
		order_id TEXT,
		actor_user_id TEXT,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX wallet_transactions_order_debit_uniq
		ON wallet_transactions (order_id) WHERE source = 'order_debit'`,
	`CREATE UNIQUE INDEX wallet_transactions_order_refund_uniq
		ON wallet_transactions (order_id) WHERE source = 'order_refund'`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		shop_id TEXT NOT NULL,
		order_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		pickup_token TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		created_at DATETIME,
		updated_at DATETIME,
		completed_at DATETIME,
		cancelled_at DATETIME,
		cancelled_by TEXT
	)`,
	`CREATE UNIQUE INDEX orders_shop_order_number_uniq ON orders (shop_id, order_number)`,
	`CREATE UNIQUE INDEX orders_shop_active_pickup_token_uniq
		ON orders (shop_id, pickup_token) WHERE status IN ('pending', 'preparing', 'ready')`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		food_item_id TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents INTEGER NOT NULL,
		line_total_cents INTEGER NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		order_id TEXT,
		read_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a file-backed sqlite connection with the schema applied. The pool is
// limited to one connection so concurrent writers queue instead of failing with SQLITE_BUSY.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "campusmart.db")), db.GormConfig())
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// OpenClient wraps Open in a db.Client for code that needs a transaction runner.
func OpenClient(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewWithConn(conn), conn
}

func SeedShop(t testing.TB, conn *gorm.DB, name string) models.Shop {
	t.Helper()
	shop := models.Shop{ID: uuid.New(), Name: name, IsOpen: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, conn.Create(&shop).Error)
	return shop
}

func SeedUser(t testing.TB, conn *gorm.DB, role enums.Role, shopID *uuid.UUID) models.User {
	t.Helper()
	id := uuid.New()
	user := models.User{
		ID:          id,
		Email:       id.String() + "@campus.test",
		DisplayName: string(role) + " " + id.String()[:8],
		Role:        role,
		ShopID:      shopID,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, conn.Create(&user).Error)
	return user
}

// SeedWallet creates the user's wallet with the given opening balance. No transaction row is written.
func SeedWallet(t testing.TB, conn *gorm.DB, userID uuid.UUID, balanceCents int64) models.Wallet {
	t.Helper()
	now := time.Now().UTC()
	wallet := models.Wallet{UserID: userID, BalanceCents: balanceCents, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&wallet).Error)
	return wallet
}

func SeedMenuItem(t testing.TB, conn *gorm.DB, shopID uuid.UUID, name string, priceCents int64, available bool) models.MenuItem {
	t.Helper()
	now := time.Now().UTC()
	item := models.MenuItem{
		ID:          uuid.New(),
		ShopID:      shopID,
		Name:        name,
		PriceCents:  priceCents,
		IsAvailable: available,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, conn.Create(&item).Error)
	if !available {
		// gorm skips zero-valued fields that carry a default tag on insert.
		require.NoError(t, conn.Model(&models.MenuItem{}).Where("id = ?", item.ID).Update("is_available", false).Error)
	}
	return item
}
