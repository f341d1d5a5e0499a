package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

const (
	// PickupTokenConstraint is the partial unique index on active pickup tokens per shop.
	PickupTokenConstraint = "orders_shop_active_pickup_token_uniq"
	// OrderNumberConstraint is the unique index on per-shop order numbers.
	OrderNumberConstraint = "orders_shop_order_number_uniq"
)

// Repository persists orders. Status only changes through UpdateStatus.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ActivePickupTokenExists(ctx context.Context, shopID uuid.UUID, token string) (bool, error)
	NextOrderNumber(ctx context.Context, shopID uuid.UUID) (int64, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) (bool, error)
	ListActiveByShop(ctx context.Context, shopID uuid.UUID) ([]models.Order, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	ListHistoryByShop(ctx context.Context, shopID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	ListHistoryByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	CountByStatus(ctx context.Context, shopID uuid.UUID, since time.Time) (map[enums.OrderStatus]int64, error)
	SumCompletedSince(ctx context.Context, shopID uuid.UUID, since time.Time) (int64, error)
}

// StatusUpdate is a compare-and-set on an order's status.
type StatusUpdate struct {
	OrderID     uuid.UUID
	From        enums.OrderStatus
	To          enums.OrderStatus
	At          time.Time
	CancelledBy *uuid.UUID
	// PickupToken replaces the token when set.
	PickupToken string
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&order.Items).Error
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.withItems(ctx).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ActivePickupTokenExists(ctx context.Context, shopID uuid.UUID, token string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("shop_id = ? AND pickup_token = ? AND status IN ?", shopID, token, enums.ActiveOrderStatuses).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// NextOrderNumber returns max+1 for the shop. Concurrent callers can get the same value;
// the unique index rejects the loser.
func (r *repository) NextOrderNumber(ctx context.Context, shopID uuid.UUID) (int64, error) {
	var next int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(MAX(order_number), 0) + 1").
		Where("shop_id = ?", shopID).
		Scan(&next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

// UpdateStatus applies the change only while the row is still in update.From. It reports
// false when another writer moved the order first.
func (r *repository) UpdateStatus(ctx context.Context, update StatusUpdate) (bool, error) {
	values := map[string]any{
		"status":     update.To,
		"updated_at": update.At,
	}
	switch update.To {
	case enums.OrderStatusCompleted:
		values["completed_at"] = update.At
	case enums.OrderStatusCancelled:
		values["cancelled_at"] = update.At
		values["cancelled_by"] = update.CancelledBy
	}
	if update.From == enums.OrderStatusCancelled {
		values["cancelled_at"] = nil
		values["cancelled_by"] = nil
	}
	if update.PickupToken != "" {
		values["pickup_token"] = update.PickupToken
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", update.OrderID, update.From).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListActiveByShop(ctx context.Context, shopID uuid.UUID) ([]models.Order, error) {
	return r.listActive(ctx, "shop_id = ?", shopID)
}

func (r *repository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	return r.listActive(ctx, "user_id = ?", userID)
}

func (r *repository) ListHistoryByShop(ctx context.Context, shopID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	return r.listHistory(ctx, "shop_id = ?", shopID, cursor, limit)
}

func (r *repository) ListHistoryByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	return r.listHistory(ctx, "user_id = ?", userID, cursor, limit)
}

func (r *repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountByStatus(ctx context.Context, shopID uuid.UUID, since time.Time) (map[enums.OrderStatus]int64, error) {
	var rows []struct {
		Status enums.OrderStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Where("shop_id = ? AND created_at >= ?", shopID, since).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[enums.OrderStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *repository) SumCompletedSince(ctx context.Context, shopID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(total_cents), 0)").
		Where("shop_id = ? AND status = ? AND completed_at >= ?", shopID, enums.OrderStatusCompleted, since).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) withItems(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("name ASC")
	})
}

func (r *repository) listActive(ctx context.Context, scope string, id uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	if err := r.withItems(ctx).
		Where(scope, id).
		Where("status IN ?", enums.ActiveOrderStatuses).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) listHistory(ctx context.Context, scope string, id uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	query := r.withItems(ctx).
		Where(scope, id).
		Where("status IN ?", enums.TerminalOrderStatuses)
	if cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
