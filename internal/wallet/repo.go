package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

// Repository persists wallets and their append-only transaction log. Balances only move
// through Increment and DecrementIfSufficient.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
	FindWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	EnsureWallet(ctx context.Context, userID uuid.UUID, now time.Time) error
	Increment(ctx context.Context, userID uuid.UUID, amountCents int64, now time.Time) error
	DecrementIfSufficient(ctx context.Context, userID uuid.UUID, amountCents int64, now time.Time) (bool, error)
	AppendTransaction(ctx context.Context, record *models.WalletTransaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error)
	CountTransactions(ctx context.Context, userID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the wallet repository to the provided connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) FindWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) EnsureWallet(ctx context.Context, userID uuid.UUID, now time.Time) error {
	wallet := models.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&wallet).Error
}

func (r *repository) Increment(ctx context.Context, userID uuid.UUID, amountCents int64, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents + ?", amountCents),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DecrementIfSufficient subtracts amountCents only when the balance covers it, in a single
// conditional statement. It reports false when the balance was too low.
func (r *repository) DecrementIfSufficient(ctx context.Context, userID uuid.UUID, amountCents int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND balance_cents >= ?", userID, amountCents).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents - ?", amountCents),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendTransaction(ctx context.Context, record *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID)
	if cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.WalletTransaction
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountTransactions(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
