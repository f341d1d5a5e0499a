// Package catalog reads menu items owned by the catalog service.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
)

// Repository is the read-only view of menu items used to price carts.
type Repository interface {
	FindMenuItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuItem, error)
	ShopExists(ctx context.Context, shopID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// FindMenuItems returns the rows found for ids keyed by id. Missing ids are simply absent.
func (r *repository) FindMenuItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuItem, error) {
	out := make(map[uuid.UUID]models.MenuItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.MenuItem
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repository) ShopExists(ctx context.Context, shopID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Shop{}).
		Where("id = ?", shopID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
