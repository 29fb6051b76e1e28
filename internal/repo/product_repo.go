package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// ListActiveProducts returns the active catalog in catalog order
// (CreatedAt ASC, ID ASC).
func ListActiveProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var out []domain.Product
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetProduct fetches a product by ID.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProduct inserts or fully updates a product by ID.
func UpsertProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "price", "currency", "stock", "is_active", "category", "image_url", "updated_at"}),
	}).Create(p).Error
}

// DecrementStock subtracts qty in a single conditional statement. It returns
// false without touching the row when fewer than qty units remain.
func DecrementStock(ctx context.Context, db *gorm.DB, productID string, qty int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DrainStock sets stock to zero and returns how many units that took. Used
// when a paid order needs more units than remain.
func DrainStock(ctx context.Context, db *gorm.DB, productID string) (int, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var p domain.Product
		if err := db.WithContext(ctx).Select("id", "stock").Where("id = ?", productID).First(&p).Error; err != nil {
			return 0, err
		}
		if p.Stock <= 0 {
			return 0, nil
		}
		res := db.WithContext(ctx).
			Model(&domain.Product{}).
			Where("id = ? AND stock = ?", productID, p.Stock).
			Updates(map[string]any{"stock": 0, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return p.Stock, nil
		}
	}
	return 0, fmt.Errorf("drain stock %s: concurrent updates", productID)
}

// IncrementStock adds qty back atomically.
func IncrementStock(ctx context.Context, db *gorm.DB, productID string, qty int) error {
	return db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", qty),
			"updated_at": time.Now().UTC(),
		}).Error
}
