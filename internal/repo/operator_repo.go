package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// ListNotifiableOperators returns active operators that have a phone number.
func ListNotifiableOperators(ctx context.Context, db *gorm.DB) ([]domain.Operator, error) {
	var out []domain.Operator
	err := db.WithContext(ctx).
		Where("active = ? AND phone_number IS NOT NULL AND phone_number <> ''", true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetOperator fetches an operator by ID.
func GetOperator(ctx context.Context, db *gorm.DB, id string) (*domain.Operator, error) {
	var op domain.Operator
	if err := db.WithContext(ctx).Where("id = ?", id).First(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// UpsertOperator inserts or updates an operator keyed by email.
func UpsertOperator(ctx context.Context, db *gorm.DB, op *domain.Operator) error {
	now := time.Now().UTC()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "phone_number", "role", "active", "updated_at"}),
	}).Create(op).Error
}
