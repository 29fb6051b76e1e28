package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// HasWebhookReceipt reports whether the event was already processed.
func HasWebhookReceipt(ctx context.Context, db *gorm.DB, provider, event, reference string) (bool, error) {
	var r domain.WebhookReceipt
	err := db.WithContext(ctx).
		Select("id").
		Where("provider = ? AND event = ? AND reference = ?", provider, event, reference).
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// RecordWebhookReceipt marks the event processed. A concurrent duplicate
// yields ErrDuplicate.
func RecordWebhookReceipt(ctx context.Context, db *gorm.DB, provider, event, reference string) error {
	r := &domain.WebhookReceipt{
		ID:        uuid.NewString(),
		Provider:  provider,
		Event:     event,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
