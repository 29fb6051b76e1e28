// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to make operator replies safe to retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, operatorID, conversationID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("operator_id = ? AND conversation_id = ? AND key = ? AND expires_at > ?", operatorID, conversationID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
// An expired record for the same tuple is replaced.
func CreateIdempotency(ctx context.Context, db *gorm.DB, operatorID, conversationID, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	if err := db.WithContext(ctx).
		Where("operator_id = ? AND conversation_id = ? AND key = ? AND expires_at <= ?", operatorID, conversationID, key, now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}
	rec := &domain.Idempotency{
		ID:             uuid.NewString(),
		OperatorID:     operatorID,
		ConversationID: conversationID,
		Key:            key,
		MessageID:      messageID,
		Status:         status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
