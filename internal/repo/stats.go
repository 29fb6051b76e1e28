// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the operator API.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// ConversationsStats returns the number of conversations (optionally
// filtered by status) and the latest UpdatedAt among them. When there are no
// rows, the count is 0 and latest is nil.
func ConversationsStats(ctx context.Context, db *gorm.DB, status domain.ConversationStatus) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order+Limit instead of MAX(), which SQLite returns as TEXT.
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of messages in a conversation and the
// newest CreatedAt. Messages are immutable, so creation time is the only
// change marker.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
