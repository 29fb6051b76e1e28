package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// GetConversation fetches a conversation by ID.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOpenConversation returns the customer's non-terminal conversation.
func FindOpenConversation(ctx context.Context, db *gorm.DB, customerID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("customer_id = ? AND status IN ?", customerID, domain.OpenConversationStatuses).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOrCreateOpenConversation returns the customer's open conversation or
// starts a new ACTIVE one. The open-slot unique index rejects a concurrent
// second insert, in which case the winner is re-read.
func FindOrCreateOpenConversation(ctx context.Context, db *gorm.DB, customerID string) (*domain.Conversation, bool, error) {
	c, err := FindOpenConversation(ctx, db, customerID)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	slot := customerID
	c = &domain.Conversation{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Status:     domain.ConversationActive,
		OpenSlot:   &slot,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if IsDuplicate(err) {
			existing, gerr := FindOpenConversation(ctx, db, customerID)
			return existing, false, gerr
		}
		return nil, false, err
	}
	return c, true, nil
}

// TransitionConversation moves a conversation to next only if its current
// status is one of from. It returns false when no row matched, so callers
// can treat a lost race or a repeated transition as a no-op.
// Terminal targets release the open slot; assignee nil leaves the
// assignment untouched.
func TransitionConversation(ctx context.Context, db *gorm.DB, id string, from []domain.ConversationStatus, next domain.ConversationStatus, assignee *string) (bool, error) {
	updates := map[string]any{
		"status":     next,
		"updated_at": time.Now().UTC(),
	}
	if next.Terminal() {
		updates["open_slot"] = nil
	}
	if assignee != nil {
		if *assignee == "" {
			updates["assigned_to"] = nil
		} else {
			updates["assigned_to"] = *assignee
		}
	}
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TouchConversation records the time of the latest message.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_message_at": at, "updated_at": at}).Error
}

// CountConversations counts conversations, optionally filtered by status.
func CountConversations(ctx context.Context, db *gorm.DB, status domain.ConversationStatus) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Conversation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListConversationsPage returns conversations ordered by most recent
// activity, with the customer preloaded.
func ListConversationsPage(ctx context.Context, db *gorm.DB, status domain.ConversationStatus, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	q := db.WithContext(ctx).Preload("Customer")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("updated_at DESC, id ASC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}
