package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// NewMessage describes a message to persist.
type NewMessage struct {
	ConversationID string
	Sender         domain.Sender
	Content        string
	ExternalID     string
	Metadata       domain.MessageMetadata
}

// CreateMessage inserts an immutable message row. An upstream id that was
// already stored yields ErrDuplicate.
func CreateMessage(ctx context.Context, db *gorm.DB, in NewMessage) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Content:        in.Content,
		Metadata:       datatypes.NewJSONType(in.Metadata),
		CreatedAt:      time.Now().UTC(),
	}
	if in.ExternalID != "" {
		ext := in.ExternalID
		m.ExternalID = &ext
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// MessageExists reports whether an upstream message id was already stored.
func MessageExists(ctx context.Context, db *gorm.DB, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var m domain.Message
	err := db.WithContext(ctx).Select("id").Where("external_id = ?", externalID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessages returns the last n messages of a conversation in
// chronological order.
func ListRecentMessages(ctx context.Context, db *gorm.DB, conversationID string, n int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
