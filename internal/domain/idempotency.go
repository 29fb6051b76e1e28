package domain

import "time"

// Idempotency records the message produced by an operator reply, keyed by
// (operator_id, conversation_id, key). A retried request with the same
// Idempotency-Key returns the original message instead of sending the reply
// to the customer again.
type Idempotency struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	OperatorID     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_operator_conversation_key,priority:1"`
	ConversationID string    `gorm:"type:char(36);not null;uniqueIndex:ux_operator_conversation_key,priority:2"`
	Key            string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_operator_conversation_key,priority:3"`
	MessageID      string    `gorm:"type:char(36);not null"`
	Status         int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
