// Package cache holds the ephemeral conversation context. Every
// implementation is a cache only: a miss, an expired entry or a backend
// error all mean "no prior context" to callers, which then rebuild from the
// durable message log.
package cache

import (
	"context"
	"time"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// KeyPrefix namespaces context entries in shared backends.
const KeyPrefix = "conversation:"

// Store reads and writes conversation contexts.
//
// Get returns (nil, nil) when no context exists. Put replaces the entry and
// refreshes its TTL.
type Store interface {
	Get(ctx context.Context, conversationID string) (*domain.ConversationContext, error)
	Put(ctx context.Context, conversationID string, c *domain.ConversationContext, ttl time.Duration) error
}

// Key returns the backend key for a conversation.
func Key(conversationID string) string { return KeyPrefix + conversationID }
