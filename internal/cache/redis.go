package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// RedisStore keeps contexts as JSON strings with a per-key TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient parses a redis:// URL into a client with bounded timeouts.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = time.Second
	}
	return redis.NewClient(opts), nil
}

// Get loads the context for conversationID.
func (s *RedisStore) Get(ctx context.Context, conversationID string) (*domain.ConversationContext, error) {
	raw, err := s.client.Get(ctx, Key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var c domain.ConversationContext
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &c, nil
}

// Put stores c under conversationID for ttl.
func (s *RedisStore) Put(ctx context.Context, conversationID string, c *domain.ConversationContext, ttl time.Duration) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if err := s.client.Set(ctx, Key(conversationID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity; used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (s *RedisStore) Close() error { return s.client.Close() }
