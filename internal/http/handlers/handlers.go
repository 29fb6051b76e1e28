// Package handlers provides the HTTP handlers for the WhatsApp webhooks, the
// payment webhook and the operator API.
//
// Handlers are transport-thin: they authenticate deliveries, decode input,
// call the application services and translate results into HTTP responses.
// Webhook endpoints answer quickly and never surface internal detail to the
// sender; the operator API maps service errors onto the error envelope.
package handlers

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/services"
	"github.com/tbourn/whatsapp-storefront/internal/whatsapp"
)

//
// Service contracts (context-aware)
//

// InboundService processes one customer message delivered by the webhook.
type InboundService interface {
	HandleInbound(ctx context.Context, msg whatsapp.InboundMessage) (services.Outcome, error)
}

// PaymentWebhookService authenticates and reconciles a payment provider event.
type PaymentWebhookService interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (services.WebhookResult, error)
}

// OperatorService exposes the actions the operator dashboard drives.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OperatorService interface {
	// ListConversations returns a page of conversations, optionally filtered by status.
	ListConversations(ctx context.Context, status domain.ConversationStatus, page, pageSize int) ([]domain.Conversation, int64, error)
	// ListMessages returns a page of a conversation's message log, oldest first.
	ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// Reply sends an agent message to the customer and takes over the conversation.
	Reply(ctx context.Context, operatorID, conversationID, content string) (*domain.Message, error)
	// UpdateStatus moves a conversation to next.
	UpdateStatus(ctx context.Context, operatorID, conversationID string, next domain.ConversationStatus) (*domain.Conversation, error)
}

//
// Handler wiring
//

// Options carries the webhook secrets and operator API limits.
type Options struct {
	VerifyToken     string        // WhatsApp subscription handshake token
	AppSecret       string        // enables X-Hub-Signature-256 checks when set
	AsyncWebhooks   bool          // process WhatsApp deliveries after acknowledging
	IdempotencyTTL  time.Duration // lifetime of a stored operator reply key
	MaxContentRunes int           // cap on operator reply length; 0 uses the service default
}

// Handlers groups the webhook and operator endpoints.
type Handlers struct {
	inbound  InboundService
	payments PaymentWebhookService
	operator OperatorService
	db       *gorm.DB // ETag stats and idempotency records
	opts     Options

	// In-flight asynchronous webhook processing.
	wg sync.WaitGroup
}

// New constructs and returns a Handlers instance bound to the given services.
func New(inbound InboundService, payments PaymentWebhookService, operator OperatorService, db *gorm.DB, opts Options) *Handlers {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{inbound: inbound, payments: payments, operator: operator, db: db, opts: opts}
}

// Wait blocks until asynchronous webhook processing drains or ctx ends.
// Call it after the HTTP server stops accepting requests.
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
