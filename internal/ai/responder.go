// Package ai generates customer replies through an OpenAI-compatible chat
// completions API. The system prompt carries the store's catalog, the
// knowledge-base snippets most related to the message and the customer's
// cart; the conversation window supplies the history.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/search"
)

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("ai: empty reply")

const (
	maxPromptProducts = 15
	maxKnowledge      = 3
)

// Options configures a Responder.
type Options struct {
	APIKey    string
	BaseURL   string // empty uses the OpenAI default
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Knowledge []search.Document
}

// Request is one reply to generate.
type Request struct {
	Message string
	Context *domain.ConversationContext
	Catalog []domain.Product
}

// Responder produces AI replies.
type Responder struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	knowledge search.Index
}

// NewResponder builds a Responder from Options.
func NewResponder(o Options) *Responder {
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 500
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return &Responder{
		client:    openai.NewClientWithConfig(cfg),
		model:     o.Model,
		maxTokens: o.MaxTokens,
		timeout:   o.Timeout,
		knowledge: search.New(o.Knowledge),
	}
}

// Reply asks the model for the next assistant turn. The call is bounded by
// the configured timeout; a deadline surfaces as a wrapped
// context.DeadlineExceeded.
func (r *Responder) Reply(ctx context.Context, req Request) (string, error) {
	ctx, span := otel.Tracer("ai/Responder").Start(ctx, "Reply",
		trace.WithAttributes(attribute.String("ai.model", r.model)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	system := BuildSystemPrompt(
		RelevantProducts(req.Message, req.Catalog, maxPromptProducts),
		r.knowledge.TopK(req.Message, maxKnowledge),
		req.Context,
	)
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}
	if req.Context != nil {
		for _, t := range req.Context.Turns {
			role := openai.ChatMessageRoleAssistant
			if t.Role == domain.RoleUser {
				role = openai.ChatMessageRoleUser
			}
			msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
		}
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		Messages:  msgs,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	span.SetAttributes(attribute.Int("ai.completion_tokens", resp.Usage.CompletionTokens))
	return text, nil
}
