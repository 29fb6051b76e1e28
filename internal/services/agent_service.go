// Package services – AgentService
//
// AgentService backs the operator API: listing conversations and their
// message logs, replying to customers as a human agent and moving
// conversations through their lifecycle. Status changes are conditional
// updates, so two operators acting on the same conversation cannot both win.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
	"github.com/tbourn/whatsapp-storefront/internal/utils"
)

// AgentService implements operator actions on conversations.
type AgentService struct {
	DB        *gorm.DB
	Messenger Messenger

	// MaxContentRunes caps agent replies; 0 disables the check.
	MaxContentRunes int
}

// ListConversations returns a page of conversations, optionally filtered by
// status, most recently active first.
func (s *AgentService) ListConversations(ctx context.Context, status domain.ConversationStatus, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/AgentService")
	ctx, span := tr.Start(ctx, "ListConversations",
		trace.WithAttributes(
			attribute.String("conversation.status", string(status)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if status != "" && !status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	p := utils.NewPage(page, pageSize)

	total, err := repo.CountConversations(ctx, s.DB, status)
	if err != nil {
		return nil, 0, err
	}
	out, err := repo.ListConversationsPage(ctx, s.DB, status, p.Offset(), p.Size)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListMessages returns a page of a conversation's message log, oldest first.
func (s *AgentService) ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/AgentService")
	ctx, span := tr.Start(ctx, "ListMessages",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := s.conversation(ctx, conversationID); err != nil {
		return nil, 0, err
	}
	p := utils.NewPage(page, pageSize)

	total, err := repo.CountMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	out, err := repo.ListMessagesPage(ctx, s.DB, conversationID, p.Offset(), p.Size)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Reply stores an AGENT message and delivers it to the customer. A
// conversation that is not yet with an agent is taken over by operatorID.
//
// When WhatsApp rejects the message the stored row is still returned,
// together with an error wrapping ErrDeliveryFailed.
func (s *AgentService) Reply(ctx context.Context, operatorID, conversationID, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/AgentService")
	ctx, span := tr.Start(ctx, "Reply",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("operator.id", operatorID),
		),
	)
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, ErrTooLong
	}

	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	if conv.Status != domain.ConversationWithAgent {
		if err := s.takeOver(ctx, operatorID, conv); err != nil {
			return nil, err
		}
	}

	msg, err := repo.CreateMessage(ctx, s.DB, repo.NewMessage{
		ConversationID: conv.ID,
		Sender:         domain.SenderAgent,
		Content:        content,
		Metadata:       domain.MessageMetadata{OperatorID: operatorID},
	})
	if err != nil {
		return nil, fmt.Errorf("persist agent reply: %w", err)
	}
	if err := repo.TouchConversation(ctx, s.DB, conv.ID, msg.CreatedAt); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("conversation_id", conv.ID).Msg("touch conversation")
	}

	cust, err := repo.GetCustomer(ctx, s.DB, conv.CustomerID)
	if err != nil {
		return msg, fmt.Errorf("%w: load customer: %v", ErrDeliveryFailed, err)
	}
	if s.Messenger == nil {
		return msg, fmt.Errorf("%w: no messenger configured", ErrDeliveryFailed)
	}
	if _, err := s.Messenger.SendText(ctx, cust.PhoneNumber, content); err != nil {
		span.RecordError(err)
		log.Ctx(ctx).Error().Err(err).Str("conversation_id", conv.ID).Msg("deliver agent reply")
		return msg, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return msg, nil
}

// takeOver moves an ACTIVE or WAITING_FOR_AGENT conversation to WITH_AGENT.
// Losing the race to another actor is fine as long as the conversation
// ended up with an agent.
func (s *AgentService) takeOver(ctx context.Context, operatorID string, conv *domain.Conversation) error {
	op := operatorID
	moved, err := repo.TransitionConversation(ctx, s.DB, conv.ID,
		[]domain.ConversationStatus{domain.ConversationActive, domain.ConversationWaitingForAgent},
		domain.ConversationWithAgent, &op)
	if err != nil {
		return fmt.Errorf("assign conversation: %w", err)
	}
	if moved {
		conv.Status = domain.ConversationWithAgent
		conv.AssignedTo = &op
		return nil
	}
	cur, err := s.conversation(ctx, conv.ID)
	if err != nil {
		return err
	}
	if cur.Status != domain.ConversationWithAgent {
		return ErrInvalidTransition
	}
	*conv = *cur
	return nil
}

// UpdateStatus applies an operator-driven lifecycle transition and records
// it in the message log.
func (s *AgentService) UpdateStatus(ctx context.Context, operatorID, conversationID string, next domain.ConversationStatus) (*domain.Conversation, error) {
	tr := otel.Tracer("services/AgentService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("conversation.status", string(next)),
		),
	)
	defer span.End()

	if !next.Valid() {
		return nil, ErrInvalidStatus
	}
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Status.CanTransition(next) {
		return nil, ErrInvalidTransition
	}

	var assignee *string
	switch next {
	case domain.ConversationWithAgent:
		assignee = &operatorID
	case domain.ConversationActive, domain.ConversationWaitingForAgent:
		none := ""
		assignee = &none
	}

	moved, err := repo.TransitionConversation(ctx, s.DB, conv.ID, []domain.ConversationStatus{conv.Status}, next, assignee)
	if err != nil {
		return nil, fmt.Errorf("transition conversation: %w", err)
	}
	if !moved {
		return nil, ErrInvalidTransition
	}

	if _, err := repo.CreateMessage(ctx, s.DB, repo.NewMessage{
		ConversationID: conv.ID,
		Sender:         domain.SenderSystem,
		Content:        fmt.Sprintf("Status changed from %s to %s by operator", conv.Status, next),
		Metadata:       domain.MessageMetadata{OperatorID: operatorID, Reason: "status_change"},
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("conversation_id", conv.ID).Msg("record status change")
	}
	log.Ctx(ctx).Info().
		Str("conversation_id", conv.ID).
		Str("from", string(conv.Status)).
		Str("to", string(next)).
		Str("operator_id", operatorID).
		Msg("conversation status changed")

	return repo.GetConversation(ctx, s.DB, conv.ID)
}

func (s *AgentService) conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := repo.GetConversation(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}
