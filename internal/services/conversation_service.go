// Package services – ConversationService
//
// ConversationService is the conversation state machine. For every inbound
// WhatsApp message it persists the message first, then decides whether a
// human owns the turn, whether to escalate, whether to start a purchase or
// whether to let the AI answer.
//
// Redelivered webhooks are no-ops: the upstream message id is unique in the
// message log, and work for one customer is serialised by a per-phone lock.

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/ai"
	"github.com/tbourn/whatsapp-storefront/internal/cache"
	"github.com/tbourn/whatsapp-storefront/internal/classify"
	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/notify"
	"github.com/tbourn/whatsapp-storefront/internal/observability"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
	"github.com/tbourn/whatsapp-storefront/internal/whatsapp"
)

// Customer-facing texts.
const (
	HandoffText  = "👋 Connecting you with our team...\n\nAn agent will be with you shortly. Thank you for your patience!"
	ApologyText  = "Sorry, something went wrong on our side. Please try again in a moment, or reply \"agent\" to talk to our team."
	TextOnlyText = "Sorry, I can only read text messages for now. Please type your question and I'll be happy to help!"

	defaultCustomerName = "Customer"
)

// Outcome is how an inbound message was routed.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeAgentOwned  Outcome = "with_agent"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeEscalated   Outcome = "escalated"
	OutcomePurchase    Outcome = "purchase"
	OutcomeAIReply     Outcome = "ai_reply"
	OutcomeAIFailed    Outcome = "ai_failed"
	OutcomeFailed      Outcome = "failed"
)

// ConversationService routes inbound customer messages.
type ConversationService struct {
	DB        *gorm.DB
	Store     cache.Store
	Messenger Messenger
	AI        Responder
	Orders    *OrderService
	Notifier  Notifier

	Thresholds classify.Thresholds
	ContextTTL time.Duration
	MaxTurns   int

	locks keyedMutex
}

// inbound carries the per-message state through the routing steps.
type inbound struct {
	msg      whatsapp.InboundMessage
	phone    string
	customer *domain.Customer
	conv     *domain.Conversation
	stored   *domain.Message
	lg       zerolog.Logger
}

func (in *inbound) name() string { return in.customer.DisplayName(defaultCustomerName) }

// HandleInbound processes one customer message end to end. Errors are
// returned for logging only; the caller acknowledges the webhook regardless.
func (s *ConversationService) HandleInbound(ctx context.Context, msg whatsapp.InboundMessage) (Outcome, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "HandleInbound",
		trace.WithAttributes(
			attribute.String("whatsapp.message_id", msg.ID),
			attribute.String("whatsapp.type", msg.Type),
		),
	)
	defer span.End()

	out, err := s.handleInbound(ctx, msg)
	span.SetAttributes(attribute.String("outcome", string(out)))
	if err != nil {
		span.RecordError(err)
	}
	observability.InboundMessages.WithLabelValues(string(out)).Inc()
	return out, err
}

func (s *ConversationService) handleInbound(ctx context.Context, msg whatsapp.InboundMessage) (Outcome, error) {
	phone := whatsapp.NormalizePhone(msg.From)
	if phone == "" || msg.ID == "" {
		return OutcomeIgnored, ErrInvalidInbound
	}
	in := &inbound{msg: msg, phone: phone}
	in.lg = log.Ctx(ctx).With().Str("wamid", msg.ID).Logger()

	if seen, err := repo.MessageExists(ctx, s.DB, msg.ID); err != nil {
		return OutcomeFailed, fmt.Errorf("dedup check: %w", err)
	} else if seen {
		observability.DuplicateDeliveries.Inc()
		in.lg.Debug().Msg("duplicate delivery ignored")
		return OutcomeDuplicate, nil
	}

	unlock := s.locks.Lock(phone)
	defer unlock()

	cust, _, err := repo.FindOrCreateCustomer(ctx, s.DB, phone, msg.Name)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find or create customer: %w", err)
	}
	conv, created, err := repo.FindOrCreateOpenConversation(ctx, s.DB, cust.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find or create conversation: %w", err)
	}
	in.customer, in.conv = cust, conv
	in.lg = in.lg.With().Str("conversation_id", conv.ID).Logger()

	stored, err := repo.CreateMessage(ctx, s.DB, repo.NewMessage{
		ConversationID: conv.ID,
		Sender:         domain.SenderCustomer,
		Content:        msg.Body,
		ExternalID:     msg.ID,
		Metadata:       domain.MessageMetadata{WhatsAppMessageID: msg.ID, MessageType: msg.Type},
	})
	if errors.Is(err, repo.ErrDuplicate) {
		observability.DuplicateDeliveries.Inc()
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("persist inbound message: %w", err)
	}
	in.stored = stored
	if err := repo.TouchConversation(ctx, s.DB, conv.ID, stored.CreatedAt); err != nil {
		in.lg.Warn().Err(err).Msg("touch conversation")
	}
	if created {
		s.notifier().Notify(ctx, notify.NewConversation(conv.ID, in.name(), phone, msg.Body))
	}

	if conv.Status == domain.ConversationWithAgent {
		return OutcomeAgentOwned, nil
	}
	if !msg.IsText() {
		s.send(ctx, in, TextOnlyText)
		return OutcomeUnsupported, nil
	}

	out, err := s.route(ctx, in)
	if err != nil && out != OutcomeAIFailed {
		// The message is stored, so a redelivery would be dropped as a
		// duplicate; answer now.
		in.lg.Error().Err(err).Str("outcome", string(out)).Msg("routing failed")
		s.send(ctx, in, ApologyText)
		s.record(ctx, in, domain.SenderSystem, ApologyText, domain.MessageMetadata{Reason: "processing_failed"})
		return OutcomeFailed, err
	}
	return out, err
}

// route applies the classifier decisions to a stored text message.
func (s *ConversationService) route(ctx context.Context, in *inbound) (Outcome, error) {
	text := in.msg.Body
	intent := classify.DetectIntent(text)

	if intent == classify.IntentHelp && classify.RequestsAgent(text) {
		return OutcomeEscalated, s.escalate(ctx, in, classify.ReasonAgentRequested)
	}

	catalog, err := repo.ListActiveProducts(ctx, s.DB)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load catalog: %w", err)
	}
	cc := s.loadContext(ctx, in)
	cc.Intent = string(intent)

	if intent == classify.IntentPurchase && s.Orders != nil {
		if mentioned := classify.ExtractMentionedProducts(text, catalog); len(mentioned) > 0 {
			res, err := s.Orders.HandlePurchase(ctx, PurchaseRequest{
				ConversationID: in.conv.ID,
				Customer:       in.customer,
				Phone:          in.phone,
				Products:       mentioned,
				Text:           text,
				Context:        cc,
			})
			if res.Reply != "" {
				cc.AppendTurns(s.maxTurns(),
					domain.Turn{Role: domain.RoleUser, Content: text},
					domain.Turn{Role: domain.RoleAssistant, Content: res.Reply})
				s.saveContext(ctx, in, cc)
			}
			if err != nil {
				in.lg.Error().Err(err).Msg("purchase flow failed")
			}
			return OutcomePurchase, nil
		}
	}

	recent, err := repo.ListRecentMessages(ctx, s.DB, in.conv.ID, s.thresholds().Window)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load recent messages: %w", err)
	}
	turns := make([]domain.Turn, 0, len(recent))
	for _, m := range recent {
		turns = append(turns, domain.TurnFromMessage(m))
	}
	if d := classify.AnalyzeConversationForHelp(turns, s.thresholds()); d.NeedsHelp {
		return OutcomeEscalated, s.escalate(ctx, in, d.Reason)
	}

	return s.answer(ctx, in, cc, catalog)
}

// answer asks the AI for a reply and delivers it, or escalates when the
// reply itself gives up.
func (s *ConversationService) answer(ctx context.Context, in *inbound, cc *domain.ConversationContext, catalog []domain.Product) (Outcome, error) {
	if s.AI == nil {
		s.send(ctx, in, ApologyText)
		return OutcomeAIFailed, errors.New("no AI responder configured")
	}
	reply, err := s.AI.Reply(ctx, ai.Request{Message: in.msg.Body, Context: cc, Catalog: catalog})
	if err != nil {
		s.send(ctx, in, ApologyText)
		s.record(ctx, in, domain.SenderSystem, ApologyText, domain.MessageMetadata{Reason: "ai_unavailable"})
		return OutcomeAIFailed, fmt.Errorf("ai reply: %w", err)
	}
	if d := classify.DetectAIConfusion(reply); d.NeedsHelp {
		in.lg.Info().Str("reply", reply).Msg("ai reply suppressed")
		return OutcomeEscalated, s.escalate(ctx, in, d.Reason)
	}

	s.record(ctx, in, domain.SenderAI, reply, domain.MessageMetadata{})
	s.send(ctx, in, reply)

	cc.AppendTurns(s.maxTurns(),
		domain.Turn{Role: domain.RoleUser, Content: in.msg.Body},
		domain.Turn{Role: domain.RoleAssistant, Content: reply})
	s.saveContext(ctx, in, cc)
	return OutcomeAIReply, nil
}

// escalate hands the conversation to a human. Operators are only notified
// by the call that actually moved the conversation, so a customer who keeps
// asking while waiting does not page them again.
func (s *ConversationService) escalate(ctx context.Context, in *inbound, reason string) error {
	moved, err := repo.TransitionConversation(ctx, s.DB, in.conv.ID,
		[]domain.ConversationStatus{domain.ConversationActive},
		domain.ConversationWaitingForAgent, nil)
	if err != nil {
		return fmt.Errorf("escalate: %w", err)
	}
	s.send(ctx, in, HandoffText)
	s.record(ctx, in, domain.SenderSystem, reason, domain.MessageMetadata{Reason: reason})

	in.lg.Info().Str("reason", reason).Bool("transitioned", moved).Msg("conversation escalated")
	if moved {
		observability.Escalations.WithLabelValues(reason).Inc()
		s.notifier().Notify(ctx, notify.AINeedsHelp(in.conv.ID, in.name(), in.phone, in.msg.Body, reason))
	}
	return nil
}

// loadContext returns the cached context or rebuilds it from the message
// log. Cache failures degrade to a rebuild.
func (s *ConversationService) loadContext(ctx context.Context, in *inbound) *domain.ConversationContext {
	if s.Store != nil {
		cc, err := s.Store.Get(ctx, in.conv.ID)
		if err != nil {
			in.lg.Warn().Err(err).Msg("context store read failed")
		} else if cc != nil {
			if cc.CustomerName == "" {
				cc.CustomerName = in.name()
			}
			return cc
		}
	}

	cc := &domain.ConversationContext{ConversationID: in.conv.ID, CustomerName: in.name()}
	recent, err := repo.ListRecentMessages(ctx, s.DB, in.conv.ID, s.maxTurns()+1)
	if err != nil {
		in.lg.Warn().Err(err).Msg("rebuild context from message log")
		return cc
	}
	for _, m := range recent {
		if in.stored != nil && m.ID == in.stored.ID {
			continue
		}
		cc.AppendTurns(s.maxTurns(), domain.TurnFromMessage(m))
	}
	return cc
}

func (s *ConversationService) saveContext(ctx context.Context, in *inbound, cc *domain.ConversationContext) {
	if s.Store == nil {
		return
	}
	cc.UpdatedAt = time.Now().UTC()
	if err := s.Store.Put(ctx, in.conv.ID, cc, s.contextTTL()); err != nil {
		in.lg.Warn().Err(err).Msg("context store write failed")
	}
}

func (s *ConversationService) record(ctx context.Context, in *inbound, sender domain.Sender, content string, meta domain.MessageMetadata) {
	if _, err := repo.CreateMessage(ctx, s.DB, repo.NewMessage{
		ConversationID: in.conv.ID,
		Sender:         sender,
		Content:        content,
		Metadata:       meta,
	}); err != nil {
		in.lg.Error().Err(err).Str("sender", string(sender)).Msg("persist outbound message")
	}
}

func (s *ConversationService) send(ctx context.Context, in *inbound, body string) {
	if s.Messenger == nil {
		return
	}
	if _, err := s.Messenger.SendText(ctx, in.phone, body); err != nil {
		in.lg.Error().Err(err).Bool("temporary", whatsapp.IsTemporary(err)).Msg("send to customer failed")
	}
}

func (s *ConversationService) notifier() Notifier { return notifierOrNoop(s.Notifier) }

func (s *ConversationService) thresholds() classify.Thresholds {
	if s.Thresholds == (classify.Thresholds{}) {
		return classify.DefaultThresholds
	}
	return s.Thresholds
}

func (s *ConversationService) maxTurns() int {
	if s.MaxTurns <= 0 {
		return 10
	}
	return s.MaxTurns
}

func (s *ConversationService) contextTTL() time.Duration {
	if s.ContextTTL <= 0 {
		return 2 * time.Hour
	}
	return s.ContextTTL
}
