package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

func newAgentFixture(t *testing.T) (*AgentService, *fakeMessenger, *gorm.DB, *domain.Conversation) {
	t.Helper()
	ctx := context.Background()
	db := newSvcDB(t)
	cust, _, err := repo.FindOrCreateCustomer(ctx, db, "+233241234567", "Ama")
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	conv, _, err := repo.FindOrCreateOpenConversation(ctx, db, cust.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	msgr := &fakeMessenger{}
	return &AgentService{DB: db, Messenger: msgr, MaxContentRunes: 20}, msgr, db, conv
}

func setStatus(t *testing.T, db *gorm.DB, id string, from, to domain.ConversationStatus) {
	t.Helper()
	ok, err := repo.TransitionConversation(context.Background(), db, id, []domain.ConversationStatus{from}, to, nil)
	if err != nil || !ok {
		t.Fatalf("transition %s -> %s: %v %v", from, to, ok, err)
	}
}

func TestAgentReply_Validation(t *testing.T) {
	s, _, _, conv := newAgentFixture(t)
	ctx := context.Background()

	if _, err := s.Reply(ctx, "op-1", conv.ID, "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank reply: %v", err)
	}
	if _, err := s.Reply(ctx, "op-1", conv.ID, strings.Repeat("x", 21)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("long reply: %v", err)
	}
	if _, err := s.Reply(ctx, "op-1", "missing", "hi"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("missing conversation: %v", err)
	}
}

func TestAgentReply_TakesOverWaitingConversation(t *testing.T) {
	s, msgr, db, conv := newAgentFixture(t)
	setStatus(t, db, conv.ID, domain.ConversationActive, domain.ConversationWaitingForAgent)

	msg, err := s.Reply(context.Background(), "op-1", conv.ID, "Hi, Kwame here")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msg.Sender != domain.SenderAgent || msg.Metadata.Data().OperatorID != "op-1" {
		t.Fatalf("message = %+v", msg)
	}
	got, _ := repo.GetConversation(context.Background(), db, conv.ID)
	if got.Status != domain.ConversationWithAgent || got.AssignedTo == nil || *got.AssignedTo != "op-1" {
		t.Fatalf("conversation = %s assigned %v", got.Status, got.AssignedTo)
	}
	if len(msgr.sent) != 1 || msgr.sent[0].To != "+233241234567" {
		t.Fatalf("sent = %+v", msgr.sent)
	}
}

func TestAgentReply_ClosedConversationRejected(t *testing.T) {
	s, _, db, conv := newAgentFixture(t)
	setStatus(t, db, conv.ID, domain.ConversationActive, domain.ConversationClosed)

	if _, err := s.Reply(context.Background(), "op-1", conv.ID, "hello"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reply on closed conversation: %v", err)
	}
}

func TestAgentReply_DeliveryFailureKeepsMessage(t *testing.T) {
	s, msgr, db, conv := newAgentFixture(t)
	msgr.err = errors.New("131047 re-engagement window closed")

	msg, err := s.Reply(context.Background(), "op-1", conv.ID, "hello")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v; want ErrDeliveryFailed", err)
	}
	if msg == nil {
		t.Fatalf("stored message must be returned")
	}
	if _, err := repo.GetMessage(context.Background(), db, msg.ID); err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
}

func TestAgentUpdateStatus_Transitions(t *testing.T) {
	s, _, db, conv := newAgentFixture(t)
	ctx := context.Background()

	got, err := s.UpdateStatus(ctx, "op-1", conv.ID, domain.ConversationWithAgent)
	if err != nil {
		t.Fatalf("to WITH_AGENT: %v", err)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "op-1" {
		t.Fatalf("assignee = %v; want op-1", got.AssignedTo)
	}

	got, err = s.UpdateStatus(ctx, "op-1", conv.ID, domain.ConversationActive)
	if err != nil {
		t.Fatalf("hand back to AI: %v", err)
	}
	if got.Status != domain.ConversationActive || got.AssignedTo != nil {
		t.Fatalf("conversation = %s assigned %v; want ACTIVE unassigned", got.Status, got.AssignedTo)
	}

	if _, err := s.UpdateStatus(ctx, "op-1", conv.ID, domain.ConversationResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "op-1", conv.ID, domain.ConversationActive); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reopen resolved: %v; want ErrInvalidTransition", err)
	}
	if _, err := s.UpdateStatus(ctx, "op-1", conv.ID, "ARCHIVED"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("unknown status: %v; want ErrInvalidStatus", err)
	}

	var system int
	for _, m := range messagesOf(t, db, conv.ID) {
		if m.Sender == domain.SenderSystem && m.Metadata.Data().Reason == "status_change" {
			system++
		}
	}
	if system != 3 {
		t.Fatalf("status change records = %d; want 3", system)
	}

	// A resolved conversation frees the customer for a new one.
	cust, _ := repo.GetCustomerByPhone(ctx, db, "+233241234567")
	next, created, err := repo.FindOrCreateOpenConversation(ctx, db, cust.ID)
	if err != nil || !created || next.ID == conv.ID {
		t.Fatalf("new conversation after resolve: created=%v err=%v", created, err)
	}
}

func TestAgentListing(t *testing.T) {
	s, _, db, conv := newAgentFixture(t)
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		if _, err := repo.CreateMessage(ctx, db, repo.NewMessage{ConversationID: conv.ID, Sender: domain.SenderCustomer, Content: body}); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	convs, total, err := s.ListConversations(ctx, domain.ConversationActive, 1, 10)
	if err != nil || total != 1 || len(convs) != 1 {
		t.Fatalf("ListConversations = %d/%d, %v", len(convs), total, err)
	}
	if convs[0].Customer.PhoneNumber != "+233241234567" {
		t.Fatalf("customer not preloaded: %+v", convs[0].Customer)
	}
	if _, _, err := s.ListConversations(ctx, "BOGUS", 1, 10); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bogus filter: %v", err)
	}

	msgs, total, err := s.ListMessages(ctx, conv.ID, 2, 2)
	if err != nil || total != 3 || len(msgs) != 1 || msgs[0].Content != "three" {
		t.Fatalf("ListMessages page 2 = %+v total %d err %v", msgs, total, err)
	}
	if _, _, err := s.ListMessages(ctx, "missing", 1, 10); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("missing conversation: %v", err)
	}
}
