package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/whatsapp-storefront/internal/ai"
	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/notify"
	"github.com/tbourn/whatsapp-storefront/internal/payment"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

// ---------- database ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, name, price string, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:          uuid.NewString(),
		Name:        name,
		Description: name + " from the store",
		Price:       decimal.RequireFromString(price),
		Currency:    "GHS",
		Stock:       stock,
		IsActive:    true,
	}
	if err := repo.UpsertProduct(context.Background(), db, p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func stockOf(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), db, id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}

func messagesOf(t *testing.T, db *gorm.DB, conversationID string) []domain.Message {
	t.Helper()
	out, err := repo.ListMessagesPage(context.Background(), db, conversationID, 0, 1000)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return out
}

func openConversation(t *testing.T, db *gorm.DB, phone string) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	cust, err := repo.GetCustomerByPhone(ctx, db, phone)
	if err != nil {
		t.Fatalf("customer %s: %v", phone, err)
	}
	conv, err := repo.FindOpenConversation(ctx, db, cust.ID)
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	return conv
}

// ---------- messenger ----------

type sentText struct {
	To   string
	Body string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (m *fakeMessenger) SendText(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentText{To: to, Body: body})
	return "wamid.out." + uuid.NewString(), nil
}

func (m *fakeMessenger) bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Body
	}
	return out
}

// ---------- AI ----------

type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []ai.Request
}

func (r *fakeResponder) Reply(_ context.Context, req ai.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// The service keeps appending turns to req.Context after Reply returns.
	if req.Context != nil {
		cp := *req.Context
		cp.Turns = append([]domain.Turn(nil), req.Context.Turns...)
		cp.Cart = append([]domain.CartItem(nil), req.Context.Cart...)
		req.Context = &cp
	}
	r.reqs = append(r.reqs, req)
	return r.reply, r.err
}

func (r *fakeResponder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

// ---------- notifier ----------

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

func (n *recordingNotifier) count(k notify.Kind) int {
	c := 0
	for _, got := range n.kinds() {
		if got == k {
			c++
		}
	}
	return c
}

// ---------- payment provider ----------

// fakeProvider accepts the signature "valid" and decodes bodies written by
// eventBody. Verification results are keyed by reference.
type fakeProvider struct {
	mu        sync.Mutex
	initErr   error
	verifyErr error
	verified  map[string]*payment.Verification
	inits     []payment.InitRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{verified: map[string]*payment.Verification{}}
}

func (p *fakeProvider) Name() string { return "paystack" }

func (p *fakeProvider) InitializePayment(_ context.Context, req payment.InitRequest) (*payment.Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initErr != nil {
		return nil, p.initErr
	}
	p.inits = append(p.inits, req)
	ref := req.OrderID + "-ref"
	return &payment.Checkout{
		Reference:        ref,
		AuthorizationURL: "https://checkout.test/" + ref,
		AccessCode:       "ac_" + req.OrderNumber,
	}, nil
}

func (p *fakeProvider) VerifyPayment(_ context.Context, reference string) (*payment.Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	v, ok := p.verified[reference]
	if !ok {
		return &payment.Verification{Reference: reference, Status: "abandoned"}, nil
	}
	return v, nil
}

func (p *fakeProvider) ValidateSignature(_ []byte, signature string) bool {
	return signature == "valid"
}

type testEvent struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
	Amount    int64  `json:"amount"`
}

func (p *fakeProvider) ParseEvent(body []byte) (*payment.Event, error) {
	var e testEvent
	if err := json.Unmarshal(body, &e); err != nil || e.Type == "" {
		return nil, errors.Join(payment.ErrMalformedEvent, err)
	}
	return &payment.Event{
		Type:      e.Type,
		Reference: e.Reference,
		OrderID:   e.OrderID,
		Reason:    e.Reason,
		Amount:    e.Amount,
		Raw:       body,
	}, nil
}

func eventBody(t *testing.T, e testEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}
