package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/http/middleware"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
	"github.com/tbourn/whatsapp-storefront/internal/services"
	"github.com/tbourn/whatsapp-storefront/internal/whatsapp"
)

const testJWTSecret = "handlers-test-secret"

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
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
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedConversation(t *testing.T, db *gorm.DB, phone, name string) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	cust, _, err := repo.FindOrCreateCustomer(ctx, db, phone, name)
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	conv, _, err := repo.FindOrCreateOpenConversation(ctx, db, cust.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	return conv
}

// ---------- fakes ----------

type sentText struct{ To, Body string }

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (f *fakeMessenger) SendText(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentText{To: to, Body: body})
	return "wamid.out." + uuid.NewString(), nil
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type stubInbound struct {
	mu   sync.Mutex
	seen []whatsapp.InboundMessage
	err  error
	done chan struct{} // closed after the first call when non-nil
}

func (s *stubInbound) HandleInbound(_ context.Context, msg whatsapp.InboundMessage) (services.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, msg)
	if s.done != nil && len(s.seen) == 1 {
		close(s.done)
	}
	if s.err != nil {
		return services.OutcomeFailed, s.err
	}
	return services.OutcomeAIReply, nil
}

func (s *stubInbound) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.seen))
	for _, m := range s.seen {
		out = append(out, m.ID)
	}
	return out
}

type stubPayments struct {
	result services.WebhookResult
	err    error
	sig    string
	body   []byte
}

func (s *stubPayments) HandleWebhook(_ context.Context, body []byte, signature string) (services.WebhookResult, error) {
	s.body, s.sig = body, signature
	return s.result, s.err
}

type failingOperator struct{ *services.AgentService }

func (failingOperator) ListConversations(context.Context, domain.ConversationStatus, int, int) ([]domain.Conversation, int64, error) {
	return nil, 0, errors.New("db down")
}

// ---------- router + request helpers ----------

func operatorToken(t *testing.T, operatorID string) string {
	t.Helper()
	tok, err := middleware.NewTokenValidator(testJWTSecret, "").Issue(operatorID, "agent", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// newOperatorRouter mounts the operator routes behind auth and idempotency,
// the way the production router does.
func newOperatorRouter(h *Handlers, db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1", middleware.OperatorAuth(middleware.NewTokenValidator(testJWTSecret, "")))
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.PUT("/conversations/:id/status", h.UpdateStatus)
	api.POST("/conversations/:id/messages",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
			func(ctx context.Context, operatorID, convID, key string, now time.Time) (string, bool, error) {
				rec, err := repo.GetIdempotency(ctx, db, operatorID, convID, key, now)
				if err != nil {
					return "", false, nil
				}
				return rec.MessageID, true, nil
			}),
		h.PostMessage)
	return r
}

func newWebhookRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/webhooks/whatsapp", h.VerifyWebhook)
	r.POST("/webhooks/whatsapp", h.ReceiveWhatsApp)
	r.POST("/webhooks/whatsapp/status", h.ReceiveStatus)
	r.POST("/webhooks/paystack", h.PaystackWebhook)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

// textWebhook builds a Cloud API envelope with one text message per id.
func textWebhook(from, name string, ids ...string) []byte {
	msgs := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, map[string]any{
			"from": from, "id": id, "timestamp": "1700000000", "type": "text",
			"text": map[string]string{"body": "hello " + id},
		})
	}
	env := map[string]any{
		"object": "whatsapp_business_account",
		"entry": []map[string]any{{
			"id": "waba",
			"changes": []map[string]any{{
				"field": "messages",
				"value": map[string]any{
					"messaging_product": "whatsapp",
					"contacts":          []map[string]any{{"wa_id": from, "profile": map[string]string{"name": name}}},
					"messages":          msgs,
				},
			}},
		}},
	}
	raw, _ := json.Marshal(env)
	return raw
}
