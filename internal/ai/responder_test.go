package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/search"
)

func fakeCompletions(t *testing.T, reply string, capture *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   "test-model",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReply_SendsSystemHistoryAndMessage(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := fakeCompletions(t, "  The Blue Shirt is GHS 49.99  ", &got)

	r := NewResponder(Options{
		APIKey: "test-key", BaseURL: srv.URL, Model: "test-model", MaxTokens: 120,
		Knowledge: []search.Document{{ID: "kb-1", Text: "Shipping: delivery within Accra takes 1-2 days"}},
	})
	c := &domain.ConversationContext{
		CustomerName: "Ama",
		Turns: []domain.Turn{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "Hello Ama!"},
		},
	}
	catalog := []domain.Product{{ID: "p1", Name: "Blue Shirt", Price: decimal.RequireFromString("49.99"), Currency: "GHS", Stock: 4, IsActive: true}}

	reply, err := r.Reply(context.Background(), Request{Message: "how much is delivery to Accra", Context: c, Catalog: catalog})
	require.NoError(t, err)
	assert.Equal(t, "The Blue Shirt is GHS 49.99", reply)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 120, got.MaxTokens)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Blue Shirt (GHS 49.99)")
	assert.Contains(t, got.Messages[0].Content, "delivery within Accra")
	assert.Contains(t, got.Messages[0].Content, "Customer: Ama")
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "how much is delivery to Accra", got.Messages[3].Content)
}

func TestReply_EmptyReply(t *testing.T) {
	srv := fakeCompletions(t, "   ", nil)
	r := NewResponder(Options{APIKey: "test-key", BaseURL: srv.URL, Model: "m"})
	_, err := r.Reply(context.Background(), Request{Message: "hi"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestReply_TimeoutIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	r := NewResponder(Options{APIKey: "test-key", BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := r.Reply(context.Background(), Request{Message: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline"), "err=%v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReply_UpstreamErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)

	r := NewResponder(Options{APIKey: "test-key", BaseURL: srv.URL, Model: "m"})
	_, err := r.Reply(context.Background(), Request{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}

func TestRelevantProducts_MatchesFirstThenCatalogOrder(t *testing.T) {
	var catalog []domain.Product
	for _, n := range []string{"Red Dress", "Green Hat", "Blue Shirt", "Black Belt"} {
		catalog = append(catalog, domain.Product{ID: n, Name: n})
	}
	got := RelevantProducts("do you have a blue shirt", catalog, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "Blue Shirt", got[0].Name)
	assert.Equal(t, "Red Dress", got[1].Name)

	assert.Len(t, RelevantProducts("x", catalog[:1], 5), 1)
}

func TestBuildSystemPrompt_EmptyCatalogAndCart(t *testing.T) {
	p := BuildSystemPrompt(nil, nil, &domain.ConversationContext{
		Cart: []domain.CartItem{{Name: "Blue Shirt", Quantity: 2, UnitPrice: decimal.RequireFromString("49.99")}},
	})
	assert.Contains(t, p, "catalog is empty")
	assert.Contains(t, p, "Customer: Unknown")
	assert.Contains(t, p, "Blue Shirt x2 - 49.99")
	assert.NotContains(t, p, "Store information")
}
