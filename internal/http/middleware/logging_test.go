package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf) // plain JSON lines
	return &buf
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if GetRequestID(c) == "" {
			t.Fatalf("requestID not set in context")
		}
		c.String(http.StatusOK, "ok")
	})

	// No header -> generated
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rid", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	// Lowercase header -> propagated
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req2.Header.Set(strings.ToLower(requestIDHeader), "abc-123")
	r.ServeHTTP(w2, req2)
	if got := w2.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestRequestLogger_ReachesServicesThroughContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/svc", func(c *gin.Context) {
		// What a service does with the ctx it was handed.
		log.Ctx(c.Request.Context()).Info().Msg("from service")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/svc", nil)
	req.Header.Set(requestIDHeader, "rid-svc")
	r.ServeHTTP(w, req)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if m["message"] == "from service" {
			found = true
			if m["request_id"] != "rid-svc" || m["path"] != "/svc" {
				t.Fatalf("service log missing request fields: %v", m)
			}
		}
	}
	if !found {
		t.Fatalf("service log not written:\n%s", buf.String())
	}
}

func TestRequestLogger_CarriesTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})

	r := gin.New()
	// Stands in for otelgin.
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(trace.ContextWithSpanContext(c.Request.Context(), sc))
		c.Next()
	})
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/traced", func(c *gin.Context) {
		log.Ctx(c.Request.Context()).Info().Msg("traced")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/traced", nil))

	if !strings.Contains(buf.String(), `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`) {
		t.Fatalf("expected trace_id on request logs:\n%s", buf.String())
	}
}

func TestWithOperator_AddsOperatorField(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/op", func(c *gin.Context) {
		withOperator(c, "op-7")
		log.Ctx(c.Request.Context()).Info().Msg("handled")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/op", nil))

	out := buf.String()
	if strings.Count(out, `"operator_id":"op-7"`) != 2 {
		t.Fatalf("expected operator_id on handler and access log lines:\n%s", out)
	}
}

func TestRecovery_PanicsToJSON500AndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.Use(Recovery())
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from Recovery, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["message"] != "internal server error" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["request_id"] == "" || body["request_id"] != w.Header().Get(requestIDHeader) {
		t.Fatalf("request_id mismatch: body=%v header=%q", body["request_id"], w.Header().Get(requestIDHeader))
	}
	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, `"level":"error"`) {
		t.Fatalf("expected panic log, got:\n%s", out)
	}
}

func TestRecovery_PanicAfterWrite_NoJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery())
	r.GET("/panic-after-write", func(c *gin.Context) {
		c.String(http.StatusOK, "partial-body")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic-after-write", nil))

	if strings.Contains(w.Body.String(), "internal_error") || strings.Contains(strings.ToLower(w.Header().Get("Content-Type")), "application/json") {
		t.Fatalf("expected no JSON error body when panic after write; got CT=%q body=%q",
			w.Header().Get("Content-Type"), w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackWithoutRequestFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/use", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("custom")
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/use", nil))

	if !strings.Contains(buf.String(), `"message":"custom"`) {
		t.Fatalf("expected custom log in fallback")
	}
	if strings.Contains(buf.String(), `"request_id"`) {
		t.Fatalf("fallback logger unexpectedly had request_id")
	}
}

func TestHelpers_asString_and_truncate(t *testing.T) {
	if asString("x") != "x" || asString(123) != "" {
		t.Fatalf("asString failed")
	}
	if truncate("hello", 10) != "hello" {
		t.Fatalf("truncate no-op failed")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate result = %q; want %q", got, "abcde…")
	}
	if truncate("abc", 0) != "abc" {
		t.Fatalf("truncate disable failed")
	}
}
