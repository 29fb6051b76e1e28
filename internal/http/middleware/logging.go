// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request ID injector, panic recovery and the
// request-scoped logger:
//
//   - RequestID() ensures every request carries a stable correlation ID
//     (propagated via X-Request-ID and stored in the Gin context).
//   - Recovery() converts panics into JSON 500 responses while preserving the
//     correlation ID and emitting a stack trace to logs.
//   - LoggerFrom() retrieves the request-scoped logger. The same logger is
//     attached to the request context, so services reached from a handler log
//     through log.Ctx(ctx) with the request and operator ids already set.
//
// Recommended order: RequestID(), RedactingLogger(), Recovery().
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey holds the request-scoped *zerolog.Logger.
	loggerKey = "logger"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
//
// If the incoming request has X-Request-ID, that value is reused; otherwise
// a new UUIDv4 is generated. The ID is written back to the response header
// and stored in the Gin context under "requestID".
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// GetRequestID returns the correlation id set by RequestID.
func GetRequestID(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// attachRequestLogger builds the request-scoped logger and stores it in both
// the Gin context and the request's context.Context.
func attachRequestLogger(c *gin.Context, path string) *zerolog.Logger {
	lc := log.With().
		Str("request_id", GetRequestID(c)).
		Str("method", c.Request.Method).
		Str("path", path)
	// otelgin runs first, so a sampled request already carries its span.
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
		lc = lc.Str("trace_id", sc.TraceID().String())
	}
	l := lc.Logger()
	c.Set(loggerKey, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
	return &l
}

// withOperator adds the authenticated operator to the request logger.
func withOperator(c *gin.Context, operatorID string) {
	l := LoggerFrom(c).With().Str("operator_id", operatorID).Logger()
	c.Set(loggerKey, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500 error
// { "request_id": "...", "code": "internal_error", "message": "internal server error" }
// when nothing has been written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := GetRequestID(c)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", rid).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, rid)
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": rid,
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger, or a fallback logger
// without request fields when none was attached. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// asString converts an arbitrary interface to a string, returning an empty
// string when the value is not a string.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s to max bytes and appends an ellipsis. A max <= 0 disables
// truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
