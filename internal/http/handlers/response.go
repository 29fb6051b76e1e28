// Package handlers provides the HTTP handlers for the WhatsApp webhooks, the
// payment webhook and the operator API.
//
// This file defines the response helpers shared by every endpoint:
//   - fail() writes the {request_id, code, message} envelope and logs 5xx
//     with the request-scoped logger.
//   - ok() writes success responses.
//   - ack() answers webhook deliveries, which only care about the status.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "conversation not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/whatsapp-storefront/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to operators)
	Message string `json:"message" example:"conversation not found"`
}

// AckResponse is returned to webhook callers.
type AckResponse struct {
	Status string `json:"status" example:"ok"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: middleware.GetRequestID(c),
		Code:      code,
		Message:   msg,
	}
	if resp.RequestID == "" {
		resp.RequestID = c.Writer.Header().Get("X-Request-ID")
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// ack acknowledges a webhook delivery so the sender does not retry it.
func ack(c *gin.Context) {
	c.JSON(http.StatusOK, AckResponse{Status: "ok"})
}
