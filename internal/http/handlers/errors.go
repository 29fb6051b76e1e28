// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Generic codes mirror HTTP status semantics. Domain codes
// cover outcomes the status alone cannot convey, such as a reply that was
// stored but never reached the customer.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_transition",
//	  "message": "conversation is CLOSED"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidStatus     = "invalid_status"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeDeliveryFailed    = "delivery_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeReplyFailed       = "reply_failed"
	ErrCodeWebhookFailed     = "webhook_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)
