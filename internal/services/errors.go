// Package services holds the storefront's business logic: the conversation
// state machine that routes inbound WhatsApp messages, the order/payment
// orchestrator, payment webhook reconciliation and operator actions.
//
// Errors declared here are translated into HTTP status codes and
// customer-facing text by the handler layer.
package services

import "errors"

// Conversation errors.
var (
	// ErrInvalidInbound is returned for inbound messages without a sender
	// address or upstream id. They are acknowledged and dropped.
	ErrInvalidInbound = errors.New("inbound message lacks sender or id")

	// ErrConversationNotFound indicates that the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidStatus is returned for unknown conversation status values.
	ErrInvalidStatus = errors.New("unknown conversation status")

	// ErrInvalidTransition is returned when the lifecycle forbids the
	// requested status change, or another actor changed the status first.
	ErrInvalidTransition = errors.New("conversation status transition not allowed")

	// ErrEmptyContent is returned when an agent reply is blank.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTooLong is returned when an agent reply exceeds the configured limit.
	ErrTooLong = errors.New("message content too long")

	// ErrDeliveryFailed is returned when a message was stored but WhatsApp
	// did not accept it.
	ErrDeliveryFailed = errors.New("message stored but not delivered")
)

// Order and payment errors.
var (
	// ErrOrderNotFound indicates that no order matches a payment reference.
	ErrOrderNotFound = errors.New("order not found")

	// ErrVerificationMismatch is returned when the provider's own view of a
	// charge disagrees with the webhook claiming it succeeded.
	ErrVerificationMismatch = errors.New("payment verification disagrees with webhook")

	// ErrMissingReference is returned for payment events that carry no
	// transaction reference.
	ErrMissingReference = errors.New("payment event has no reference")
)
