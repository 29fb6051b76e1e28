package domain

// ConversationStatus is the lifecycle state of a Conversation.
type ConversationStatus string

const (
	ConversationActive          ConversationStatus = "ACTIVE"
	ConversationWaitingForAgent ConversationStatus = "WAITING_FOR_AGENT"
	ConversationWithAgent       ConversationStatus = "WITH_AGENT"
	ConversationResolved        ConversationStatus = "RESOLVED"
	ConversationClosed          ConversationStatus = "CLOSED"
)

// OpenConversationStatuses lists the non-terminal states. A customer has at
// most one conversation in any of them.
var OpenConversationStatuses = []ConversationStatus{
	ConversationActive,
	ConversationWaitingForAgent,
	ConversationWithAgent,
}

var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationActive:          {ConversationWaitingForAgent, ConversationWithAgent, ConversationResolved, ConversationClosed},
	ConversationWaitingForAgent: {ConversationWithAgent, ConversationActive, ConversationResolved, ConversationClosed},
	ConversationWithAgent:       {ConversationActive, ConversationResolved, ConversationClosed},
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationWaitingForAgent, ConversationWithAgent,
		ConversationResolved, ConversationClosed:
		return true
	}
	return false
}

// Terminal reports whether s ends the conversation.
func (s ConversationStatus) Terminal() bool {
	return s == ConversationResolved || s == ConversationClosed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Terminal states are final.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	for _, allowed := range conversationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sender identifies who authored a Message.
type Sender string

const (
	SenderCustomer Sender = "CUSTOMER"
	SenderAI       Sender = "AI"
	SenderAgent    Sender = "AGENT"
	SenderSystem   Sender = "SYSTEM"
)

// OrderStatus is the fulfilment state of an Order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

// PaymentStatus is the payment state of an Order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// OperatorRole scopes what an operator may do in the dashboard.
type OperatorRole string

const (
	RoleAdmin OperatorRole = "ADMIN"
	RoleAgent OperatorRole = "AGENT"
)
