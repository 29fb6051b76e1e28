package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Turn roles used in the conversation context window.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged entry of the context window.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CartItem is a product the customer tried to buy in this conversation.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ConversationContext is the cache-only conversational memory. It is never
// authoritative: the message log is, and the context can be rebuilt from it.
type ConversationContext struct {
	ConversationID string     `json:"conversation_id"`
	CustomerName   string     `json:"customer_name,omitempty"`
	Turns          []Turn     `json:"turns"`
	Intent         string     `json:"intent,omitempty"`
	Cart           []CartItem `json:"cart,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AppendTurns adds turns to the window and drops the oldest beyond max.
func (c *ConversationContext) AppendTurns(max int, turns ...Turn) {
	c.Turns = append(c.Turns, turns...)
	if max > 0 && len(c.Turns) > max {
		c.Turns = append([]Turn(nil), c.Turns[len(c.Turns)-max:]...)
	}
}

// TurnFromMessage maps a persisted message onto a context turn. Customer
// messages become user turns; everything the store sent becomes assistant.
func TurnFromMessage(m Message) Turn {
	role := RoleAssistant
	if m.Sender == SenderCustomer {
		role = RoleUser
	}
	return Turn{Role: role, Content: m.Content}
}
