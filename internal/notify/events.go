// Package notify fans operator-facing events out to every operator with a
// reachable WhatsApp number and, optionally, to a NATS subject. Delivery is
// best effort: failures are logged and counted, never returned to the
// business operation that raised the event.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// Kind identifies an operator notification.
type Kind string

const (
	KindNewOrder        Kind = "NEW_ORDER"
	KindOrderUpdate     Kind = "ORDER_UPDATE"
	KindAINeedsHelp     Kind = "AI_NEEDS_HELP"
	KindLowStock        Kind = "LOW_STOCK"
	KindNewConversation Kind = "NEW_CONVERSATION"
)

// Event is a rendered notification plus the identifiers it concerns.
type Event struct {
	Kind           Kind      `json:"kind"`
	Text           string    `json:"text"`
	ConversationID string    `json:"conversation_id,omitempty"`
	OrderNumber    string    `json:"order_number,omitempty"`
	ProductID      string    `json:"product_id,omitempty"`
	At             time.Time `json:"at"`
}

// OrderLine is one item of an order notification.
type OrderLine struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// NewOrder renders the new-order alert.
func NewOrder(orderNumber, customer, phone string, lines []OrderLine, total decimal.Decimal, currency string) Event {
	var items strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&items, "• %s x%d - %s\n", l.Name, l.Quantity, domain.FormatMoney(l.UnitPrice, currency))
	}
	text := "🎉 *NEW ORDER RECEIVED!*\n\n" +
		fmt.Sprintf("📦 Order: #%s\n\n", orderNumber) +
		fmt.Sprintf("👤 Customer: %s\n📱 Phone: %s\n\n", customer, phone) +
		"🛒 *Items:*\n" + items.String() + "\n" +
		fmt.Sprintf("💰 *Total: %s*\n\n", domain.FormatMoney(total, currency)) +
		"⏳ Waiting for payment confirmation..."
	return Event{Kind: KindNewOrder, Text: text, OrderNumber: orderNumber, At: time.Now().UTC()}
}

var statusEmoji = map[domain.OrderStatus]string{
	domain.OrderConfirmed:  "✅",
	domain.OrderProcessing: "⚙️",
	domain.OrderShipped:    "🚚",
	domain.OrderDelivered:  "📦",
	domain.OrderCancelled:  "❌",
	domain.OrderRefunded:   "💸",
}

// OrderUpdate renders an order status change.
func OrderUpdate(orderNumber, customer string, status domain.OrderStatus) Event {
	emoji, ok := statusEmoji[status]
	if !ok {
		emoji = "📋"
	}
	text := fmt.Sprintf("%s *ORDER STATUS UPDATE*\n\n📦 Order: #%s\n👤 Customer: %s\n\nStatus: %s",
		emoji, orderNumber, customer, status)
	return Event{Kind: KindOrderUpdate, Text: text, OrderNumber: orderNumber, At: time.Now().UTC()}
}

// AINeedsHelp renders a handoff request.
func AINeedsHelp(conversationID, customer, phone, lastMessage, reason string) Event {
	text := "🆘 *AI NEEDS YOUR HELP!*\n\n" +
		fmt.Sprintf("👤 Customer: %s\n📱 Phone: %s\n\n", customer, phone) +
		fmt.Sprintf("💬 Last message:\n%q\n\n", lastMessage) +
		fmt.Sprintf("❓ Reason: %s\n\n", reason) +
		"👉 Please check your dashboard to take over this conversation.\n\n" +
		fmt.Sprintf("🔗 Conversation ID: %s", conversationID)
	return Event{Kind: KindAINeedsHelp, Text: text, ConversationID: conversationID, At: time.Now().UTC()}
}

// LowStock renders a restock alert.
func LowStock(productID, name string, stock int) Event {
	text := fmt.Sprintf("⚠️ *LOW STOCK ALERT*\n\n📦 Product: %s\n📊 Current Stock: %d\n\nPlease restock soon to avoid running out!", name, stock)
	return Event{Kind: KindLowStock, Text: text, ProductID: productID, At: time.Now().UTC()}
}

// NewConversation renders the first-contact alert.
func NewConversation(conversationID, customer, phone, firstMessage string) Event {
	text := fmt.Sprintf("💬 *NEW CUSTOMER CONVERSATION*\n\n👤 Customer: %s\n📱 Phone: %s\n\nFirst message:\n%q",
		customer, phone, firstMessage)
	return Event{Kind: KindNewConversation, Text: text, ConversationID: conversationID, At: time.Now().UTC()}
}
