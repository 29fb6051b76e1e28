package ai

import (
	"fmt"
	"strings"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/search"
)

// RelevantProducts picks up to limit catalog entries for the prompt: the
// best search matches for message first, then the rest in catalog order.
func RelevantProducts(message string, catalog []domain.Product, limit int) []domain.Product {
	if len(catalog) <= limit {
		return catalog
	}
	docs := make([]search.Document, len(catalog))
	byID := make(map[string]domain.Product, len(catalog))
	for i, p := range catalog {
		docs[i] = search.Document{ID: p.ID, Text: p.Name + " " + p.Category + " " + p.Description}
		byID[p.ID] = p
	}
	out := make([]domain.Product, 0, limit)
	seen := make(map[string]bool, limit)
	for _, r := range search.New(docs).TopK(message, limit) {
		out = append(out, byID[r.ID])
		seen[r.ID] = true
	}
	for _, p := range catalog {
		if len(out) >= limit {
			break
		}
		if !seen[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// BuildSystemPrompt assembles the instructions, catalog, knowledge and
// conversation state the model answers from.
func BuildSystemPrompt(products []domain.Product, knowledge []search.Result, c *domain.ConversationContext) string {
	var b strings.Builder
	b.WriteString(`You are a helpful WhatsApp sales assistant for an online store. Your role is to:
1. Help customers discover and learn about products
2. Answer questions about availability, pricing and product details
3. Guide customers through the purchase process
4. Provide friendly customer service

`)
	b.WriteString("Available products:\n")
	if len(products) == 0 {
		b.WriteString("- (catalog is empty)\n")
	}
	for _, p := range products {
		desc := p.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&b, "- %s (%s) - %s - Stock: %d units\n", p.Name, domain.FormatMoney(p.Price, p.Currency), desc, p.Stock)
	}

	if len(knowledge) > 0 {
		b.WriteString("\nStore information:\n")
		for _, k := range knowledge {
			fmt.Fprintf(&b, "- %s\n", k.Snippet)
		}
	}

	b.WriteString("\nConversation context:\n")
	name := "Unknown"
	var cart []domain.CartItem
	if c != nil {
		if c.CustomerName != "" {
			name = c.CustomerName
		}
		cart = c.Cart
	}
	fmt.Fprintf(&b, "- Customer: %s\n- Cart items: %d\n", name, len(cart))
	for _, it := range cart {
		fmt.Fprintf(&b, "  * %s x%d - %s\n", it.Name, it.Quantity, it.UnitPrice.StringFixed(2))
	}

	b.WriteString(`
Guidelines:
- Be friendly, professional and concise (2-3 sentences when possible)
- Only recommend products from the list and check stock first
- If a product is not listed, politely say it is not available
- To buy, the customer can say "buy <quantity> <product name>" and will receive a payment link
- If you need to escalate to a human agent, say "Let me connect you with our team"
- Use emojis sparingly`)
	return b.String()
}
