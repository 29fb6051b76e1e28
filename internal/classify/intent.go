// Package classify maps customer messages and AI replies to intents and
// escalation decisions. Everything here is a pure function over text: no
// I/O, no clocks, no randomness.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// Intent is the coarse purpose of a customer message.
type Intent string

const (
	IntentPurchase            Intent = "PURCHASE"
	IntentInquiryPrice        Intent = "INQUIRY_PRICE"
	IntentInquiryAvailability Intent = "INQUIRY_AVAILABILITY"
	IntentOrderTracking       Intent = "ORDER_TRACKING"
	IntentOrderModification   Intent = "ORDER_MODIFICATION"
	IntentHelp                Intent = "HELP"
	IntentGeneral             Intent = "GENERAL"
)

type intentRule struct {
	intent   Intent
	keywords []string
}

// intentRules is evaluated top to bottom; the first hit wins.
var intentRules = []intentRule{
	{IntentPurchase, []string{"buy", "purchase", "order"}},
	{IntentInquiryPrice, []string{"price", "cost", "how much"}},
	{IntentInquiryAvailability, []string{"available", "stock", "in stock"}},
	{IntentOrderTracking, []string{"track", "order status", "delivery"}},
	{IntentOrderModification, []string{"cancel", "return", "refund"}},
	{IntentHelp, []string{"help", "support", "agent"}},
}

var agentRequestKeywords = []string{"agent", "human", "real person", "representative"}

// DetectIntent labels text by case-insensitive keyword match.
func DetectIntent(text string) Intent {
	low := strings.ToLower(text)
	for _, r := range intentRules {
		if containsAny(low, r.keywords) {
			return r.intent
		}
	}
	return IntentGeneral
}

// RequestsAgent reports whether text explicitly asks for a person.
func RequestsAgent(text string) bool {
	return containsAny(strings.ToLower(text), agentRequestKeywords)
}

// ExtractMentionedProducts returns the active products whose name occurs in
// text, case-insensitively, in catalog order. Callers treat the first
// element as the product being bought.
func ExtractMentionedProducts(text string, catalog []domain.Product) []domain.Product {
	low := strings.ToLower(text)
	var out []domain.Product
	for _, p := range catalog {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if !p.IsActive || name == "" {
			continue
		}
		if strings.Contains(low, name) {
			out = append(out, p)
		}
	}
	return out
}

var firstInteger = regexp.MustCompile(`\d+`)

// ParseQuantity returns the first integer literal in text, or 1 when there
// is none or it is not a positive int. Digits inside product names count,
// so "iPhone 15" yields 15.
func ParseQuantity(text string) int {
	m := firstInteger.FindString(text)
	if m == "" {
		return 1
	}
	q, err := strconv.Atoi(m)
	if err != nil || q < 1 {
		return 1
	}
	return q
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
