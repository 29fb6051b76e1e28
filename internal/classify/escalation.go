package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// Escalation reasons recorded on the SYSTEM message of a handoff.
const (
	ReasonAgentRequested = "Customer requested agent assistance"
	ReasonRepetition     = "Customer repeated the same message"
	ReasonFrustration    = "Customer appears frustrated"
	ReasonComplexity     = "Issue needs human attention"
	ReasonAIConfusion    = "AI could not handle the request"
)

// Decision is the outcome of an escalation check.
type Decision struct {
	NeedsHelp bool
	Reason    string
}

// Thresholds tune AnalyzeConversationForHelp.
type Thresholds struct {
	RepeatCount         int // identical consecutive customer turns
	Window              int // most recent turns considered
	FrustrationLookback int // customer turns scanned for frustration
}

// DefaultThresholds are the contract values: 3 repeats, 5 turns, 2 lookback.
var DefaultThresholds = Thresholds{RepeatCount: 3, Window: 5, FrustrationLookback: 2}

var confusionPhrases = []string{
	"connect you with",
	"i don't understand",
	"i do not understand",
	"beyond my knowledge",
	"i'm not able to help",
	"i am not able to help",
	"i'm unable to help",
	"transfer you to",
	"escalate this",
}

var frustrationPhrases = []string{
	"frustrated",
	"frustrating",
	"annoyed",
	"angry",
	"ridiculous",
	"useless",
	"terrible",
	"not helpful",
	"waste of time",
	"worst",
	"talk to a human",
	"speak to a human",
	"real person",
}

var complexityPhrases = []string{
	"refund",
	"broken",
	"damaged",
	"urgent",
	"complaint",
	"wrong item",
	"never arrived",
	"charged twice",
	"scam",
	"fraud",
}

// DetectAIConfusion scans an AI reply for self-escalation phrases.
func DetectAIConfusion(reply string) Decision {
	low := strings.ToLower(strings.ReplaceAll(reply, "’", "'"))
	if containsAny(low, confusionPhrases) {
		return Decision{NeedsHelp: true, Reason: ReasonAIConfusion}
	}
	return Decision{}
}

// AnalyzeConversationForHelp applies three independent heuristics to the
// last th.Window turns; any one is enough:
//   - th.RepeatCount consecutive customer turns with identical normalized text
//   - frustration vocabulary in the last th.FrustrationLookback customer turns
//   - complexity vocabulary in the most recent customer turn
func AnalyzeConversationForHelp(turns []domain.Turn, th Thresholds) Decision {
	if th.Window > 0 && len(turns) > th.Window {
		turns = turns[len(turns)-th.Window:]
	}
	var customer []string
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			customer = append(customer, Normalize(t.Content))
		}
	}
	if len(customer) == 0 {
		return Decision{}
	}

	if th.RepeatCount > 1 {
		run := 1
		for i := 1; i < len(customer); i++ {
			if customer[i] != "" && customer[i] == customer[i-1] {
				run++
			} else {
				run = 1
			}
			if run >= th.RepeatCount {
				return Decision{NeedsHelp: true, Reason: ReasonRepetition}
			}
		}
	}

	lookback := th.FrustrationLookback
	if lookback < 1 || lookback > len(customer) {
		lookback = len(customer)
	}
	for _, c := range customer[len(customer)-lookback:] {
		if containsAny(c, frustrationPhrases) {
			return Decision{NeedsHelp: true, Reason: ReasonFrustration}
		}
	}

	if containsAny(customer[len(customer)-1], complexityPhrases) {
		return Decision{NeedsHelp: true, Reason: ReasonComplexity}
	}
	return Decision{}
}

// Normalize folds case and width, drops punctuation and collapses spaces,
// so "I need help!!" and "i  need HELP" compare equal.
func Normalize(s string) string {
	// A Caser is stateful, so each call gets its own.
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
