package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"unicode"
)

// ModeSubscribe is the only hub.mode accepted by the verification handshake.
const ModeSubscribe = "subscribe"

// ErrMalformed is returned for payloads that are not webhook envelopes.
var ErrMalformed = errors.New("whatsapp: malformed webhook payload")

// Payload is the webhook envelope posted by the Cloud API.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business account entry in a webhook delivery.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single field update inside an Entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages and delivery statuses of a Change.
type Value struct {
	MessagingProduct string       `json:"messaging_product"`
	Contacts         []Contact    `json:"contacts"`
	Messages         []RawMessage `json:"messages"`
	Statuses         []Status     `json:"statuses"`
}

// Contact is the sender profile WhatsApp attaches to inbound messages.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// RawMessage is an inbound message as delivered, before normalization.
type RawMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image *struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"image,omitempty"`
}

// Status is a delivery receipt for a message the business sent.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors,omitempty"`
}

// InboundMessage is a customer message flattened out of the envelope.
type InboundMessage struct {
	From string // raw sender, digits without plus
	ID   string // wamid
	Body string // text body or image caption
	Name string // profile name, may be empty
	Type string
}

// IsText reports whether the message carries text the bot can route.
func (m InboundMessage) IsText() bool {
	return (m.Type == "text" || m.Type == "image") && strings.TrimSpace(m.Body) != ""
}

// Parse decodes a webhook body into its inbound messages and statuses.
// An envelope without messages yields an empty slice, not an error.
func Parse(body []byte) ([]InboundMessage, []Status, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, nil, ErrMalformed
	}
	if p.Entry == nil {
		return nil, nil, ErrMalformed
	}
	var msgs []InboundMessage
	var statuses []Status
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			names := make(map[string]string, len(ch.Value.Contacts))
			for _, c := range ch.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range ch.Value.Messages {
				if m.ID == "" || m.From == "" {
					continue
				}
				in := InboundMessage{From: m.From, ID: m.ID, Type: m.Type, Name: names[m.From]}
				if in.Name == "" && len(ch.Value.Contacts) == 1 {
					in.Name = ch.Value.Contacts[0].Profile.Name
				}
				switch {
				case m.Text != nil:
					in.Body = m.Text.Body
				case m.Image != nil:
					in.Body = m.Image.Caption
				}
				msgs = append(msgs, in)
			}
			statuses = append(statuses, ch.Value.Statuses...)
		}
	}
	return msgs, statuses, nil
}

// VerifyChallenge implements the subscription handshake: it returns the
// challenge and true only for mode "subscribe" with the expected token.
func VerifyChallenge(mode, token, challenge, expected string) (string, bool) {
	if mode != ModeSubscribe || expected == "" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(expected)) {
		return "", false
	}
	return challenge, true
}

// ValidSignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the raw request body.
func ValidSignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// NormalizePhone reduces a sender address to "+<digits>". It returns ""
// when no digits remain.
func NormalizePhone(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:")
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range raw {
		if unicode.IsDigit(r) && r < 128 {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	return b.String()
}
