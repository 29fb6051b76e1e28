// Package whatsapp talks to the WhatsApp Business Cloud API: it sends
// outbound messages and parses and authenticates inbound webhook calls.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrTemporary marks a send failure worth retrying (network, 429, 5xx).
	ErrTemporary = errors.New("whatsapp: temporary send failure")
	// ErrPermanent marks a send failure that retrying will not fix.
	ErrPermanent = errors.New("whatsapp: permanent send failure")
)

// SendError describes a failed Graph API call.
type SendError struct {
	Status    int
	Code      int
	Message   string
	Temporary bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("whatsapp send: status=%d code=%d: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the failure onto ErrTemporary or ErrPermanent.
func (e *SendError) Unwrap() error {
	if e.Temporary {
		return ErrTemporary
	}
	return ErrPermanent
}

// IsTemporary reports whether err is a retryable send failure.
func IsTemporary(err error) bool { return errors.Is(err, ErrTemporary) }

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	MaxRetries    int
	HTTPClient    *http.Client
}

// Client sends messages on behalf of one business phone number.
type Client struct {
	endpoint   string
	token      string
	maxRetries int
	http       *http.Client
	newBackOff func() backoff.BackOff
}

// NewClient builds a Client. A nil HTTPClient gets a 15s timeout client.
func NewClient(o Options) *Client {
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	base := strings.TrimRight(o.BaseURL, "/")
	return &Client{
		endpoint:   fmt.Sprintf("%s/%s/%s/messages", base, o.APIVersion, o.PhoneNumberID),
		token:      o.AccessToken,
		maxRetries: o.MaxRetries,
		http:       hc,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type imageBody struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type outbound struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *imageBody `json:"image,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, outbound{
		Type: "text",
		To:   recipient(to),
		Text: &textBody{PreviewURL: true, Body: body},
	})
}

// SendImage sends an image by public link with body as its caption.
func (c *Client) SendImage(ctx context.Context, to, link, caption string) (string, error) {
	return c.send(ctx, outbound{
		Type:  "image",
		To:    recipient(to),
		Image: &imageBody{Link: link, Caption: caption},
	})
}

func (c *Client) send(ctx context.Context, msg outbound) (string, error) {
	ctx, span := otel.Tracer("whatsapp/Client").Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.type", msg.Type))

	msg.MessagingProduct = "whatsapp"
	msg.RecipientType = "individual"
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	var id string
	op := func() error {
		var err error
		id, err = c.post(ctx, payload)
		if err != nil && !IsTemporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		span.RecordError(err)
		return "", err
	}
	return id, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &SendError{Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &SendError{Message: err.Error(), Temporary: ctx.Err() == nil}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode/100 != 2 {
		se := &SendError{
			Status:    resp.StatusCode,
			Message:   http.StatusText(resp.StatusCode),
			Temporary: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		var ge graphError
		if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
			se.Message, se.Code = ge.Error.Message, ge.Error.Code
		}
		return "", se
	}

	var sr sendResponse
	if err := json.Unmarshal(raw, &sr); err != nil || len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", &SendError{Status: resp.StatusCode, Message: "response carries no message id"}
	}
	return sr.Messages[0].ID, nil
}

// recipient strips the channel prefix and the leading plus the Graph API
// does not accept.
func recipient(to string) string {
	to = strings.TrimPrefix(to, "whatsapp:")
	return strings.TrimPrefix(strings.TrimSpace(to), "+")
}
