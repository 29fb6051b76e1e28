package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

// PaystackOptions configures the Paystack client.
type PaystackOptions struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string // frontend base; "/order/success?orderId=" is appended
	Timeout     time.Duration
	HTTPClient  *http.Client
	Now         func() time.Time
}

// Paystack implements Provider over the Paystack REST API.
type Paystack struct {
	secret   string
	base     string
	callback string
	http     *http.Client
	now      func() time.Time
}

// NewPaystack builds a Paystack provider.
func NewPaystack(o PaystackOptions) *Paystack {
	hc := o.HTTPClient
	if hc == nil {
		t := o.Timeout
		if t <= 0 {
			t = 15 * time.Second
		}
		hc = &http.Client{Timeout: t}
	}
	if o.BaseURL == "" {
		o.BaseURL = "https://api.paystack.co"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Paystack{
		secret:   o.SecretKey,
		base:     strings.TrimRight(o.BaseURL, "/"),
		callback: strings.TrimRight(o.CallbackURL, "/"),
		http:     hc,
		now:      o.Now,
	}
}

// Name implements Provider.
func (p *Paystack) Name() string { return "paystack" }

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializePayment creates a hosted checkout for the order.
func (p *Paystack) InitializePayment(ctx context.Context, req InitRequest) (*Checkout, error) {
	ctx, span := otel.Tracer("payment/Paystack").Start(ctx, "InitializePayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	currency := strings.ToUpper(req.Currency)
	meta := map[string]string{
		"orderId":         req.OrderID,
		"orderNumber":     req.OrderNumber,
		"customerPhone":   req.CustomerPhone,
		"paymentProvider": p.Name(),
	}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	email := req.CustomerEmail
	if email == "" {
		email = "customer@example.com"
	}
	body := map[string]any{
		"amount":       domain.ToMinorUnits(req.Amount, currency),
		"currency":     currency,
		"email":        email,
		"reference":    fmt.Sprintf("%s-%d", req.OrderID, p.now().UnixMilli()),
		"callback_url": p.callback + "/order/success?orderId=" + url.QueryEscape(req.OrderID),
		"metadata":     meta,
		"channels":     []string{"card", "bank", "mobile_money", "ussd"},
	}

	var data struct {
		Reference        string `json:"reference"`
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
	}
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("initialize payment: %w", err)
	}
	if data.Reference == "" || data.AuthorizationURL == "" {
		return nil, fmt.Errorf("initialize payment: %w: incomplete checkout", ErrProvider)
	}
	return &Checkout{Reference: data.Reference, AuthorizationURL: data.AuthorizationURL, AccessCode: data.AccessCode}, nil
}

// VerifyPayment fetches the charge's status straight from Paystack.
func (p *Paystack) VerifyPayment(ctx context.Context, reference string) (*Verification, error) {
	ctx, span := otel.Tracer("payment/Paystack").Start(ctx, "VerifyPayment")
	defer span.End()

	var data struct {
		Status    string     `json:"status"`
		Reference string     `json:"reference"`
		Amount    int64      `json:"amount"`
		Currency  string     `json:"currency"`
		Channel   string     `json:"channel"`
		PaidAt    *time.Time `json:"paid_at"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	return &Verification{
		Reference: data.Reference,
		Status:    data.Status,
		Amount:    domain.FromMinorUnits(data.Amount, data.Currency),
		Currency:  data.Currency,
		Channel:   data.Channel,
		PaidAt:    data.PaidAt,
	}, nil
}

// ValidateSignature compares the hex HMAC-SHA512 of body, keyed with the
// secret key, against signature in constant time.
func (p *Paystack) ValidateSignature(body []byte, signature string) bool {
	if p.secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ParseEvent decodes the webhook envelope. Refund events point at the
// original transaction through data.transaction_reference.
func (p *Paystack) ParseEvent(body []byte) (*Event, error) {
	var raw struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Event == "" {
		return nil, ErrMalformedEvent
	}
	var data struct {
		Reference            string          `json:"reference"`
		TransactionReference string          `json:"transaction_reference"`
		GatewayResponse      string          `json:"gateway_response"`
		Channel              string          `json:"channel"`
		Amount               int64           `json:"amount"`
		Currency             string          `json:"currency"`
		Metadata             json.RawMessage `json:"metadata"`
	}
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, ErrMalformedEvent
		}
	}
	ev := &Event{
		Type:      raw.Event,
		Reference: data.Reference,
		Reason:    data.GatewayResponse,
		Channel:   data.Channel,
		Amount:    data.Amount,
		Currency:  data.Currency,
		Raw:       raw.Data,
	}
	// metadata is an object when set at initialization, "" or 0 otherwise.
	var meta struct {
		OrderID string `json:"orderId"`
	}
	if json.Unmarshal(data.Metadata, &meta) == nil {
		ev.OrderID = meta.OrderID
	}
	if raw.Event == EventRefundProcessed && data.TransactionReference != "" {
		ev.Reference = data.TransactionReference
	}
	return ev, nil
}

func (p *Paystack) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("%w: status %d: undecodable body", ErrProvider, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 || !env.Status {
		return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: %v", ErrProvider, err)
		}
	}
	return nil
}
