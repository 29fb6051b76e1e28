// Package services – OrderService
//
// OrderService turns a detected purchase into a PENDING order, requests a
// checkout link from the payment provider and sends it to the customer.
// Stock is not touched here; it is committed when the payment is confirmed.

package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/classify"
	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/notify"
	"github.com/tbourn/whatsapp-storefront/internal/observability"
	"github.com/tbourn/whatsapp-storefront/internal/payment"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

// OrderErrorText is sent when any step after the stock check fails.
const OrderErrorText = "Sorry, there was an error processing your order. Please try again or contact our support team."

// PurchaseRequest is a purchase intent resolved to catalog products.
type PurchaseRequest struct {
	ConversationID string
	Customer       *domain.Customer
	Phone          string
	Products       []domain.Product // mentioned products, catalog order
	Text           string
	Context        *domain.ConversationContext // cart is updated in place
}

// PurchaseStatus is the result class of HandlePurchase.
type PurchaseStatus string

const (
	PurchaseCreated           PurchaseStatus = "created"
	PurchaseInsufficientStock PurchaseStatus = "insufficient_stock"
	PurchaseFailed            PurchaseStatus = "failed"
)

// PurchaseResult reports what the customer was told and the order, if any.
type PurchaseResult struct {
	Status PurchaseStatus
	Order  *domain.Order
	Reply  string
}

// OrderService runs the purchase flow.
type OrderService struct {
	DB        *gorm.DB
	Messenger Messenger
	Payments  payment.Provider
	Notifier  Notifier
	Now       func() time.Time
}

// PrimaryProduct is the purchase target: one product per purchase message,
// the first mentioned in catalog order.
func PrimaryProduct(products []domain.Product) (domain.Product, bool) {
	if len(products) == 0 {
		return domain.Product{}, false
	}
	return products[0], true
}

const orderSuffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderNumber returns "ORD-<unix ms>-<9 base36 chars>". The suffix comes
// from crypto/rand; the unique index on order_number backs it up.
func NewOrderNumber(now time.Time) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(orderSuffixAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(orderSuffixAlphabet[n.Int64()])
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), b.String()), nil
}

// InsufficientStockText offers the customer what is left.
func InsufficientStockText(p domain.Product) string {
	if p.Stock <= 0 {
		return fmt.Sprintf("Sorry, %s is currently out of stock. We'll let you know as soon as it's back!", p.Name)
	}
	return fmt.Sprintf("Sorry, we only have %d units of %s in stock. Would you like to order %d instead?", p.Stock, p.Name, p.Stock)
}

// PaymentLinkText is the checkout message sent to the customer.
func PaymentLinkText(orderNumber, url string, amount string, provider string) string {
	return fmt.Sprintf("💳 *Complete Your Payment*\n\nOrder #%s\nAmount: %s\nPayment Provider: %s\n\nClick the link below to pay securely:\n%s\n\nThis link expires in 24 hours.",
		orderNumber, amount, providerTitle(provider), url)
}

func providerTitle(name string) string {
	return cases.Title(language.English).String(name)
}

// HandlePurchase runs the purchase flow for the primary product. Failures
// after the stock check are answered with OrderErrorText and returned for
// logging; an order created before the failure stays PENDING.
func (s *OrderService) HandlePurchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "HandlePurchase",
		trace.WithAttributes(attribute.String("conversation.id", req.ConversationID)))
	defer span.End()

	p, ok := PrimaryProduct(req.Products)
	if !ok || req.Customer == nil {
		return PurchaseResult{Status: PurchaseFailed}, errors.New("purchase request without product or customer")
	}
	lg := log.Ctx(ctx).With().Str("conversation_id", req.ConversationID).Str("product_id", p.ID).Logger()
	if len(req.Products) > 1 {
		names := make([]string, 0, len(req.Products)-1)
		for _, extra := range req.Products[1:] {
			names = append(names, extra.Name)
		}
		lg.Info().Strs("ignored_products", names).Msg("purchase message mentions several products; using the first")
	}

	qty := classify.ParseQuantity(req.Text)
	span.SetAttributes(attribute.Int("order.quantity", qty))

	if p.Stock < qty {
		text := InsufficientStockText(p)
		s.reply(ctx, req, text, domain.MessageMetadata{Reason: string(PurchaseInsufficientStock)})
		return PurchaseResult{Status: PurchaseInsufficientStock, Reply: text}, nil
	}

	order, checkout, err := s.placeOrder(ctx, req, p, qty)
	if err != nil {
		span.RecordError(err)
		s.reply(ctx, req, OrderErrorText, domain.MessageMetadata{Reason: "order_failed"})
		return PurchaseResult{Status: PurchaseFailed, Order: order, Reply: OrderErrorText}, err
	}

	s.sendProductImage(ctx, req.Phone, p, qty)

	amount := domain.FormatMoney(order.TotalAmount, order.Currency)
	if _, err := s.send(ctx, req.Phone, PaymentLinkText(order.OrderNumber, checkout.AuthorizationURL, amount, s.Payments.Name())); err != nil {
		lg.Error().Err(err).Str("order_number", order.OrderNumber).Msg("send payment link")
		s.reply(ctx, req, OrderErrorText, domain.MessageMetadata{Reason: "payment_link_undelivered", OrderNumber: order.OrderNumber})
		return PurchaseResult{Status: PurchaseFailed, Order: order, Reply: OrderErrorText}, fmt.Errorf("send payment link: %w", err)
	}

	summary := fmt.Sprintf("Payment link sent for %dx %s via %s", qty, p.Name, providerTitle(s.Payments.Name()))
	s.record(ctx, req.ConversationID, domain.SenderAI, summary, domain.MessageMetadata{OrderNumber: order.OrderNumber})

	observability.OrdersCreated.WithLabelValues(s.Payments.Name()).Inc()
	notifierOrNoop(s.Notifier).Notify(ctx, notify.NewOrder(
		order.OrderNumber, req.Customer.DisplayName(defaultCustomerName), req.Phone,
		[]notify.OrderLine{{Name: p.Name, Quantity: qty, UnitPrice: p.Price}},
		order.TotalAmount, order.Currency,
	))

	if req.Context != nil {
		req.Context.Cart = []domain.CartItem{{ProductID: p.ID, Name: p.Name, Quantity: qty, UnitPrice: p.Price}}
	}
	lg.Info().Str("order_number", order.OrderNumber).Int("quantity", qty).Msg("order created")
	return PurchaseResult{Status: PurchaseCreated, Order: order, Reply: summary}, nil
}

// placeOrder creates the order row and its checkout. The returned order is
// non-nil once the row exists, even when the checkout failed.
func (s *OrderService) placeOrder(ctx context.Context, req PurchaseRequest, p domain.Product, qty int) (*domain.Order, *payment.Checkout, error) {
	now := s.now()
	number, err := NewOrderNumber(now)
	if err != nil {
		return nil, nil, fmt.Errorf("order number: %w", err)
	}

	currency := payment.NormalizeCurrency(p.Currency)
	if !payment.IsGhanaianCustomer(req.Phone) && !strings.EqualFold(currency, p.Currency) {
		log.Ctx(ctx).Warn().Str("product_currency", p.Currency).Str("charge_currency", currency).Msg("product currency not supported by provider")
	}

	convID := req.ConversationID
	order := &domain.Order{
		ID:             uuid.NewString(),
		OrderNumber:    number,
		CustomerID:     req.Customer.ID,
		ConversationID: &convID,
		Status:         domain.OrderPending,
		PaymentStatus:  domain.PaymentPending,
		Currency:       currency,
		Items: []domain.OrderItem{{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			Quantity:  qty,
			UnitPrice: p.Price,
		}},
	}
	order.TotalAmount = order.Items[0].Subtotal()
	if err := repo.CreateOrder(ctx, s.DB, order); err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	email := fmt.Sprintf("customer-%s@placeholder.com", req.Customer.ID)
	if req.Customer.Email != nil && *req.Customer.Email != "" {
		email = *req.Customer.Email
	}
	checkout, err := s.Payments.InitializePayment(ctx, payment.InitRequest{
		Amount:        order.TotalAmount,
		Currency:      currency,
		CustomerEmail: email,
		CustomerPhone: req.Phone,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
	})
	if err != nil {
		return order, nil, fmt.Errorf("initialize payment for %s: %w", order.OrderNumber, err)
	}

	meta := domain.OrderMetadata{PaymentProvider: s.Payments.Name(), CheckoutURL: checkout.AuthorizationURL}
	if err := repo.SetPaymentReference(ctx, s.DB, order.ID, s.Payments.Name(), checkout.Reference, meta); err != nil {
		return order, nil, fmt.Errorf("store payment reference for %s: %w", order.OrderNumber, err)
	}
	ref := checkout.Reference
	order.PaymentReference = &ref
	order.PaymentProvider = s.Payments.Name()
	return order, checkout, nil
}

// reply sends text to the customer and records it as an AI message.
func (s *OrderService) reply(ctx context.Context, req PurchaseRequest, text string, meta domain.MessageMetadata) {
	if _, err := s.send(ctx, req.Phone, text); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("send purchase reply")
		meta.DeliveryError = err.Error()
	}
	s.record(ctx, req.ConversationID, domain.SenderAI, text, meta)
}

func (s *OrderService) record(ctx context.Context, conversationID string, sender domain.Sender, text string, meta domain.MessageMetadata) {
	if _, err := repo.CreateMessage(ctx, s.DB, repo.NewMessage{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        text,
		Metadata:       meta,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("persist purchase message")
	}
}

func (s *OrderService) send(ctx context.Context, to, text string) (string, error) {
	if s.Messenger == nil {
		return "", errors.New("no messenger configured")
	}
	return s.Messenger.SendText(ctx, to, text)
}

// sendProductImage shows the ordered product above the payment link when
// the product has a photo. A failed image send does not fail the purchase.
func (s *OrderService) sendProductImage(ctx context.Context, to string, p domain.Product, qty int) {
	img, ok := s.Messenger.(ImageSender)
	if !ok || strings.TrimSpace(p.ImageURL) == "" {
		return
	}
	caption := fmt.Sprintf("%dx %s", qty, p.Name)
	if _, err := img.SendImage(ctx, to, p.ImageURL, caption); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("product_id", p.ID).Msg("send product image")
	}
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
