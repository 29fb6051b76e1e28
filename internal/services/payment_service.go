// Package services – PaymentService
//
// PaymentService reconciles payment-provider webhooks against orders.
// Every handler is safe to run more than once for the same event: order
// transitions are conditional updates, and product stock moves only for the
// caller that flips the order's stock_committed flag.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/notify"
	"github.com/tbourn/whatsapp-storefront/internal/observability"
	"github.com/tbourn/whatsapp-storefront/internal/payment"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

// WebhookResult classifies how a payment event was handled. All results
// are acknowledged to the provider; only returned errors are retried.
type WebhookResult string

const (
	WebhookProcessed WebhookResult = "processed"
	WebhookUnchanged WebhookResult = "unchanged"
	WebhookDuplicate WebhookResult = "duplicate"
	WebhookIgnored   WebhookResult = "ignored"
	WebhookMismatch  WebhookResult = "mismatch"
	WebhookNotFound  WebhookResult = "not_found"
	WebhookInvalid   WebhookResult = "invalid"
)

// PaymentService reconciles payment webhooks.
type PaymentService struct {
	DB                *gorm.DB
	Provider          payment.Provider
	Messenger         Messenger
	Notifier          Notifier
	LowStockThreshold int
	Now               func() time.Time
}

// HandleWebhook authenticates and applies one provider event.
//
// It returns payment.ErrInvalidSignature for unauthenticated bodies (no
// state is touched) and a non-nil error for failures worth a provider
// retry. Malformed, unknown, unmatched or already-applied events return a
// result and a nil error.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "HandleWebhook",
		trace.WithAttributes(attribute.String("payment.provider", s.Provider.Name())))
	defer span.End()

	if !s.Provider.ValidateSignature(body, signature) {
		observability.PaymentEvents.WithLabelValues("unknown", "unauthenticated").Inc()
		return WebhookInvalid, payment.ErrInvalidSignature
	}
	ev, err := s.Provider.ParseEvent(body)
	if err != nil {
		observability.PaymentEvents.WithLabelValues("unknown", string(WebhookInvalid)).Inc()
		log.Ctx(ctx).Warn().Err(err).Msg("payment webhook rejected")
		return WebhookInvalid, nil
	}
	span.SetAttributes(
		attribute.String("payment.event", ev.Type),
		attribute.String("payment.reference", ev.Reference),
	)

	res, err := s.apply(ctx, ev)
	label := string(res)
	if err != nil {
		label = "error"
		span.RecordError(err)
	}
	observability.PaymentEvents.WithLabelValues(eventLabel(ev.Type), label).Inc()
	return res, err
}

func (s *PaymentService) apply(ctx context.Context, ev *payment.Event) (WebhookResult, error) {
	lg := log.Ctx(ctx).With().Str("event", ev.Type).Str("reference", ev.Reference).Logger()

	switch ev.Type {
	case payment.EventChargeSuccess, payment.EventChargeFailed, payment.EventRefundProcessed:
	default:
		lg.Info().Msg("payment event ignored")
		return WebhookIgnored, nil
	}
	if ev.Reference == "" {
		lg.Warn().Err(ErrMissingReference).Msg("payment event rejected")
		return WebhookInvalid, nil
	}

	provider := s.Provider.Name()
	seen, err := repo.HasWebhookReceipt(ctx, s.DB, provider, ev.Type, ev.Reference)
	if err != nil {
		return "", fmt.Errorf("check webhook receipt: %w", err)
	}
	if seen {
		lg.Debug().Msg("payment event already processed")
		return WebhookDuplicate, nil
	}

	var res WebhookResult
	switch ev.Type {
	case payment.EventChargeSuccess:
		res, err = s.chargeSucceeded(ctx, lg, ev)
	case payment.EventChargeFailed:
		res, err = s.chargeFailed(ctx, lg, ev)
	case payment.EventRefundProcessed:
		res, err = s.refundProcessed(ctx, lg, ev)
	}
	if err != nil {
		return "", err
	}
	if res == WebhookProcessed || res == WebhookUnchanged {
		if err := repo.RecordWebhookReceipt(ctx, s.DB, provider, ev.Type, ev.Reference); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			lg.Warn().Err(err).Msg("record webhook receipt")
		}
	}
	return res, nil
}

func (s *PaymentService) chargeSucceeded(ctx context.Context, lg zerolog.Logger, ev *payment.Event) (WebhookResult, error) {
	order, err := s.findOrder(ctx, ev)
	if errors.Is(err, ErrOrderNotFound) {
		lg.Error().Msg("no order for successful charge")
		return WebhookNotFound, nil
	}
	if err != nil {
		return "", err
	}
	lg = lg.With().Str("order_number", order.OrderNumber).Logger()

	v, err := s.Provider.VerifyPayment(ctx, ev.Reference)
	if err != nil {
		return "", fmt.Errorf("verify %s: %w", ev.Reference, err)
	}
	if !v.Succeeded() || (v.Reference != "" && v.Reference != ev.Reference) || v.Amount.LessThan(order.TotalAmount) {
		lg.Warn().Err(ErrVerificationMismatch).
			Str("verified_status", v.Status).
			Str("verified_amount", v.Amount.String()).
			Msg("payment not confirmed by provider")
		return WebhookMismatch, nil
	}

	now := s.now()
	meta := order.Metadata.Data()
	meta.PaidAt = v.PaidAt
	meta.PaymentChannel = v.Channel
	meta.PaymentVerifiedAt = &now

	var paid bool
	var oversold []string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.MarkOrderPaid(ctx, tx, order.ID, meta)
		if err != nil || !ok {
			return err
		}
		paid = true
		committed, err := repo.CommitOrderStock(ctx, tx, order.ID)
		if err != nil || !committed {
			return err
		}
		for _, it := range order.Items {
			dec, err := repo.DecrementStock(ctx, tx, it.ProductID, it.Quantity)
			if err != nil {
				return err
			}
			if !dec {
				oversold = append(oversold, it.ProductID)
				taken, err := repo.DrainStock(ctx, tx, it.ProductID)
				if err != nil {
					return err
				}
				if meta.StockTaken == nil {
					meta.StockTaken = map[string]int{}
				}
				meta.StockTaken[it.ID] = taken
			}
		}
		if len(oversold) > 0 {
			meta.OversoldProducts = oversold
			return repo.UpdateOrderMetadata(ctx, tx, order.ID, meta)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("confirm order %s: %w", order.OrderNumber, err)
	}
	if !paid {
		lg.Info().Str("payment_status", string(order.PaymentStatus)).Msg("order already settled; payment event not applied")
		return WebhookUnchanged, nil
	}
	if len(oversold) > 0 {
		lg.Error().Strs("product_ids", oversold).Msg("paid order exceeded remaining stock; stock drained to zero")
	}

	products := s.orderProducts(ctx, order)
	cust, custName := s.customer(ctx, order)
	if cust != nil {
		s.sendCustomer(ctx, lg, cust.PhoneNumber, PaymentConfirmedText(order, products))
	}
	s.notifier().Notify(ctx, notify.OrderUpdate(order.OrderNumber, custName, domain.OrderConfirmed))
	s.checkLowStock(ctx, order)
	lg.Info().Msg("order confirmed")
	return WebhookProcessed, nil
}

func (s *PaymentService) chargeFailed(ctx context.Context, lg zerolog.Logger, ev *payment.Event) (WebhookResult, error) {
	order, err := s.findOrder(ctx, ev)
	if errors.Is(err, ErrOrderNotFound) {
		lg.Error().Msg("no order for failed charge")
		return WebhookNotFound, nil
	}
	if err != nil {
		return "", err
	}
	lg = lg.With().Str("order_number", order.OrderNumber).Logger()

	reason := strings.TrimSpace(ev.Reason)
	if reason == "" {
		reason = "Payment declined"
	}
	now := s.now()
	meta := order.Metadata.Data()
	meta.PaymentFailedAt = &now
	meta.FailureReason = reason

	ok, err := repo.MarkOrderFailed(ctx, s.DB, order.ID, meta)
	if err != nil {
		return "", fmt.Errorf("cancel order %s: %w", order.OrderNumber, err)
	}
	if !ok {
		lg.Info().Str("payment_status", string(order.PaymentStatus)).Msg("order not pending; failure not applied")
		return WebhookUnchanged, nil
	}

	cust, custName := s.customer(ctx, order)
	if cust != nil {
		s.sendCustomer(ctx, lg, cust.PhoneNumber, PaymentFailedText(order.OrderNumber, reason))
	}
	s.notifier().Notify(ctx, notify.OrderUpdate(order.OrderNumber, custName, domain.OrderCancelled))
	lg.Info().Str("reason", reason).Msg("order cancelled after failed payment")
	return WebhookProcessed, nil
}

func (s *PaymentService) refundProcessed(ctx context.Context, lg zerolog.Logger, ev *payment.Event) (WebhookResult, error) {
	order, err := repo.GetOrderByReference(ctx, s.DB, ev.Reference)
	if errors.Is(err, repo.ErrNotFound) {
		lg.Error().Msg("no order for refunded transaction")
		return WebhookNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	lg = lg.With().Str("order_number", order.OrderNumber).Logger()

	now := s.now()
	meta := order.Metadata.Data()
	meta.RefundedAt = &now
	meta.RefundAmountMinor = ev.Amount

	var refunded bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.MarkOrderRefunded(ctx, tx, order.ID, meta)
		if err != nil || !ok {
			return err
		}
		refunded = true
		released, err := repo.ReleaseOrderStock(ctx, tx, order.ID)
		if err != nil || !released {
			return err
		}
		for _, it := range order.Items {
			qty := meta.RestockQuantity(it)
			if qty <= 0 {
				continue
			}
			if err := repo.IncrementStock(ctx, tx, it.ProductID, qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("refund order %s: %w", order.OrderNumber, err)
	}
	if !refunded {
		lg.Info().Msg("order already refunded")
		return WebhookUnchanged, nil
	}

	amount := order.TotalAmount
	if ev.Amount > 0 {
		amount = domain.FromMinorUnits(ev.Amount, order.Currency)
	}
	cust, custName := s.customer(ctx, order)
	if cust != nil {
		s.sendCustomer(ctx, lg, cust.PhoneNumber, RefundText(order.OrderNumber, domain.FormatMoney(amount, order.Currency)))
	}
	s.notifier().Notify(ctx, notify.OrderUpdate(order.OrderNumber, custName, domain.OrderRefunded))
	lg.Info().Msg("order refunded")
	return WebhookProcessed, nil
}

// findOrder resolves a charge event by payment reference, falling back to
// the order id carried in the checkout metadata.
func (s *PaymentService) findOrder(ctx context.Context, ev *payment.Event) (*domain.Order, error) {
	o, err := repo.GetOrderByReference(ctx, s.DB, ev.Reference)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if ev.OrderID == "" {
		return nil, ErrOrderNotFound
	}
	o, err = repo.GetOrder(ctx, s.DB, ev.OrderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return o, nil
}

func (s *PaymentService) orderProducts(ctx context.Context, o *domain.Order) map[string]domain.Product {
	out := make(map[string]domain.Product, len(o.Items))
	for _, it := range o.Items {
		p, err := repo.GetProduct(ctx, s.DB, it.ProductID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("product_id", it.ProductID).Msg("load ordered product")
			continue
		}
		out[p.ID] = *p
	}
	return out
}

// checkLowStock alerts operators for ordered products at or below the
// threshold.
func (s *PaymentService) checkLowStock(ctx context.Context, o *domain.Order) {
	if s.LowStockThreshold <= 0 {
		return
	}
	for _, p := range s.orderProducts(ctx, o) {
		if p.Stock <= s.LowStockThreshold {
			s.notifier().Notify(ctx, notify.LowStock(p.ID, p.Name, p.Stock))
		}
	}
}

func (s *PaymentService) customer(ctx context.Context, o *domain.Order) (*domain.Customer, string) {
	c, err := repo.GetCustomer(ctx, s.DB, o.CustomerID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("order_number", o.OrderNumber).Msg("load order customer")
		return nil, defaultCustomerName
	}
	return c, c.DisplayName(defaultCustomerName)
}

func (s *PaymentService) sendCustomer(ctx context.Context, lg zerolog.Logger, phone, text string) {
	if s.Messenger == nil {
		return
	}
	if _, err := s.Messenger.SendText(ctx, phone, text); err != nil {
		lg.Error().Err(err).Msg("send payment update to customer")
	}
}

func (s *PaymentService) notifier() Notifier { return notifierOrNoop(s.Notifier) }

func (s *PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// eventLabel bounds the metric label set to the reconciled event types.
func eventLabel(t string) string {
	switch t {
	case payment.EventChargeSuccess, payment.EventChargeFailed, payment.EventRefundProcessed:
		return t
	}
	return "other"
}

// PaymentConfirmedText is the customer receipt for a confirmed order.
func PaymentConfirmedText(o *domain.Order, products map[string]domain.Product) string {
	var items strings.Builder
	for _, it := range o.Items {
		name := it.ProductID
		if p, ok := products[it.ProductID]; ok {
			name = p.Name
		}
		fmt.Fprintf(&items, "• %dx %s - %s\n", it.Quantity, name, domain.FormatMoney(it.Subtotal(), o.Currency))
	}
	return fmt.Sprintf("✅ *Payment Confirmed!*\n\nThank you for your payment! Your order has been confirmed.\n\n*Order Details:*\nOrder #: %s\nTotal: %s\n\n*Items:*\n%s\nWe'll process your order shortly and keep you updated on the delivery status.\n\nNeed help? Just send us a message!",
		o.OrderNumber, domain.FormatMoney(o.TotalAmount, o.Currency), items.String())
}

// PaymentFailedText tells the customer the charge failed and how to retry.
func PaymentFailedText(orderNumber, reason string) string {
	return fmt.Sprintf("❌ *Payment Failed*\n\nUnfortunately, your payment for order #%s could not be processed.\n\nReason: %s\n\nDon't worry! You can try again by sending me a message like \"I want to buy [product name]\".\n\nNeed assistance? Feel free to ask!",
		orderNumber, reason)
}

// RefundText confirms a processed refund.
func RefundText(orderNumber, amount string) string {
	return fmt.Sprintf("💰 *Refund Processed*\n\nYour refund for order #%s has been processed successfully.\n\nAmount: %s\n\nThe funds will be returned to your original payment method within 5-10 business days.\n\nIf you have any questions, please let us know!",
		orderNumber, amount)
}
