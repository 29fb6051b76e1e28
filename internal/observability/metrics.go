package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors. Label values are drawn from fixed sets (outcomes,
// event types, escalation reasons) so cardinality stays bounded.
var (
	// InboundMessages counts customer messages by routing outcome.
	InboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_inbound_messages_total",
			Help: "Inbound WhatsApp messages by routing outcome.",
		},
		[]string{"outcome"},
	)

	// DuplicateDeliveries counts webhook redeliveries of an already stored message.
	DuplicateDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_duplicate_deliveries_total",
			Help: "Inbound messages dropped because their upstream id was already stored.",
		},
	)

	// Escalations counts handoffs to a human agent by reason.
	Escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_escalations_total",
			Help: "Conversations handed off to a human agent.",
		},
		[]string{"reason"},
	)

	// OrdersCreated counts orders by payment provider.
	OrdersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Orders created from purchase intents.",
		},
		[]string{"provider"},
	)

	// PaymentEvents counts payment webhooks by event type and result.
	PaymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_events_total",
			Help: "Payment webhook events by type and reconciliation result.",
		},
		[]string{"event", "result"},
	)

	// NotificationSends counts operator notification attempts by kind and result.
	NotificationSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_notification_sends_total",
			Help: "Operator notification deliveries by event kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(InboundMessages, DuplicateDeliveries, Escalations, OrdersCreated, PaymentEvents, NotificationSends)
}
