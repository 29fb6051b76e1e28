// Package domain defines the persistence models of the storefront:
// customers, conversations and their messages, the product catalog, orders
// and operators. These types are mapped with GORM and shared across the
// repository and service layers.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Customer is a WhatsApp user, keyed by normalized phone number (+digits).
// Created lazily on first inbound message and never hard-deleted.
type Customer struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	PhoneNumber string    `json:"phone_number" gorm:"type:varchar(32);not null;uniqueIndex:ux_customers_phone"`
	Name        *string   `json:"name,omitempty"  gorm:"type:varchar(255)"`
	Email       *string   `json:"email,omitempty" gorm:"type:varchar(255)"`
	Locale      string    `json:"locale,omitempty"   gorm:"type:varchar(16)"`
	Currency    string    `json:"currency,omitempty" gorm:"type:varchar(3)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// DisplayName returns the profile name, or fallback when none is known.
func (c Customer) DisplayName(fallback string) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return fallback
}

// Conversation is the exchange between one customer and the store.
//
// OpenSlot carries the customer id while the conversation is non-terminal
// and NULL afterwards. Its unique index enforces at most one open
// conversation per customer on both SQLite and Postgres, which treat NULLs
// as distinct.
type Conversation struct {
	ID            string             `json:"id"          gorm:"type:char(36);primaryKey"`
	CustomerID    string             `json:"customer_id" gorm:"type:char(36);not null;index:idx_customer_conversations"`
	Status        ConversationStatus `json:"status"      gorm:"type:varchar(24);not null;default:'ACTIVE';index;check:status IN ('ACTIVE','WAITING_FOR_AGENT','WITH_AGENT','RESOLVED','CLOSED')"`
	AssignedTo    *string            `json:"assigned_to,omitempty" gorm:"type:varchar(64);index"`
	OpenSlot      *string            `json:"-"           gorm:"type:char(36);uniqueIndex:ux_conversations_open_slot"`
	LastMessageAt *time.Time         `json:"last_message_at,omitempty" gorm:"index"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`

	Customer Customer `json:"-" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// MessageMetadata is the structured provider/audit data attached to a Message.
type MessageMetadata struct {
	WhatsAppMessageID string `json:"whatsapp_message_id,omitempty"`
	MessageType       string `json:"message_type,omitempty"`
	Reason            string `json:"reason,omitempty"`
	OperatorID        string `json:"operator_id,omitempty"`
	OrderNumber       string `json:"order_number,omitempty"`
	DeliveryError     string `json:"delivery_error,omitempty"`
}

// Message is a single immutable utterance within a conversation.
//
// ExternalID holds the upstream message id (wamid) for inbound messages.
// Its unique index makes webhook redelivery a no-op at the storage layer.
type Message struct {
	ID             string                              `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string                              `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	Sender         Sender                              `json:"sender"          gorm:"type:varchar(16);not null;check:sender IN ('CUSTOMER','AI','AGENT','SYSTEM')"`
	Content        string                              `json:"content"         gorm:"type:text;not null"`
	ExternalID     *string                             `json:"external_id,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_messages_external_id"`
	Metadata       datatypes.JSONType[MessageMetadata] `json:"metadata"`
	CreatedAt      time.Time                           `json:"created_at"      gorm:"index:idx_conversation_msgs,priority:2"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Product is a catalog entry. Stock never goes negative; it is decremented
// on confirmed payment and restored on refund.
type Product struct {
	ID          string          `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string          `json:"name"        gorm:"type:varchar(255);not null;index"`
	Description string          `json:"description" gorm:"type:text"`
	Price       decimal.Decimal `json:"price"       gorm:"type:decimal(12,2);not null"`
	Currency    string          `json:"currency"    gorm:"type:varchar(3);not null;default:'GHS'"`
	Stock       int             `json:"stock"       gorm:"not null;default:0;check:stock >= 0"`
	IsActive    bool            `json:"is_active"   gorm:"not null;index"`
	Category    string          `json:"category,omitempty"  gorm:"type:varchar(100)"`
	ImageURL    string          `json:"image_url,omitempty" gorm:"type:varchar(512)"`
	CreatedAt   time.Time       `json:"created_at"  gorm:"index"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// OrderMetadata is the structured payment bookkeeping carried by an Order.
// StockTaken maps order item id to the units actually removed from stock
// when fewer than the ordered quantity remained at confirmation.
type OrderMetadata struct {
	PaymentProvider   string         `json:"payment_provider,omitempty"`
	CheckoutURL       string         `json:"checkout_url,omitempty"`
	PaymentChannel    string         `json:"payment_channel,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	PaymentVerifiedAt *time.Time     `json:"payment_verified_at,omitempty"`
	PaymentFailedAt   *time.Time     `json:"payment_failed_at,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	RefundedAt        *time.Time     `json:"refunded_at,omitempty"`
	RefundAmountMinor int64          `json:"refund_amount_minor,omitempty"`
	OversoldProducts  []string       `json:"oversold_products,omitempty"`
	StockTaken        map[string]int `json:"stock_taken,omitempty"`
}

// RestockQuantity is how many units releasing item gives back.
func (m OrderMetadata) RestockQuantity(item OrderItem) int {
	if n, ok := m.StockTaken[item.ID]; ok {
		return n
	}
	return item.Quantity
}

// Order is a purchase created from a conversation. Orders are never
// deleted, only status-transitioned.
//
// StockCommitted records whether the order's quantities are currently
// subtracted from product stock. It is flipped with a conditional update so
// redelivered payment events cannot decrement or restore stock twice.
type Order struct {
	ID               string                            `json:"id"           gorm:"type:char(36);primaryKey"`
	OrderNumber      string                            `json:"order_number" gorm:"type:varchar(40);not null;uniqueIndex:ux_orders_number"`
	CustomerID       string                            `json:"customer_id"  gorm:"type:char(36);not null;index"`
	ConversationID   *string                           `json:"conversation_id,omitempty" gorm:"type:char(36);index"`
	Status           OrderStatus                       `json:"status"         gorm:"type:varchar(16);not null;default:'PENDING';index;check:status IN ('PENDING','CONFIRMED','PROCESSING','SHIPPED','DELIVERED','CANCELLED','REFUNDED')"`
	PaymentStatus    PaymentStatus                     `json:"payment_status" gorm:"type:varchar(16);not null;default:'PENDING';check:payment_status IN ('PENDING','SUCCEEDED','FAILED','REFUNDED')"`
	TotalAmount      decimal.Decimal                   `json:"total_amount"   gorm:"type:decimal(12,2);not null"`
	Currency         string                            `json:"currency"       gorm:"type:varchar(3);not null"`
	PaymentProvider  string                            `json:"payment_provider,omitempty" gorm:"type:varchar(32)"`
	PaymentReference *string                           `json:"payment_reference,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_orders_payment_reference"`
	StockCommitted   bool                              `json:"-"              gorm:"not null;default:false"`
	Metadata         datatypes.JSONType[OrderMetadata] `json:"metadata"`
	CreatedAt        time.Time                         `json:"created_at"`
	UpdatedAt        time.Time                         `json:"updated_at"`

	Items    []OrderItem `json:"items"  gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Customer Customer    `json:"-"      gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// OrderItem snapshots a product's unit price at order time.
type OrderItem struct {
	ID        string          `json:"id"         gorm:"type:char(36);primaryKey"`
	OrderID   string          `json:"order_id"   gorm:"type:char(36);not null;index"`
	ProductID string          `json:"product_id" gorm:"type:char(36);not null;index"`
	Quantity  int             `json:"quantity"   gorm:"not null;check:quantity > 0"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"`

	Product Product `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }

// Subtotal is UnitPrice × Quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Operator is a store admin or human agent. Operators with a phone number
// receive notifications over WhatsApp.
type Operator struct {
	ID          string       `json:"id"           gorm:"type:char(36);primaryKey"`
	Name        string       `json:"name"         gorm:"type:varchar(255);not null"`
	Email       string       `json:"email"        gorm:"type:varchar(255);not null;uniqueIndex:ux_operators_email"`
	PhoneNumber *string      `json:"phone_number,omitempty" gorm:"type:varchar(32)"`
	Role        OperatorRole `json:"role"         gorm:"type:varchar(16);not null;default:'AGENT';check:role IN ('ADMIN','AGENT')"`
	Active      bool         `json:"active"       gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Operator.
func (Operator) TableName() string { return "operators" }

// WebhookReceipt records a payment event that was fully processed, keyed by
// (provider, event, reference).
type WebhookReceipt struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Provider  string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_webhook_receipts,priority:1"`
	Event     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_webhook_receipts,priority:2"`
	Reference string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_webhook_receipts,priority:3"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName returns the database table name for WebhookReceipt.
func (WebhookReceipt) TableName() string { return "webhook_receipts" }
