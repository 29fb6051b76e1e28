package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&Customer{}, &Conversation{}, &Message{}, &Product{},
		&Order{}, &OrderItem{}, &Operator{}, &Idempotency{}, &WebhookReceipt{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Customer{}.TableName():       "customers",
		Conversation{}.TableName():   "conversations",
		Message{}.TableName():        "messages",
		Product{}.TableName():        "products",
		Order{}.TableName():          "orders",
		OrderItem{}.TableName():      "order_items",
		Operator{}.TableName():       "operators",
		Idempotency{}.TableName():    "idempotency",
		WebhookReceipt{}.TableName(): "webhook_receipts",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()
	checks := []struct {
		model any
		index string
	}{
		{&Customer{}, "ux_customers_phone"},
		{&Conversation{}, "ux_conversations_open_slot"},
		{&Message{}, "ux_messages_external_id"},
		{&Message{}, "idx_conversation_msgs"},
		{&Order{}, "ux_orders_number"},
		{&Order{}, "ux_orders_payment_reference"},
		{&Idempotency{}, "ux_operator_conversation_key"},
		{&WebhookReceipt{}, "ux_webhook_receipts"},
	}
	for _, c := range checks {
		if !m.HasIndex(c.model, c.index) {
			t.Fatalf("expected index %s on %T", c.index, c.model)
		}
	}
}

func TestConversation_OpenSlotAllowsOneOpenPerCustomer(t *testing.T) {
	db := newDomainDB(t)
	cust := Customer{ID: uuid.NewString(), PhoneNumber: "+233201234567"}
	if err := db.Create(&cust).Error; err != nil {
		t.Fatalf("customer: %v", err)
	}
	slot := cust.ID
	first := Conversation{ID: uuid.NewString(), CustomerID: cust.ID, Status: ConversationActive, OpenSlot: &slot}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("first conversation: %v", err)
	}
	second := Conversation{ID: uuid.NewString(), CustomerID: cust.ID, Status: ConversationActive, OpenSlot: &slot}
	if err := db.Create(&second).Error; err == nil {
		t.Fatalf("expected unique violation for second open conversation")
	}

	// Closing frees the slot; closed rows may accumulate.
	if err := db.Model(&first).Updates(map[string]any{"status": ConversationClosed, "open_slot": nil}).Error; err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("second conversation after close: %v", err)
	}
}

func TestMessage_ExternalIDUniqueAndMetadataRoundTrip(t *testing.T) {
	db := newDomainDB(t)
	cust := Customer{ID: uuid.NewString(), PhoneNumber: "+15550001"}
	conv := Conversation{ID: uuid.NewString(), CustomerID: cust.ID, Status: ConversationActive}
	if err := db.Create(&cust).Error; err != nil {
		t.Fatalf("customer: %v", err)
	}
	if err := db.Create(&conv).Error; err != nil {
		t.Fatalf("conversation: %v", err)
	}

	wamid := "wamid.ABC"
	msg := Message{
		ID: uuid.NewString(), ConversationID: conv.ID, Sender: SenderCustomer, Content: "hi",
		ExternalID: &wamid,
		Metadata:   datatypes.NewJSONType(MessageMetadata{WhatsAppMessageID: wamid, MessageType: "text"}),
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("message: %v", err)
	}
	dup := msg
	dup.ID = uuid.NewString()
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique violation on external id")
	}

	var got Message
	if err := db.First(&got, "id = ?", msg.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Metadata.Data().WhatsAppMessageID != wamid || got.Metadata.Data().MessageType != "text" {
		t.Fatalf("metadata = %+v", got.Metadata.Data())
	}
}

func TestMessage_SenderCheckConstraint(t *testing.T) {
	db := newDomainDB(t)
	cust := Customer{ID: uuid.NewString(), PhoneNumber: "+15550002"}
	conv := Conversation{ID: uuid.NewString(), CustomerID: cust.ID, Status: ConversationActive}
	db.Create(&cust)
	db.Create(&conv)
	bad := Message{ID: uuid.NewString(), ConversationID: conv.ID, Sender: Sender("BOT"), Content: "x"}
	if err := db.Create(&bad).Error; err == nil {
		t.Fatalf("expected check constraint failure for unknown sender")
	}
}

func TestProduct_StockCannotGoNegative(t *testing.T) {
	db := newDomainDB(t)
	p := Product{ID: uuid.NewString(), Name: "Blue Shirt", Price: decimal.RequireFromString("49.99"), Currency: "GHS", Stock: 2, IsActive: true}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("product: %v", err)
	}
	err := db.Model(&Product{}).Where("id = ?", p.ID).Update("stock", gorm.Expr("stock - ?", 3)).Error
	if err == nil {
		t.Fatalf("expected check constraint failure")
	}
}

func TestOrderItem_Subtotal(t *testing.T) {
	it := OrderItem{Quantity: 3, UnitPrice: decimal.RequireFromString("19.99")}
	if got := it.Subtotal().StringFixed(2); got != "59.97" {
		t.Fatalf("Subtotal = %s", got)
	}
}

func TestOrderMetadata_RestockQuantity(t *testing.T) {
	full := OrderItem{ID: "item-1", Quantity: 3}
	short := OrderItem{ID: "item-2", Quantity: 5}
	meta := OrderMetadata{StockTaken: map[string]int{"item-2": 2}}

	if got := meta.RestockQuantity(full); got != 3 {
		t.Fatalf("full item restock = %d; want 3", got)
	}
	if got := meta.RestockQuantity(short); got != 2 {
		t.Fatalf("short item restock = %d; want 2", got)
	}
	if got := (OrderMetadata{}).RestockQuantity(short); got != 5 {
		t.Fatalf("no record restock = %d; want 5", got)
	}
}

func TestCustomer_DisplayName(t *testing.T) {
	if got := (Customer{}).DisplayName("there"); got != "there" {
		t.Fatalf("fallback = %q", got)
	}
	name := "Ama"
	if got := (Customer{Name: &name}).DisplayName("there"); got != "Ama" {
		t.Fatalf("name = %q", got)
	}
}

func TestContext_AppendTurnsCapsWindow(t *testing.T) {
	var c ConversationContext
	for i := 0; i < 12; i++ {
		c.AppendTurns(10, Turn{Role: RoleUser, Content: fmt.Sprint(i)})
	}
	if len(c.Turns) != 10 {
		t.Fatalf("len = %d", len(c.Turns))
	}
	if c.Turns[0].Content != "2" || c.Turns[9].Content != "11" {
		t.Fatalf("window = %+v", c.Turns)
	}
	c.UpdatedAt = time.Now()
}

func TestTurnFromMessage(t *testing.T) {
	if r := TurnFromMessage(Message{Sender: SenderCustomer}).Role; r != RoleUser {
		t.Fatalf("customer -> %q", r)
	}
	for _, s := range []Sender{SenderAI, SenderAgent, SenderSystem} {
		if r := TurnFromMessage(Message{Sender: s}).Role; r != RoleAssistant {
			t.Fatalf("%s -> %q", s, r)
		}
	}
}
