package repo

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	// One connection keeps the shared in-memory database free of table locks.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, name string, price string, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:       uuid.NewString(),
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Currency: "GHS",
		Stock:    stock,
		IsActive: true,
	}
	if err := UpsertProduct(context.Background(), db, p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func seedConversation(t *testing.T, db *gorm.DB, phone string) (*domain.Customer, *domain.Conversation) {
	t.Helper()
	ctx := context.Background()
	cust, _, err := FindOrCreateCustomer(ctx, db, phone, "")
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	conv, _, err := FindOrCreateOpenConversation(ctx, db, cust.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	return cust, conv
}

func seedOrder(t *testing.T, db *gorm.DB, customerID string, p *domain.Product, qty int) *domain.Order {
	t.Helper()
	o := &domain.Order{
		ID:          uuid.NewString(),
		OrderNumber: "ORD-" + uuid.NewString()[:8],
		CustomerID:  customerID,
		TotalAmount: p.Price.Mul(decimal.NewFromInt(int64(qty))),
		Currency:    p.Currency,
		Items: []domain.OrderItem{{
			ID: uuid.NewString(), ProductID: p.ID, Quantity: qty, UnitPrice: p.Price,
		}},
	}
	if err := CreateOrder(context.Background(), db, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func stockOf(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	p, err := GetProduct(context.Background(), db, id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}
