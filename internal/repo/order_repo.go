package repo

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// CreateOrder inserts the order together with its items.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	if o.Status == "" {
		o.Status = domain.OrderPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = domain.PaymentPending
	}
	return db.WithContext(ctx).Create(o).Error
}

// GetOrder fetches an order with its items.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderByNumber fetches an order by its human-readable number.
func GetOrderByNumber(ctx context.Context, db *gorm.DB, number string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Preload("Items").Where("order_number = ?", number).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderByReference fetches an order by its payment provider reference.
func GetOrderByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Preload("Items").Where("payment_reference = ?", reference).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// SetPaymentReference stores the provider reference and checkout metadata.
func SetPaymentReference(ctx context.Context, db *gorm.DB, orderID, provider, reference string, meta domain.OrderMetadata) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_provider":  provider,
			"payment_reference": reference,
			"metadata":          datatypes.NewJSONType(meta),
			"updated_at":        time.Now().UTC(),
		}).Error
}

// MarkOrderPaid confirms an order whose payment has not succeeded yet.
// Refunded orders are left alone.
func MarkOrderPaid(ctx context.Context, db *gorm.DB, orderID string, meta domain.OrderMetadata) (bool, error) {
	return transitionOrder(ctx, db, domain.OrderConfirmed, domain.PaymentSucceeded, meta,
		"id = ? AND payment_status IN ?", orderID, []domain.PaymentStatus{domain.PaymentPending, domain.PaymentFailed})
}

// MarkOrderFailed cancels an order whose payment is still pending.
func MarkOrderFailed(ctx context.Context, db *gorm.DB, orderID string, meta domain.OrderMetadata) (bool, error) {
	return transitionOrder(ctx, db, domain.OrderCancelled, domain.PaymentFailed, meta,
		"id = ? AND payment_status = ?", orderID, domain.PaymentPending)
}

// MarkOrderRefunded refunds an order that is not refunded yet.
func MarkOrderRefunded(ctx context.Context, db *gorm.DB, orderID string, meta domain.OrderMetadata) (bool, error) {
	return transitionOrder(ctx, db, domain.OrderRefunded, domain.PaymentRefunded, meta,
		"id = ? AND payment_status <> ?", orderID, domain.PaymentRefunded)
}

func transitionOrder(ctx context.Context, db *gorm.DB, status domain.OrderStatus, payment domain.PaymentStatus, meta domain.OrderMetadata, query string, args ...any) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where(query, args...).
		Updates(map[string]any{
			"status":         status,
			"payment_status": payment,
			"metadata":       datatypes.NewJSONType(meta),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CommitOrderStock flips stock_committed from false to true. Only the caller
// that observes true may decrement product stock.
func CommitOrderStock(ctx context.Context, db *gorm.DB, orderID string) (bool, error) {
	return flipStockCommitted(ctx, db, orderID, false, true)
}

// ReleaseOrderStock flips stock_committed from true to false. Only the
// caller that observes true may restore product stock.
func ReleaseOrderStock(ctx context.Context, db *gorm.DB, orderID string) (bool, error) {
	return flipStockCommitted(ctx, db, orderID, true, false)
}

func flipStockCommitted(ctx context.Context, db *gorm.DB, orderID string, from, to bool) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND stock_committed = ?", orderID, from).
		Update("stock_committed", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateOrderMetadata replaces the order's metadata document.
func UpdateOrderMetadata(ctx context.Context, db *gorm.DB, orderID string, meta domain.OrderMetadata) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"metadata":   datatypes.NewJSONType(meta),
			"updated_at": time.Now().UTC(),
		}).Error
}
