package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

// GetCustomerByPhone fetches a customer by normalized phone number.
func GetCustomerByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Customer, error) {
	var c domain.Customer
	if err := db.WithContext(ctx).Where("phone_number = ?", phone).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomer fetches a customer by ID.
func GetCustomer(ctx context.Context, db *gorm.DB, id string) (*domain.Customer, error) {
	var c domain.Customer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOrCreateCustomer returns the customer for phone, inserting it when
// missing. A concurrent insert losing the unique race re-reads the winner.
// A profile name is stored only when the customer has none yet.
func FindOrCreateCustomer(ctx context.Context, db *gorm.DB, phone, name string) (*domain.Customer, bool, error) {
	c, err := GetCustomerByPhone(ctx, db, phone)
	if err == nil {
		if name != "" && (c.Name == nil || *c.Name == "") {
			if err := db.WithContext(ctx).Model(c).Update("name", name).Error; err != nil {
				return nil, false, err
			}
			c.Name = &name
		}
		return c, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	c = &domain.Customer{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if name != "" {
		c.Name = &name
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if IsDuplicate(err) {
			existing, gerr := GetCustomerByPhone(ctx, db, phone)
			return existing, false, gerr
		}
		return nil, false, err
	}
	return c, true, nil
}
