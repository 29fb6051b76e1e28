package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/payment"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

// seedNamespace derives stable ids for seed entries that omit one, so
// re-running a seed file updates rows instead of duplicating them.
var seedNamespace = uuid.MustParse("6f1d3c52-8a4e-4f0b-9b7e-2d5c1a9e7f30")

// SeedFile is the YAML document accepted by the seed command.
type SeedFile struct {
	Products  []SeedProduct  `yaml:"products"`
	Operators []SeedOperator `yaml:"operators"`
}

// SeedProduct is one catalog entry. Price is a decimal string ("49.99").
type SeedProduct struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	Currency    string `yaml:"currency"`
	Stock       int    `yaml:"stock"`
	Category    string `yaml:"category"`
	ImageURL    string `yaml:"image_url"`
	Active      *bool  `yaml:"active"`
}

// SeedOperator is one dashboard operator. Operators are matched by email.
type SeedOperator struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Phone  string `yaml:"phone"`
	Role   string `yaml:"role"`
	Active *bool  `yaml:"active"`
}

var seedPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load products and operators from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(seedPath)
		if err != nil {
			return err
		}
		defer f.Close()

		seed, err := parseSeed(f)
		if err != nil {
			return fmt.Errorf("%s: %w", seedPath, err)
		}

		db, err := repo.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := repo.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		if err := applySeed(cmd.Context(), db, seed, cfg.Payment.DefaultCurrency); err != nil {
			return err
		}
		log.Info().
			Int("products", len(seed.Products)).
			Int("operators", len(seed.Operators)).
			Str("file", seedPath).
			Msg("seed applied")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedPath, "file", "f", "", "seed YAML file")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

// parseSeed decodes and validates a seed document. Unknown keys are
// rejected so typos do not silently drop fields.
func parseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var seed SeedFile
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	for i, p := range seed.Products {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("products[%d]: name is required", i)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
		if err != nil {
			return nil, fmt.Errorf("products[%d] %q: invalid price %q", i, p.Name, p.Price)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("products[%d] %q: price must not be negative", i, p.Name)
		}
		if p.Stock < 0 {
			return nil, fmt.Errorf("products[%d] %q: stock must not be negative", i, p.Name)
		}
		if p.ID != "" {
			if _, err := uuid.Parse(p.ID); err != nil {
				return nil, fmt.Errorf("products[%d] %q: id must be a uuid", i, p.Name)
			}
		}
	}
	for i, o := range seed.Operators {
		if strings.TrimSpace(o.Email) == "" {
			return nil, fmt.Errorf("operators[%d]: email is required", i)
		}
		switch domain.OperatorRole(strings.ToUpper(strings.TrimSpace(o.Role))) {
		case "", domain.RoleAdmin, domain.RoleAgent:
		default:
			return nil, fmt.Errorf("operators[%d] %s: unknown role %q", i, o.Email, o.Role)
		}
	}
	return &seed, nil
}

// applySeed upserts every entry of seed in one transaction.
func applySeed(ctx context.Context, db *gorm.DB, seed *SeedFile, defaultCurrency string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sp := range seed.Products {
			p := seedProduct(sp, defaultCurrency)
			if err := repo.UpsertProduct(ctx, tx, &p); err != nil {
				return fmt.Errorf("product %q: %w", sp.Name, err)
			}
		}
		for _, so := range seed.Operators {
			op := seedOperator(so)
			if err := repo.UpsertOperator(ctx, tx, &op); err != nil {
				return fmt.Errorf("operator %s: %w", so.Email, err)
			}
		}
		return nil
	})
}

func seedProduct(sp SeedProduct, defaultCurrency string) domain.Product {
	id := sp.ID
	if id == "" {
		id = uuid.NewSHA1(seedNamespace, []byte("product:"+strings.ToLower(strings.TrimSpace(sp.Name)))).String()
	}
	currency := sp.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	// validated in parseSeed
	price, _ := decimal.NewFromString(strings.TrimSpace(sp.Price))
	return domain.Product{
		ID:          id,
		Name:        strings.TrimSpace(sp.Name),
		Description: sp.Description,
		Price:       price,
		Currency:    payment.NormalizeCurrency(currency),
		Stock:       sp.Stock,
		IsActive:    sp.Active == nil || *sp.Active,
		Category:    sp.Category,
		ImageURL:    sp.ImageURL,
	}
}

func seedOperator(so SeedOperator) domain.Operator {
	email := strings.ToLower(strings.TrimSpace(so.Email))
	id := so.ID
	if id == "" {
		id = uuid.NewSHA1(seedNamespace, []byte("operator:"+email)).String()
	}
	role := domain.OperatorRole(strings.ToUpper(strings.TrimSpace(so.Role)))
	if role == "" {
		role = domain.RoleAgent
	}
	var phone *string
	if p := strings.TrimSpace(so.Phone); p != "" {
		phone = &p
	}
	return domain.Operator{
		ID:          id,
		Name:        strings.TrimSpace(so.Name),
		Email:       email,
		PhoneNumber: phone,
		Role:        role,
		Active:      so.Active == nil || *so.Active,
	}
}
