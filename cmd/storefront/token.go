package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/http/middleware"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

// tokenIssuer is the iss claim serve requires on operator tokens.
const tokenIssuer = "storefront"

var (
	tokenOperator string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator API bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return errors.New("JWT_SECRET is required to issue tokens")
		}
		if strings.TrimSpace(tokenOperator) == "" {
			return errors.New("--operator is required")
		}

		db, err := repo.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		op, err := repo.GetOperator(cmd.Context(), db, tokenOperator)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("operator %s not found", tokenOperator)
		}
		if err != nil {
			return fmt.Errorf("load operator: %w", err)
		}
		if !op.Active {
			return fmt.Errorf("operator %s is inactive", op.ID)
		}

		tok, err := middleware.NewTokenValidator(cfg.JWTSecret, tokenIssuer).Issue(op.ID, string(op.Role), tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
