// Command storefront runs the WhatsApp storefront conversation core.
//
//	storefront serve     # webhooks + operator API
//	storefront migrate   # create or update tables
//	storefront seed -f catalog.yaml
//	storefront token --operator <id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// @title                      WhatsApp Storefront API
// @version                    1.0
// @description                WhatsApp and Paystack webhooks plus the operator API for taking over customer conversations.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the operator JWT.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
