package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/whatsapp-storefront/internal/config"
	"github.com/tbourn/whatsapp-storefront/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "storefront",
	Short: "WhatsApp storefront conversation core",
	Long: `Receives WhatsApp customer messages, answers with AI, hands conversations
to human operators, takes orders with payment links and reconciles payment
webhooks. Configuration comes from the environment, optionally via a .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = loaded
		sysutil.SetupLogger(sysutil.LoggerOptions{
			Level:   cfg.LogLevel,
			Pretty:  cfg.LogPretty,
			Service: cfg.OTEL.ServiceName,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.Version = appVersion()
}

// loadEnvFile applies a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func appVersion() string {
	return sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
}
