// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, upstream credentials (WhatsApp, AI, payments),
// escalation thresholds, operator API protection and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the operator API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects and addresses the durable store.
type DatabaseConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// ContextConfig controls the ephemeral conversation context cache.
type ContextConfig struct {
	RedisURL string        // empty selects the in-process store
	TTL      time.Duration // refreshed on every write
	MaxTurns int           // sliding window size
}

// WhatsAppConfig holds the Cloud API credentials and webhook secrets.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	VerifyToken   string
	AppSecret     string // optional; enables X-Hub-Signature-256 checks
	SendRetries   int
	AsyncWebhooks bool // process deliveries after acknowledging
}

// AIConfig addresses an OpenAI-compatible chat completions endpoint.
type AIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	MaxTokens     int
	KnowledgePath string
}

// PaymentConfig holds the payment provider settings.
type PaymentConfig struct {
	PaystackSecretKey string
	PaystackBaseURL   string
	Timeout           time.Duration
	FrontendURL       string
	DefaultCurrency   string
}

// EscalationConfig carries the conversation-level handoff heuristics.
type EscalationConfig struct {
	RepeatThreshold     int
	Window              int
	FrustrationLookback int
	LowStockThreshold   int
}

// NotifyConfig configures the optional operator event sink.
type NotifyConfig struct {
	NATSURL     string
	NATSSubject string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 45s, above AI_TIMEOUT
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int    // bytes
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for operator API routes

	DB         DatabaseConfig
	Context    ContextConfig
	WhatsApp   WhatsAppConfig
	AI         AIConfig
	Payment    PaymentConfig
	Escalation EscalationConfig
	Notify     NotifyConfig

	// Operator API
	JWTSecret string
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 20*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "storefront.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Context: ContextConfig{
			RedisURL: getenv("REDIS_URL", ""),
			TTL:      getdur("CONTEXT_TTL", 2*time.Hour),
			MaxTurns: getint("CONTEXT_MAX_TURNS", 10),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   getenv("WHATSAPP_ACCESS_TOKEN", ""),
			PhoneNumberID: getenv("WHATSAPP_PHONE_NUMBER_ID", ""),
			APIVersion:    getenv("WHATSAPP_API_VERSION", "v21.0"),
			BaseURL:       strings.TrimRight(getenv("WHATSAPP_BASE_URL", "https://graph.facebook.com"), "/"),
			VerifyToken:   getenv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:     getenv("WHATSAPP_APP_SECRET", ""),
			SendRetries:   getint("WHATSAPP_SEND_RETRIES", 2),
			AsyncWebhooks: getbool("WHATSAPP_ASYNC_WEBHOOKS", true),
		},
		AI: AIConfig{
			APIKey:        getenv("AI_API_KEY", ""),
			BaseURL:       getenv("AI_BASE_URL", ""),
			Model:         getenv("AI_MODEL", "gpt-4o-mini"),
			Timeout:       getdur("AI_TIMEOUT", 30*time.Second),
			MaxTokens:     getint("AI_MAX_TOKENS", 500),
			KnowledgePath: getenv("KNOWLEDGE_PATH", ""),
		},
		Payment: PaymentConfig{
			PaystackSecretKey: getenv("PAYSTACK_SECRET_KEY", ""),
			PaystackBaseURL:   strings.TrimRight(getenv("PAYSTACK_BASE_URL", "https://api.paystack.co"), "/"),
			Timeout:           getdur("PAYMENT_TIMEOUT", 15*time.Second),
			FrontendURL:       strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/"),
			DefaultCurrency:   strings.ToUpper(getenv("DEFAULT_CURRENCY", "GHS")),
		},
		Escalation: EscalationConfig{
			RepeatThreshold:     getint("ESCALATION_REPEAT_THRESHOLD", 3),
			Window:              getint("ESCALATION_WINDOW", 5),
			FrustrationLookback: getint("ESCALATION_FRUSTRATION_LOOKBACK", 2),
			LowStockThreshold:   getint("LOW_STOCK_THRESHOLD", 5),
		},
		Notify: NotifyConfig{
			NATSURL:     getenv("NATS_URL", ""),
			NATSSubject: getenv("NATS_SUBJECT", "storefront.events"),
		},

		JWTSecret: getenv("JWT_SECRET", ""),
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "whatsapp-storefront"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}
	if !strings.HasPrefix(cfg.WhatsApp.APIVersion, "v") {
		cfg.WhatsApp.APIVersion = "v" + cfg.WhatsApp.APIVersion
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Context.TTL <= 0 {
		return cfg, errors.New("CONTEXT_TTL must be > 0")
	}
	if cfg.Context.MaxTurns < 1 {
		return cfg, errors.New("CONTEXT_MAX_TURNS must be >= 1")
	}
	if cfg.WhatsApp.SendRetries < 0 {
		return cfg, errors.New("WHATSAPP_SEND_RETRIES must be >= 0")
	}
	if cfg.AI.Timeout <= 0 || cfg.Payment.Timeout <= 0 {
		return cfg, errors.New("AI_TIMEOUT and PAYMENT_TIMEOUT must be positive durations")
	}
	if cfg.AI.MaxTokens < 1 {
		return cfg, errors.New("AI_MAX_TOKENS must be >= 1")
	}
	if len(cfg.Payment.DefaultCurrency) != 3 {
		return cfg, errors.New("DEFAULT_CURRENCY must be a 3-letter ISO code")
	}
	if cfg.Escalation.RepeatThreshold < 2 {
		return cfg, errors.New("ESCALATION_REPEAT_THRESHOLD must be >= 2")
	}
	if cfg.Escalation.Window < cfg.Escalation.RepeatThreshold {
		return cfg, errors.New("ESCALATION_WINDOW must be >= ESCALATION_REPEAT_THRESHOLD")
	}
	if cfg.Escalation.FrustrationLookback < 1 {
		return cfg, errors.New("ESCALATION_FRUSTRATION_LOOKBACK must be >= 1")
	}
	if cfg.Escalation.LowStockThreshold < 0 {
		return cfg, errors.New("LOW_STOCK_THRESHOLD must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// RequireCredentials reports the first upstream credential the server cannot
// run without. Called by the serve command only, so migrate and seed work
// with a bare environment.
func (c Config) RequireCredentials() error {
	required := []struct{ name, value string }{
		{"WHATSAPP_ACCESS_TOKEN", c.WhatsApp.AccessToken},
		{"WHATSAPP_PHONE_NUMBER_ID", c.WhatsApp.PhoneNumberID},
		{"WHATSAPP_VERIFY_TOKEN", c.WhatsApp.VerifyToken},
		{"PAYSTACK_SECRET_KEY", c.Payment.PaystackSecretKey},
		{"AI_API_KEY", c.AI.APIKey},
		{"JWT_SECRET", c.JWTSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s must be set", r.name)
		}
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
