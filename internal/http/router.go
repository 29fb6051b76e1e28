// Package httpapi wires the HTTP transport (Gin) to the webhook and operator
// handlers. It centralizes cross-cutting concerns such as tracing,
// correlation IDs, logging/redaction, panic recovery, metrics, CORS,
// security headers, operator authentication, idempotency and rate limiting.
//
// Two surfaces share one engine:
//   - /webhooks/*: called by WhatsApp and Paystack; authenticated by
//     verify token and HMAC signatures, never rate limited
//   - API_BASE_PATH (default /api/v1): the operator dashboard; JWT bearer,
//     idempotent replies, per-operator rate limits, gzip
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/whatsapp-storefront/docs"
	"github.com/tbourn/whatsapp-storefront/internal/config"
	"github.com/tbourn/whatsapp-storefront/internal/http/handlers"
	"github.com/tbourn/whatsapp-storefront/internal/http/middleware"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

// maxBodyBytes caps every request body. Cloud API envelopes are far smaller.
const maxBodyBytes = 1 << 20

// Deps carries what the router needs beyond configuration.
type Deps struct {
	DB       *gorm.DB
	Handlers *handlers.Handlers
	Auth     *middleware.TokenValidator
	// Limiter backs the operator API rate limit; nil uses an in-process
	// token bucket sized from the config.
	Limiter middleware.LimiterStore
}

// idempotencyLookup resolves a stored operator reply for the
// IdempotencyValidator. A missing or expired record is a miss.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, operatorID, conversationID, key string, now time.Time) (string, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, operatorID, conversationID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return rec.MessageID, true, nil
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// The operator group adds, in order: auth, idempotency validator (before the
// rate limiter so replays bypass it), rate limiter, no-store headers, gzip.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture for the dashboard (allow all if none configured)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := d.Handlers

	// Upstream webhooks
	hooks := r.Group("/webhooks")
	{
		hooks.GET("/whatsapp", h.VerifyWebhook)
		hooks.POST("/whatsapp", h.ReceiveWhatsApp)
		hooks.POST("/whatsapp/status", h.ReceiveStatus)
		hooks.POST("/paystack", h.PaystackWebhook)
	}

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewMemoryLimiter(cfg.RateRPS, cfg.RateBurst)
	}

	// Operator API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.OperatorAuth(d.Auth),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(d.DB)),
		middleware.RateLimit(limiter, middleware.KeyByOperatorOrIP()),
		middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
		gzip.Gzip(gzip.DefaultCompression),
	)
	{
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.PostMessage)
		api.PUT("/conversations/:id/status", h.UpdateStatus)
	}
}

// corsMiddleware returns the CORS chain for the configured allowlist.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}
	methods := []string{"GET", "POST", "PUT", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		// Echo ACAO with the request Origin when it is in the allowlist.
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
