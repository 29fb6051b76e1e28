package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/ai"
	"github.com/tbourn/whatsapp-storefront/internal/cache"
	"github.com/tbourn/whatsapp-storefront/internal/classify"
	"github.com/tbourn/whatsapp-storefront/internal/config"
	httpapi "github.com/tbourn/whatsapp-storefront/internal/http"
	"github.com/tbourn/whatsapp-storefront/internal/http/handlers"
	"github.com/tbourn/whatsapp-storefront/internal/http/middleware"
	"github.com/tbourn/whatsapp-storefront/internal/notify"
	"github.com/tbourn/whatsapp-storefront/internal/observability"
	"github.com/tbourn/whatsapp-storefront/internal/payment"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
	"github.com/tbourn/whatsapp-storefront/internal/search"
	"github.com/tbourn/whatsapp-storefront/internal/services"
	"github.com/tbourn/whatsapp-storefront/internal/whatsapp"
)

// maxReplyRunes is the Cloud API text body limit.
const maxReplyRunes = 4096

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the WhatsApp and Paystack webhooks and the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireCredentials(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app holds the long-lived dependencies built for serve.
type app struct {
	db         *gorm.DB
	redis      *redis.Client
	store      cache.Store
	limiter    middleware.LimiterStore
	nats       *notify.NATSSink
	dispatcher *notify.Dispatcher
	handlers   *handlers.Handlers
}

func (a *app) close() {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			log.Warn().Err(err).Msg("close nats")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// build wires storage, upstream clients and services from cfg.
func build(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return a, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if err := repo.AutoMigrate(db); err != nil {
		return a, fmt.Errorf("migrate: %w", err)
	}

	// Context store and operator rate limits share Redis when configured.
	if cfg.Context.RedisURL != "" {
		client, err := cache.NewRedisClient(cfg.Context.RedisURL)
		if err != nil {
			return a, err
		}
		a.redis = client
		rs := cache.NewRedisStore(client)
		if err := rs.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup; context reads will start empty")
		}
		a.store = rs
		a.limiter = middleware.NewRedisLimiter(client, cfg.RateRPS, cfg.RateBurst)
	} else {
		a.store = cache.NewMemoryStore()
		log.Info().Msg("REDIS_URL not set; using in-process context store")
	}

	wa := whatsapp.NewClient(whatsapp.Options{
		BaseURL:       cfg.WhatsApp.BaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		MaxRetries:    cfg.WhatsApp.SendRetries,
	})

	var knowledge []search.Document
	if cfg.AI.KnowledgePath != "" {
		knowledge, err = search.LoadKnowledge(cfg.AI.KnowledgePath)
		if err != nil {
			return a, fmt.Errorf("load knowledge: %w", err)
		}
		log.Info().Int("facts", len(knowledge)).Str("path", cfg.AI.KnowledgePath).Msg("store knowledge loaded")
	}
	responder := ai.NewResponder(ai.Options{
		APIKey:    cfg.AI.APIKey,
		BaseURL:   cfg.AI.BaseURL,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		Timeout:   cfg.AI.Timeout,
		Knowledge: knowledge,
	})

	paystack := payment.NewPaystack(payment.PaystackOptions{
		SecretKey:   cfg.Payment.PaystackSecretKey,
		BaseURL:     cfg.Payment.PaystackBaseURL,
		CallbackURL: cfg.Payment.FrontendURL,
		Timeout:     cfg.Payment.Timeout,
	})

	var sinks []notify.Sink
	if cfg.Notify.NATSURL != "" {
		sink, err := notify.ConnectNATS(cfg.Notify.NATSURL, cfg.Notify.NATSSubject)
		if err != nil {
			return a, err
		}
		a.nats = sink
		sinks = append(sinks, sink)
	}
	a.dispatcher = notify.NewDispatcher(notify.DBOperators{DB: db}, wa, sinks...)

	orders := &services.OrderService{
		DB:        db,
		Messenger: wa,
		Payments:  paystack,
		Notifier:  a.dispatcher,
	}
	conversations := &services.ConversationService{
		DB:        db,
		Store:     a.store,
		Messenger: wa,
		AI:        responder,
		Orders:    orders,
		Notifier:  a.dispatcher,
		Thresholds: classify.Thresholds{
			RepeatCount:         cfg.Escalation.RepeatThreshold,
			Window:              cfg.Escalation.Window,
			FrustrationLookback: cfg.Escalation.FrustrationLookback,
		},
		ContextTTL: cfg.Context.TTL,
		MaxTurns:   cfg.Context.MaxTurns,
	}
	payments := &services.PaymentService{
		DB:                db,
		Provider:          paystack,
		Messenger:         wa,
		Notifier:          a.dispatcher,
		LowStockThreshold: cfg.Escalation.LowStockThreshold,
	}
	agents := &services.AgentService{
		DB:              db,
		Messenger:       wa,
		MaxContentRunes: maxReplyRunes,
	}

	a.handlers = handlers.New(conversations, payments, agents, db, handlers.Options{
		VerifyToken:     cfg.WhatsApp.VerifyToken,
		AppSecret:       cfg.WhatsApp.AppSecret,
		AsyncWebhooks:   cfg.WhatsApp.AsyncWebhooks,
		IdempotencyTTL:  cfg.IdempotencyTTL,
		MaxContentRunes: maxReplyRunes,
	})
	return a, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, appVersion())
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	a, err := build(ctx, cfg)
	defer a.close()
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       a.db,
		Handlers: a.handlers,
		Auth:     middleware.NewTokenValidator(cfg.JWTSecret, tokenIssuer),
		Limiter:  a.limiter,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion()).
			Str("db", cfg.DB.Driver).
			Bool("redis", a.redis != nil).
			Bool("nats", a.nats != nil).
			Msg("storefront listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Webhooks acknowledged before shutdown still get processed.
	if err := a.handlers.Wait(sctx); err != nil {
		log.Warn().Err(err).Msg("abandoning in-flight webhook processing")
	}
	if err := waitFor(sctx, a.dispatcher.Wait); err != nil {
		log.Warn().Err(err).Msg("abandoning pending operator notifications")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// waitFor runs a blocking wait until it returns or ctx ends.
func waitFor(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
