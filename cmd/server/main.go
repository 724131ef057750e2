// Sales assistant checkout server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meleki1/salesagent/internal/api"
	"github.com/meleki1/salesagent/internal/checkout"
	"github.com/meleki1/salesagent/internal/config"
	"github.com/meleki1/salesagent/internal/convlog"
	"github.com/meleki1/salesagent/internal/delivery"
	"github.com/meleki1/salesagent/internal/dialog"
	"github.com/meleki1/salesagent/internal/generation"
	"github.com/meleki1/salesagent/internal/metrics"
	"github.com/meleki1/salesagent/internal/middleware"
	"github.com/meleki1/salesagent/internal/paystack"
	"github.com/meleki1/salesagent/internal/reconcile"
	"github.com/meleki1/salesagent/internal/session"
	"github.com/meleki1/salesagent/internal/store"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "order_amount", cfg.OrderAmount)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	// Generation backend (optional): sidecar first, then OpenAI.
	var (
		classifier generation.Classifier
		generator  generation.Generator
		genHealth  api.HealthChecker
	)
	if cfg.Generation.Addr != "" {
		slog.Info("Connecting to generation sidecar", "address", cfg.Generation.Addr)
		client, err := generation.NewGrpcClient(generation.DefaultGrpcClientConfig(cfg.Generation.Addr), logger)
		if err != nil {
			slog.Warn("Generation sidecar unavailable, using local fallbacks", "error", err)
		} else {
			defer client.Close()
			classifier, generator, genHealth = client, client, client
		}
	} else if cfg.Generation.OpenAIKey != "" {
		client, err := generation.NewOpenAIClient(generation.OpenAIConfig{
			APIKey:  cfg.Generation.OpenAIKey,
			BaseURL: cfg.Generation.OpenAIBaseURL,
			Model:   cfg.Generation.OpenAIModel,
		}, logger)
		if err != nil {
			return err
		}
		slog.Info("Using OpenAI for generation", "model", cfg.Generation.OpenAIModel)
		classifier, generator = client, client
	} else {
		slog.Info("No generation backend configured, using keyword classifier and templates")
	}
	gen := generation.NewService(classifier, generator, cfg.Generation.Timeout, logger)

	convLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := convLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Delivery channels.
	hub := delivery.NewHub()
	fanout := delivery.Fanout{Web: hub}
	var telegram api.TelegramSender
	if cfg.Telegram.Token != "" {
		tg := &delivery.Telegram{
			Token:   cfg.Telegram.Token,
			BaseURL: cfg.Telegram.BaseURL,
			HTTP:    &http.Client{Timeout: 10 * time.Second},
		}
		fanout.Telegram = tg
		telegram = tg
		slog.Info("Telegram channel enabled")
	}

	if !cfg.PaymentsEnabled() {
		slog.Warn("PAYSTACK_SECRET_KEY not set: checkouts will fail and webhooks will be rejected")
	}
	gateway := &paystack.Client{
		SecretKey:   cfg.Paystack.SecretKey,
		BaseURL:     cfg.Paystack.BaseURL,
		CallbackURL: cfg.Paystack.CallbackURL,
		HTTP:        &http.Client{Timeout: cfg.Paystack.Timeout},
	}

	sessions := session.NewStore(repo)
	reconciler := reconcile.New(reconcile.Config{
		Secret:    cfg.Paystack.SecretKey,
		Repo:      repo,
		Sessions:  sessions,
		Generator: gen,
		Notifier:  fanout,
		ConvLog:   convLogger,
		Logger:    logger,
		// Covers generating the confirmation and waiting for the session.
		SettleTimeout: cfg.Generation.Timeout + 10*time.Second,
	})
	router := dialog.New(dialog.Config{
		Sessions:    sessions,
		Classifier:  gen,
		Generator:   gen,
		Checkout:    checkout.New(repo, gateway, cfg.Paystack.Timeout),
		Verifier:    gateway,
		Settler:     reconciler,
		ConvLog:     convLogger,
		Logger:      logger,
		OrderAmount: cfg.OrderAmount,
	})

	limiter := api.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateBurst, 10*time.Minute)
	defer limiter.Close()

	handler := api.NewHandler(api.Deps{
		Dialog:         router,
		Reconciler:     reconciler,
		Sessions:       sessions,
		Hub:            hub,
		Telegram:       telegram,
		Limiter:        limiter,
		TelegramSecret: cfg.Telegram.WebhookSecret,
		AllowedOrigin:  cfg.FrontendURL,
		IsDev:          cfg.IsDevelopment(),
	})
	healthHandler := api.NewHealthHandler(repo, genHealth)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartSweeper(ctx, sessions, cfg.LockTTL, cfg.SweepInterval)
	reconcile.StartResumer(ctx, reconciler, cfg.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
