// Mental Coach - Conversational AI Relay Server
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

	"github.com/coachmind/mental-coach/internal/api"
	"github.com/coachmind/mental-coach/internal/chat"
	"github.com/coachmind/mental-coach/internal/config"
	"github.com/coachmind/mental-coach/internal/identity"
	"github.com/coachmind/mental-coach/internal/middleware"
	"github.com/coachmind/mental-coach/internal/provider"
	"github.com/coachmind/mental-coach/internal/retention"
	"github.com/coachmind/mental-coach/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	completion := provider.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if !completion.Configured() {
		slog.Warn("OPENAI_API_KEY not set, chat requests will fail until configured")
	}

	exchangeLog, err := chat.NewExchangeLogger(chat.ExchangeLogConfig{
		Enabled:       cfg.ChatLog.Enabled,
		Dir:           cfg.ChatLog.Dir,
		GlobalEnabled: cfg.ChatLog.GlobalEnabled,
		GlobalPath:    cfg.ChatLog.GlobalPath,
		QueueSize:     cfg.ChatLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize exchange logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := exchangeLog.Close(); closeErr != nil {
			slog.Error("Failed to close exchange logger", "error", closeErr)
		}
	}()

	// Initialize services.
	limiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	svc := chat.NewService(repo, completion, limiter, exchangeLog, chat.ServiceConfig{
		SystemPrompt:     cfg.SystemPrompt,
		MaxMessageLength: cfg.MaxMessageLength,
	})

	// Initialize handlers.
	chatHandler := chat.NewHandler(svc, repo, cfg.Debug)
	wsHandler := chat.NewWebSocketHandler(svc, cfg.AllowedOrigins)
	healthHandler := api.NewHealthHandler(repo, completion.Configured())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.BearerAuth(cfg.APIKey))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	r.Get("/", api.Root)
	r.Get("/api", api.Root)
	healthHandler.RegisterHealth(r)

	// Chat routes.
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start retention worker.
	retention.StartWorker(ctx, repo, cfg.RetentionMaxAge)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
