// Negotiation Lab - time-boxed negotiation practice server
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

	"github.com/deegee85/negotiation-lab/internal/api"
	"github.com/deegee85/negotiation-lab/internal/config"
	"github.com/deegee85/negotiation-lab/internal/dialogue"
	"github.com/deegee85/negotiation-lab/internal/engine"
	"github.com/deegee85/negotiation-lab/internal/middleware"
	"github.com/deegee85/negotiation-lab/internal/store"
	"github.com/deegee85/negotiation-lab/internal/watch"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"window", cfg.NegotiationWindow)

	// Initialize dependencies.
	codes, err := store.NewSQLiteAccessCodes(cfg.AccessCodeDBPath)
	if err != nil {
		slog.Error("Failed to initialize access code database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := codes.Close(); closeErr != nil {
			slog.Error("Failed to close access code database", "error", closeErr)
		}
	}()

	if err := codes.Ping(context.Background()); err != nil {
		slog.Error("Access code database health check failed", "error", err)
		os.Exit(1)
	}
	if len(cfg.AccessCodes) > 0 {
		if err := codes.Seed(context.Background(), cfg.AccessCodes); err != nil {
			slog.Error("Failed to seed access codes", "error", err)
			os.Exit(1)
		}
		slog.Info("Access codes seeded", "count", len(cfg.AccessCodes))
	}

	sessions := store.NewMemoryStore(cfg.NegotiationWindow)

	gen, err := dialogue.NewOpenAIGenerator(dialogue.Config{
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.GenerationTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize dialogue generator", "error", err)
		os.Exit(1)
	}

	watchMgr := watch.NewManager()

	eng := engine.New(sessions, gen, watchMgr, engine.Config{
		PersonaPrompt:      cfg.PersonaPrompt,
		AnswerPrompt:       cfg.AnswerPrompt,
		MinAcceptableOffer: cfg.MinAcceptableOffer,
	})

	// Initialize handlers.
	handler := api.NewHandler(sessions, codes, eng)
	healthHandler := api.NewHealthHandler(codes)
	wsHandler := watch.NewWebSocketHandler(sessions, watchMgr, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	// Observer WebSocket endpoint.
	r.Get("/ws/watch", wsHandler.ServeHTTP)

	// Create server.
	// Note: observer WebSockets are long-lived (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start the close worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.StartCloseWorker(ctx, sessions, cfg.FeedbackTTL, watchMgr.CloseSession)

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
