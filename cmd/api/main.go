package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/agent"
	"github.com/sureline/whatsapp-orchestrator/internal/bot"
	"github.com/sureline/whatsapp-orchestrator/internal/config"
	"github.com/sureline/whatsapp-orchestrator/internal/events"
	"github.com/sureline/whatsapp-orchestrator/internal/handler"
	"github.com/sureline/whatsapp-orchestrator/internal/middleware"
	"github.com/sureline/whatsapp-orchestrator/internal/orchestrator"
	"github.com/sureline/whatsapp-orchestrator/internal/registry"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
	"github.com/sureline/whatsapp-orchestrator/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "whatsapp-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				if err := tracing.Shutdown(context.Background(), tp); err != nil {
					log.Warn("failed to shut down tracing", zap.Error(err))
				}
			}()
		}
	}

	db, err := store.NewSQLiteStore(cfg.DatabasePath, cfg.SessionTTL, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()

	// Sessions keep working from memory if the database goes away mid-flight.
	sessions := store.NewFallbackSessions(db, cfg.SessionTTL, log)

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		natsPub, err := events.Connect(ctx, events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Warn("NATS unavailable, events disabled", zap.Error(err))
			publisher = events.NoopPublisher{}
		} else {
			publisher = natsPub
		}
	} else {
		publisher = events.NoopPublisher{}
	}
	defer publisher.Close()

	reg := registry.New(db, log)

	agentClient := agent.NewClient(cfg.AgentAPIURL, cfg.AgentAPIKey, cfg.AgentRequestTimeout, log)
	gateway := agent.NewGateway(agentClient, reg, agent.GatewayConfig{
		PollInterval: cfg.AgentPollInterval,
		MaxAttempts:  cfg.AgentMaxAttempts,
		ErrorBudget:  cfg.AgentErrorBudget,
	}, log)

	promptLoader := bot.NewPromptLoader(db, 30*time.Second, log)
	machine := bot.NewMachine(db, promptLoader, log)

	orch := orchestrator.New(orchestrator.Config{
		ProductAgentID: cfg.ProductAgentID,
		SalesAgentID:   cfg.SalesAgentID,
		InitMessage:    cfg.AgentInitMessage,
	}, sessions, db, db, reg, gateway, machine, promptLoader, publisher, log)

	webhookHandler := handler.NewWebhookHandler(orch, log)
	sessionsHandler := handler.NewSessionsHandler(sessions, db, log)
	healthHandler := handler.NewHealthHandler(db, publisher)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/webhook/whatsapp", webhookHandler.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeOpsRead))
		r.Use(middleware.APIRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Get("/sessions/{sessionKey}", sessionsHandler.Get)
		r.Get("/sessions/{sessionKey}/bindings", sessionsHandler.Bindings)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}

	// Let in-flight events and transcripts drain.
	orch.Wait()

	log.Info("server stopped")
}
