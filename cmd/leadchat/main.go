package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/junostudio/leadchat/internal/assistant"
	"github.com/junostudio/leadchat/internal/completion"
	"github.com/junostudio/leadchat/internal/config"
	"github.com/junostudio/leadchat/internal/guest"
	"github.com/junostudio/leadchat/internal/httpapi"
	"github.com/junostudio/leadchat/internal/observability"
	"github.com/junostudio/leadchat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	stateStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("state store init failed: %v", err)
	}
	defer stateStore.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("state store: in-memory (set DATABASE_URL for durable guest state)")
	} else {
		log.Printf("state store: postgres")
	}

	crm := guest.NewCRM(cfg.CRMBaseURL, cfg.CRMTimeout)
	if cfg.CRMBaseURL == "" {
		log.Printf("crm: not configured, guest records stay local")
	}

	client := completion.NewClient(completion.Config{
		URL:             cfg.CompletionURL,
		APIKey:          cfg.CompletionAPIKey,
		Model:           cfg.CompletionModel,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		DecideTimeout:   cfg.DecideTimeout,
		StreamTimeout:   cfg.StreamTimeout,
		DecideRetryMax:  cfg.DecideRetryMax,
		DecideRetryBase: cfg.DecideRetryBase,
	})

	notifier := assistant.NewNotifier(cfg.ContactWebhookURL)
	if cfg.ContactWebhookURL == "" {
		log.Printf("contact webhook: not configured, escalations only reach the widget")
	}

	engine := assistant.NewEngine(
		stateStore,
		crm,
		client,
		notifier,
		metrics,
		cfg.ConversationWindow,
		cfg.ConversationIdleTimeout,
	)

	api := httpapi.New(cfg, engine, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	engine.StartJanitor(runCtx, time.Minute)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
