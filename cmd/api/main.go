// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/locrit/platform/internal/config"
	"github.com/locrit/platform/internal/directory"
	"github.com/locrit/platform/internal/handler"
	"github.com/locrit/platform/internal/llm"
	"github.com/locrit/platform/internal/model"
	natsclient "github.com/locrit/platform/internal/nats"
	"github.com/locrit/platform/internal/scheduler"
	"github.com/locrit/platform/internal/service"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/logger"
	"github.com/locrit/platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("store", cfg.StoreBackend))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "locrit-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	dir, err := openDirectory(cfg, log)
	if err != nil {
		log.Fatal("failed to load locrit directory", zap.Error(err))
	}

	gen, err := newGenerator(cfg, log)
	if err != nil {
		log.Fatal("failed to create message generator", zap.Error(err))
	}

	// Initialize services
	scheduledSvc := service.NewScheduledService(st, dir, service.ScheduledOptions{
		Defaults: scheduler.Defaults{
			Duration:         cfg.Scheduled.Duration,
			MessageFrequency: cfg.Scheduled.MessageFrequency,
			MaxMessages:      cfg.Scheduled.MaxMessages,
			Style:            model.Style(cfg.Scheduled.Style),
		},
		MaxActive: cfg.Scheduled.MaxActive,
		Generator: gen,
	}, log)

	router := handler.NewRouter(handler.RouterConfig{
		Store:             st,
		Conversations:     service.NewConversationService(st, log),
		Messages:          service.NewMessageService(st, st, dir, log),
		Scheduled:         scheduledSvc,
		Logger:            log,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// live runs are ended first so their records are not left active
	scheduledSvc.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		return store.NewSQLiteStore(cfg.SQLitePath, log)
	case config.StoreNATS:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, err
		}
		s, err := natsclient.NewStore(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openDirectory(cfg *config.Config, log *logger.Logger) (directory.Directory, error) {
	switch {
	case cfg.LocritAPIURL != "":
		log.Info("using locrit backend directory", zap.String("url", cfg.LocritAPIURL))
		return directory.NewHTTPDirectory(cfg.LocritAPIURL, log), nil
	case cfg.LocritsFile != "":
		log.Info("using locrit directory file", zap.String("path", cfg.LocritsFile))
		return directory.LoadFile(cfg.LocritsFile)
	default:
		log.Warn("no locrit directory configured, scheduled conversations cannot resolve participants")
		return directory.NewStatic(), nil
	}
}

func newGenerator(cfg *config.Config, log *logger.Logger) (scheduler.Generator, error) {
	templates := scheduler.DefaultTemplates()
	if cfg.Scheduled.TemplatesFile != "" {
		t, err := scheduler.LoadTemplates(cfg.Scheduled.TemplatesFile)
		if err != nil {
			return nil, err
		}
		templates = t
	}
	fallback := scheduler.NewTemplateGenerator(templates)

	apiKey := cfg.OpenAIAPIKey
	if llm.Provider(cfg.LLMProvider) == llm.ProviderAnthropic {
		apiKey = cfg.AnthropicAPIKey
	}
	client, err := llm.NewClient(llm.Provider(cfg.LLMProvider), llm.Options{
		APIKey:  apiKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.LLMModel,
	})
	if err != nil {
		return nil, err
	}
	if client == nil {
		return fallback, nil
	}

	log.Info("using LLM message generator", zap.String("provider", client.Name()))
	return scheduler.NewLLMGenerator(client, fallback, log), nil
}
