package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/dispatch"
	"github.com/haasonsaas/parley/internal/engine"
	"github.com/haasonsaas/parley/internal/gateway"
	"github.com/haasonsaas/parley/internal/nlp"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/store"
	"github.com/haasonsaas/parley/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent engine and HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default $PARLEY_CONFIG or parley.yaml)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("PARLEY_CONFIG")
	}
	if path == "" {
		// No explicit file requested; use parley.yaml when present,
		// otherwise built-in defaults.
		if _, err := os.Stat("parley.yaml"); err != nil {
			return config.Default(), nil
		}
		path = "parley.yaml"
	}
	return config.Load(path)
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	shutdownTracing := observability.InitTracing()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics(nil)

	var sessions store.SessionStore
	switch cfg.Database.Driver {
	case "sqlite":
		sqliteStore, err := store.NewSQLiteSessionStore(store.SQLiteConfig{Path: cfg.Database.Path})
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		defer sqliteStore.Close()
		sessions = sqliteStore
	default:
		sessions = store.NewMemorySessionStore()
	}

	catalog := store.NewMemoryCatalog()

	var provider nlp.Provider
	switch cfg.LLM.Provider {
	case "anthropic":
		provider = nlp.NewAnthropicProvider(nlp.AnthropicConfig{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		})
	default:
		provider = nlp.NewOpenAIProvider(nlp.OpenAIConfig{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		})
	}
	generator := nlp.NewGenerator(provider)

	registry := tools.NewRegistry()

	eng := engine.New(engine.Config{
		Stores: engine.Stores{
			Sessions:       sessions,
			Agents:         catalog,
			Customers:      catalog,
			Guidelines:     catalog,
			Journeys:       catalog,
			GuidelineTools: catalog,
			NodeTools:      catalog,
			Canned:         catalog,
			Variables:      catalog,
			Glossary:       catalog.Glossary(),
			Capabilities:   catalog,
			Inspections:    catalog,
		},
		Registry:          registry,
		Generator:         generator,
		Logger:            logger,
		Metrics:           metrics,
		Timeout:           cfg.Engine.Timeout,
		MaxActiveJourneys: cfg.Engine.MaxActiveJourneys,
		MaxGlossaryTerms:  cfg.Engine.MaxGlossaryTerms,
	})

	dispatcher := dispatch.NewService(eng, sessions, logger, metrics)

	gw := gateway.NewServer(sessions, catalog, catalog, catalog, dispatcher, logger, gateway.Config{
		LongPollTimeout: cfg.Server.LongPollTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "llm_provider", cfg.LLM.Provider, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	dispatcher.Shutdown()
	logger.Info("shutdown complete")
	return nil
}
