package cli

import (
	"context"
	"fmt"
	"log/slog"

	"splitledger/internal/amqp"
	"splitledger/internal/backend"
	"splitledger/internal/backend/httpapi"
	"splitledger/internal/backend/memory"
	"splitledger/internal/cache"
	"splitledger/internal/config"
	"splitledger/internal/editor"
	"splitledger/internal/gateway"
	apphttp "splitledger/internal/http"
	"splitledger/internal/log"
	"splitledger/internal/storage"
)

// BuildBackend selects the collaborator per config: the expense
// backend's REST API or the in-process fake seeded from SeedDir.
func BuildBackend(cfg *config.Config) backend.Backend {
	switch cfg.BackendMode {
	case "http":
		return httpapi.NewClient(httpapi.Config{
			BaseURL: cfg.BackendBaseURL,
			Token:   cfg.BackendToken,
			Timeout: cfg.BackendTimeout,
		})
	default:
		return memory.NewFromFiles(cfg.SeedDir)
	}
}

// RunServer composes the editor service and serves until ctx ends.
func RunServer(ctx context.Context, cfg *config.Config, slogger *slog.Logger) error {
	logger := log.New(log.Config{Handler: slogger.Handler(), Component: log.ComponentApp})

	cached := cache.WrapBackend(BuildBackend(cfg), cfg.CacheTTL)
	cacheManager := cache.NewManager()
	cached.Register(cacheManager)
	cacheManager.StartCleanup(cfg.CacheCleanupInterval)
	defer cacheManager.Stop()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer repo.Close()

	var publisher *amqp.Client
	if cfg.AMQPURL != "" {
		publisher, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return fmt.Errorf("init amqp: %w", err)
		}
		defer publisher.Close()
	} else {
		slogger.Warn("AMQP disabled - purchase events will not be published")
	}

	sessions := editor.NewManager(cached, repo, logger)
	if err := sessions.Restore(ctx); err != nil {
		slogger.Warn("Draft restore failed", "error", err)
	}

	var gwPublisher gateway.Publisher
	var deletePublisher apphttp.DeletePublisher
	if publisher != nil {
		gwPublisher = publisher
		deletePublisher = publisher
	}
	gw := gateway.New(cached, gwPublisher, logger)

	server := apphttp.NewServer(apphttp.Config{
		Addr:            ":" + cfg.Port,
		SaveRatePerMin:  cfg.SaveRatePerMin,
		ShutdownTimeout: ShutdownTimeout,
	}, sessions, gw, cached, deletePublisher, logger)

	slogger.Info("Starting splitledger server",
		"port", cfg.Port, "backend_mode", cfg.BackendMode)
	return server.Start(ctx)
}
