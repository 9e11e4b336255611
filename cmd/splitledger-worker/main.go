package main

import (
	"context"
	"errors"
	"os"

	"splitledger/internal/amqp"
	"splitledger/internal/cli"
	googlemirror "splitledger/internal/mirror/google"
	"splitledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting splitledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	var mirror worker.Mirror
	if cfg.MirrorEnabled {
		m, err := googlemirror.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Sheets mirror", "error", err)
			os.Exit(1)
		}
		mirror = m
		logger.Info("Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Sheets mirror disabled")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx := cli.SignalContext(logger)

	auditWorker := worker.NewAuditWorker(repo, mirror)
	if err := auditWorker.Run(ctx, amqpClient); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
