package main

import (
	"context"
	"errors"
	"os"

	"gigfin/internal/amqp"
	"gigfin/internal/cli"
	"gigfin/internal/log"
	"gigfin/internal/sheets"
	gsheet "gigfin/internal/sheets/google"
	"gigfin/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting gigfin-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	// The Sheets mirror is optional; without it the worker only records activity.
	var mirror sheets.Mirror
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.ErrorOp(ctx, "Failed to initialize Google Sheets client", log.OpStartup, err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.ErrorOp(ctx, "Failed to initialize AMQP client", log.OpStartup, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	activity := worker.NewActivityWorker(repo, mirror)

	err = amqpClient.ConsumeEntryChanged(ctx, activity.HandleEntryChanged)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorOp(ctx, "Message consumption failed", log.OpConsume, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
