package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"buoni/internal/amqp"
	"buoni/internal/config"
	applog "buoni/internal/log"
	"buoni/internal/sheets"
	gsheet "buoni/internal/sheets/google"
	"buoni/internal/storage"
	"buoni/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := applog.New(applog.ParseLevel(cfg.LogLevel), applog.ComponentWorker)
	applog.SetDefault(logger)

	logger.Info("Starting buoni-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Google Sheets export is optional; without it the worker still runs
	// retention purges and drains the queue.
	var writer *gsheet.Client
	if cfg.GoogleSpreadsheetID != "" {
		writer, err = gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The typed-nil check matters here: a nil *gsheet.Client stored in the
	// interface would not compare equal to nil inside the worker.
	var auditWriter sheets.AllocationWriter
	if writer != nil {
		auditWriter = writer
	}
	auditWorker := worker.NewAuditWorker(repo, auditWriter, cfg.PurgeRetention)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumeLoop(ctx, cfg, auditWorker)
	})

	g.Go(func() error {
		return auditWorker.RunPurgeLoop(ctx, cfg.PurgeInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Worker shutdown complete")
}

// consumeLoop keeps a consumer attached to the broker, reconnecting with
// exponential backoff when the connection drops.
func consumeLoop(ctx context.Context, cfg *config.Config, w *worker.AuditWorker) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			attempt++
			wait := amqp.ExponentialBackoff(attempt)
			slog.ErrorContext(ctx, "Broker connection failed, retrying",
				"error", err,
				"attempt", attempt,
				"wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		err = client.ConsumeMessages(ctx,
			func(msg *amqp.AllocationMessage) error {
				return w.HandleAllocationMessage(ctx, msg)
			},
			func(msg *amqp.VoucherAddedMessage) error {
				return w.HandleVoucherAddedMessage(ctx, msg)
			})
		client.Close()

		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil && !amqp.IsConnectionError(err) {
			return err
		}
		// connection dropped, loop around and reconnect
	}
}
