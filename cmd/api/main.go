package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/gigboard/backend/internal/config"
	"github.com/gigboard/backend/internal/disputes"
	"github.com/gigboard/backend/internal/jobs"
	"github.com/gigboard/backend/internal/ledger"
	"github.com/gigboard/backend/internal/notify"
	"github.com/gigboard/backend/internal/payout"
	"github.com/gigboard/backend/internal/reconcile"
	"github.com/gigboard/backend/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// The enqueue closures are bound after the River client exists; the
	// mutex-guarded indirection breaks the init cycle between the lifecycle
	// service and the workers that call back into it.
	var insertMu sync.Mutex
	var eventFn jobs.EnqueueEventTxFunc
	var payoutFn jobs.EnqueuePayoutTxFunc

	enqueueEvent := func(ctx context.Context, tx pgx.Tx, args notify.EventArgs) error {
		insertMu.Lock()
		fn := eventFn
		insertMu.Unlock()
		if fn == nil {
			return nil
		}
		return fn(ctx, tx, args)
	}
	enqueuePayout := func(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
		insertMu.Lock()
		fn := payoutFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("payout queue not wired")
		}
		return fn(ctx, tx, jobID)
	}

	jobsRepo := jobs.NewRepository(pool)
	authSvc, authHandler, accountRepo := buildAuth(pool, cfg, logger)

	disputeRepo := disputes.NewRepository(pool)

	jobsSvc := jobs.NewService(jobsRepo, ledgerSvc, accountRepo, disputeRepo, enqueueEvent, enqueuePayout, jobs.Config{
		ApprovalTimeout: cfg.Escrow.ApprovalTimeout,
		CancelFeeBps:    cfg.Escrow.CancelFeeBps,
		AsyncPayout:     cfg.Escrow.PayoutMode == "async",
	})

	disputesSvc := disputes.NewService(disputeRepo, jobsRepo, ledgerSvc, disputes.EnqueueEventTxFunc(enqueueEvent))

	// Workers
	workers := river.NewWorkers()
	if cfg.External.NotifyWebhookURL != "" {
		river.AddWorker(workers, notify.NewWorker(cfg.External.NotifyWebhookURL))
	}
	river.AddWorker(workers, payout.NewWorker(jobsSvc))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	if cfg.External.NotifyWebhookURL != "" {
		eventFn = func(ctx context.Context, tx pgx.Tx, args notify.EventArgs) error {
			_, err := riverClient.InsertTx(ctx, tx, args, nil)
			return err
		}
	}
	payoutFn = func(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
		_, err := riverClient.InsertTx(ctx, tx, payout.PayoutArgs{JobID: jobID}, nil)
		return err
	}
	insertMu.Unlock()

	// Background loops
	autoRelease := scheduler.NewAutoRelease(jobsRepo, jobsSvc, cfg.Escrow.SweepInterval, logger)
	autoRelease.Start(ctx)
	defer autoRelease.Stop()

	reconciler := reconcile.NewReconciler(reconcile.NewRepository(pool), cfg.Escrow.ReconcileInterval, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	handler := buildHandler(cfg, logger, authSvc, authHandler, accountRepo, jobsSvc, disputesSvc, ledgerSvc, ledgerRepo, reconciler)

	// Start River client (processes outbox events and payouts)
	go func() {
		if err := riverClient.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler: handler,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown failed", "error", err)
	}
}
