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

	"github.com/cassiomorais/billingsync/internal/bootstrap"
	infraRedis "github.com/cassiomorais/billingsync/internal/infrastructure/redis"
	"github.com/cassiomorais/billingsync/internal/scheduler"
	"github.com/cassiomorais/billingsync/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.New(ctx, "billingsync-worker", "billingsync_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc, err := app.Services()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to wire services")
	}
	cfg := app.Config

	// --- Periodic jobs ---
	registry := scheduler.NewRegistry()
	registry.Register(scheduler.WebhookSweepJob(svc.WebhookRetry), cfg.Retry.SweepInterval)
	registry.Register(scheduler.FailedEventCleanupJob(svc.WebhookRetry), cfg.Audit.MaintenanceInterval)
	registry.Register(scheduler.PaymentSweepJob(svc.PaymentRetry), cfg.PaymentRetry.SweepInterval)
	registry.Register(scheduler.HealthCheckJob(svc.Health), cfg.Monitoring.CheckInterval)
	registry.Register(scheduler.AuditRedactJob(svc.Retention), cfg.Audit.MaintenanceInterval)
	registry.Register(scheduler.AuditPurgeJob(svc.Retention), cfg.Audit.MaintenanceInterval)
	registry.Register(scheduler.IdempotencyCleanupJob(svc.Idempotency), time.Hour)
	registry.Register(scheduler.OutboxRetentionJob(svc.Outbox, 0, app.Logger), cfg.Audit.MaintenanceInterval)
	registry.Register(scheduler.TaskPromoteJob(svc.Tasks, cfg.Worker.BatchSize*10, app.Logger), cfg.Worker.TaskPromoteInterval)
	registry.Register(scheduler.NewOutboxRelay(
		svc.Tx, svc.Outbox, infraRedis.NewNotificationPublisher(app.Redis), int(cfg.Worker.BatchSize)*5, app.Logger,
	), cfg.Worker.OutboxPollInterval)

	sched, err := scheduler.NewService(registry, svc.Locks, app.Logger, app.Metrics)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	// --- Retry task consumer ---
	stream := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.TaskStream,
		cfg.Worker.ConsumerGroup,
		cfg.InstanceID,
		cfg.Worker.BatchSize,
		cfg.Worker.BlockDuration,
	)
	tasks := worker.NewTaskConsumer(stream, svc.PaymentRetry, app.Logger, app.Metrics)

	app.Logger.Info().
		Str("group", cfg.Worker.ConsumerGroup).
		Str("consumer", cfg.InstanceID).
		Msg("Worker started")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gCtx) })
	g.Go(func() error { return tasks.Run(gCtx) })

	if cfg.Observability.EnableMetrics {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			app.Logger.Info().Str("addr", srv.Addr).Msg("Serving worker metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
