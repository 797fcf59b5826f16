// Package bootstrap builds the object graph shared by the API and the
// worker: config, logger, tracing, the Postgres pool and the Redis client.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cassiomorais/billingsync/internal/infrastructure/config"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/billingsync/internal/infrastructure/redis"
	"github.com/cassiomorais/billingsync/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const closeTimeout = 5 * time.Second

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	tracer *sdktrace.TracerProvider
}

// New loads configuration and connects to Postgres and Redis. Tracing is
// optional; a tracer that fails to start is logged and skipped.
func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: observability.InitLogger(
			cfg.Observability.LogLevel, serviceName, observability.LogOutput(cfg.Observability.LogFormat, os.Stdout)),
	}
	app.Logger.Info().Str("instance_id", cfg.InstanceID).Msg("Starting")

	if cfg.Observability.EnableTracing {
		app.tracer, err = observability.InitTracer(ctx, serviceName, observability.TraceOptions{
			Exporter:    cfg.Observability.TraceExporter,
			Endpoint:    cfg.Observability.TraceEndpoint(),
			Headers:     observability.ParseHeaders(cfg.Observability.OTLPHeaders),
			SampleRatio: cfg.Observability.TraceSampleRatio,
		})
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
			app.tracer = nil
		}
	}

	app.Metrics = observability.NewMetrics(metricsNamespace, nil)

	app.Pool, err = postgres.NewPool(ctx, &cfg.Database, app.Logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	app.Logger.Info().Str("host", cfg.Database.Host).Msg("Connected to PostgreSQL")

	app.Redis, err = infraRedis.NewClient(ctx, &cfg.Redis, app.Logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	app.Logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Connected to Redis")

	return app, nil
}

// Close flushes traces and releases whatever New managed to open.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if err := observability.Shutdown(ctx, a.tracer); err != nil {
		errs = append(errs, fmt.Errorf("flush traces: %w", err))
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}
