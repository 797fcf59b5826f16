package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/billingsync/internal/bootstrap"
	"github.com/cassiomorais/billingsync/internal/controller"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "billingsync-api", "billingsync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc, err := app.Services()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to wire services")
	}

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		DB:               controller.PingFunc(app.Pool.Ping),
		Redis:            controller.PingFunc(func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }),
		Ingestor:         svc.Ingestor,
		SignatureHeaders: app.SignatureHeaders(),
		MaxBodyBytes:     app.Config.Webhook.MaxBodyBytes,
		Health:           svc.Health,
		FailedEvents:     svc.WebhookRetry,
		PaymentRetries:   svc.PaymentRetry,
		Checkout:         svc.Checkout,
		IdempotencyStore: svc.Idempotency,
		Metrics:          app.Metrics,
		ExposeMetrics:    app.Config.Observability.EnableMetrics,
		CORSConfig:       app.Config.Server.CORS,
		RateLimitRPM:     app.Config.Server.RateLimitRPM,
		JWTSecret:        app.Config.Auth.JWTSecret,
		TrustedProxies:   app.Config.Server.TrustedProxyPrefixes(),
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
