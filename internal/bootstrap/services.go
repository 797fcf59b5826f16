package bootstrap

import (
	"fmt"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/gateway"
	infraRedis "github.com/cassiomorais/billingsync/internal/infrastructure/redis"
	"github.com/cassiomorais/billingsync/internal/lock"
	"github.com/cassiomorais/billingsync/internal/repository/postgres"
	"github.com/cassiomorais/billingsync/internal/security"
	"github.com/cassiomorais/billingsync/internal/service"
)

// Services is the object graph shared by the API and the worker.
type Services struct {
	Tx            *postgres.TxManager
	Subscriptions *postgres.SubscriptionRepository
	Payments      *postgres.PaymentRepository
	Retries       *postgres.PaymentRetryRepository
	FailedEvents  *postgres.FailedEventRepository
	Audit         *postgres.AuditRepository
	Deliveries    *postgres.DeliveryRepository
	Outbox        *postgres.OutboxRepository
	Idempotency   *postgres.IdempotencyRepository

	Locks *lock.Manager
	Tasks *infraRedis.TaskQueue

	Validator    *security.Validator
	Alerter      *service.Alerter
	Processor    *service.Processor
	Ingestor     *service.Ingestor
	WebhookRetry *service.WebhookRetryScheduler
	PaymentRetry *service.PaymentRetryService
	Health       *service.HealthAggregator
	Retention    *service.RetentionService
	Checkout     *service.CheckoutService
}

// Services wires repositories, Redis collaborators and domain services from
// the loaded configuration.
func (a *App) Services() (*Services, error) {
	cfg := a.Config
	s := &Services{
		Tx:            postgres.NewTxManager(a.Pool),
		Subscriptions: postgres.NewSubscriptionRepository(a.Pool),
		Payments:      postgres.NewPaymentRepository(a.Pool),
		Retries:       postgres.NewPaymentRetryRepository(a.Pool),
		FailedEvents:  postgres.NewFailedEventRepository(a.Pool),
		Audit:         postgres.NewAuditRepository(a.Pool),
		Deliveries:    postgres.NewDeliveryRepository(a.Pool),
		Outbox:        postgres.NewOutboxRepository(a.Pool),
		Idempotency:   postgres.NewIdempotencyRepository(a.Pool),
		Tasks:         infraRedis.NewTaskQueue(a.Redis),
	}
	s.Locks = lock.NewManager(infraRedis.NewLockBackend(a.Redis), cfg.Lock.TTL, cfg.Lock.Wait, a.Logger, a.Metrics)
	s.Alerter = service.NewAlerter(infraRedis.NewCooldownStore(a.Redis), s.Outbox, cfg.Monitoring.AlertCooldown, a.Logger, a.Metrics)

	validator, err := a.newValidator()
	if err != nil {
		return nil, err
	}
	s.Validator = validator

	gw := a.newGateway()

	s.PaymentRetry = service.NewPaymentRetryService(service.PaymentRetryDeps{
		Tx:       s.Tx,
		Payments: s.Payments,
		Retries:  s.Retries,
		Audit:    s.Audit,
		Outbox:   s.Outbox,
		Locks:    s.Locks,
		Gateway:  gw,
		Tasks:    s.Tasks,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
	}, paymentretry.Policy{
		BaseDelay:   cfg.PaymentRetry.BaseDelay,
		Multiplier:  cfg.PaymentRetry.Multiplier,
		MaxDelay:    cfg.PaymentRetry.MaxDelay,
		Window:      cfg.PaymentRetry.Window,
		MaxAttempts: cfg.PaymentRetry.MaxAttempts,
	}, cfg.PaymentRetry.SweepBatch)

	deps := dispatch.Deps{
		Tx:            s.Tx,
		Subscriptions: s.Subscriptions,
		Payments:      s.Payments,
		Audit:         s.Audit,
		Outbox:        s.Outbox,
		Locks:         s.Locks,
		Retries:       s.PaymentRetry,
		Logger:        a.Logger,
	}
	registry, err := dispatch.NewRegistry(dispatch.NewHandlers(deps)...)
	if err != nil {
		return nil, fmt.Errorf("build dispatch registry: %w", err)
	}

	failures := service.NewFailedEventStore(s.FailedEvents, s.Audit, s.Alerter, service.FailedEventPolicy{
		Backoff:        failedevent.Backoff{Initial: cfg.Retry.InitialDelay, Max: cfg.Retry.MaxDelay},
		MaxRetries:     cfg.Retry.MaxRetries,
		BurstThreshold: cfg.Retry.BurstThreshold,
		BurstWindow:    cfg.Retry.BurstWindow,
	}, a.Logger, a.Metrics)

	s.Processor = service.NewProcessor(registry, s.Locks, failures, s.Deliveries, s.Audit, a.Logger, a.Metrics)
	s.Ingestor = service.NewIngestor(s.Validator, s.Processor, s.Audit, s.Alerter, a.Logger, a.Metrics)
	s.WebhookRetry = service.NewWebhookRetryScheduler(s.FailedEvents, s.Processor, cfg.Retry.SweepBatch, cfg.Retry.CleanupAfter, a.Logger, a.Metrics)
	s.Health = service.NewHealthAggregator(service.HealthDeps{
		Failures:      s.FailedEvents,
		Deliveries:    s.Deliveries,
		Payments:      s.Payments,
		Subscriptions: s.Subscriptions,
		Retries:       s.Retries,
		Alerter:       s.Alerter,
		Logger:        a.Logger,
		Metrics:       a.Metrics,
	}, service.HealthThresholds{
		FailureRateWarning:  cfg.Monitoring.FailureRateWarning,
		FailureRateCritical: cfg.Monitoring.FailureRateCritical,
		OverdueCritical:     cfg.Monitoring.OverdueCritical,
		OverdueGrace:        cfg.Monitoring.OverdueGrace,
	})
	s.Retention = service.NewRetentionService(s.Audit, s.Deliveries, cfg.Audit.RedactAfter, cfg.Audit.RetainFor, a.Logger)
	s.Checkout = service.NewCheckoutService(gw, dispatch.NewCheckout(deps), a.Logger)

	return s, nil
}

func (a *App) newValidator() (*security.Validator, error) {
	wh := a.Config.Webhook
	verifiers := make(map[string]security.Verifier, len(wh.Providers))
	for name, p := range wh.Providers {
		v, err := security.NewVerifier(p.Scheme, p.Secret, wh.PastTolerance)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		verifiers[name] = v
	}

	validator, err := security.NewValidator(security.Options{
		DevMode:         wh.DevMode,
		AllowedCIDRs:    wh.AllowedCIDRs,
		PastTolerance:   wh.PastTolerance,
		FutureTolerance: wh.FutureTolerance,
		IdempotencyTTL:  wh.IdempotencyTTL,
		Verifiers:       verifiers,
	},
		infraRedis.NewSlidingWindowLimiter(a.Redis, wh.RateLimit, wh.RateWindow),
		infraRedis.NewEventStore(a.Redis),
		a.Logger,
		a.Metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("build webhook validator: %w", err)
	}
	return validator, nil
}

func (a *App) newGateway() gateway.Client {
	cfg := a.Config.Gateway
	var client gateway.Client
	if cfg.UseMock {
		a.Logger.Warn().Msg("Using mock payment gateway")
		client = gateway.NewMockClient("mock")
	} else {
		client = gateway.NewHTTPClient(cfg, a.Logger)
	}
	return gateway.NewBreaker(client, gateway.BreakerSettings{
		ConsecutiveFailures: uint32(cfg.CircuitBreakerThreshold),
		OpenTimeout:         cfg.CircuitBreakerTimeout,
	}, a.Logger, a.Metrics)
}

// SignatureHeaders maps each configured provider to its signature header.
func (a *App) SignatureHeaders() map[string]string {
	out := make(map[string]string, len(a.Config.Webhook.Providers))
	for name, p := range a.Config.Webhook.Providers {
		out[name] = p.SignatureHeader
	}
	return out
}
