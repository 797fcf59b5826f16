package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/gateway"
	"github.com/cassiomorais/billingsync/internal/lock"
	"github.com/cassiomorais/billingsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

// clock is a settable time source shared by the services under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLockManager() *lock.Manager {
	return lock.NewManager(testutil.NewMemoryLockBackend(), 5*time.Second, 2*time.Second, zerolog.Nop(), nil)
}

type env struct {
	clock        *clock
	tx           *testutil.MockTransactionManager
	subs         *testutil.MockSubscriptionRepository
	payments     *testutil.MockPaymentRepository
	retriesRepo  *testutil.MockPaymentRetryRepository
	failedRepo   *testutil.MockFailedEventRepository
	deliveries   *testutil.MockDeliveryRepository
	audit        *testutil.MockAuditRepository
	outbox       *testutil.MockOutboxRepository
	tasks        *testutil.MockTaskQueue
	cooldowns    *testutil.MemoryCooldownStore
	gateway      *gateway.MockClient
	locks        *lock.Manager
	alerter      *Alerter
	retries      *PaymentRetryService
	failures     *FailedEventStore
	processor    *Processor
	webhookSweep *WebhookRetryScheduler
	registry     *dispatch.Registry
}

// newEnv wires the service layer against in-memory doubles. Charges follow
// script, then succeed.
func newEnv(t *testing.T, script ...error) *env {
	t.Helper()
	e := &env{
		clock:       newClock(),
		tx:          testutil.NewMockTransactionManager(),
		subs:        testutil.NewMockSubscriptionRepository(),
		payments:    testutil.NewMockPaymentRepository(),
		retriesRepo: testutil.NewMockPaymentRetryRepository(),
		failedRepo:  testutil.NewMockFailedEventRepository(),
		deliveries:  testutil.NewMockDeliveryRepository(),
		audit:       testutil.NewMockAuditRepository(),
		outbox:      testutil.NewMockOutboxRepository(),
		tasks:       testutil.NewMockTaskQueue(),
		cooldowns:   testutil.NewMemoryCooldownStore(),
		locks:       newLockManager(),
	}
	e.cooldowns.Now = e.clock.Now
	e.gateway = gateway.NewMockClient("stripe", gateway.WithLatency(0), gateway.WithScript(script...))

	e.alerter = NewAlerter(e.cooldowns, e.outbox, DefaultAlertCooldown, zerolog.Nop(), nil)

	e.retries = NewPaymentRetryService(PaymentRetryDeps{
		Tx:       e.tx,
		Payments: e.payments,
		Retries:  e.retriesRepo,
		Audit:    e.audit,
		Outbox:   e.outbox,
		Locks:    e.locks,
		Gateway:  e.gateway,
		Tasks:    e.tasks,
		Logger:   zerolog.Nop(),
	}, paymentRetryTestPolicy(), 0)
	e.retries.now = e.clock.Now

	handlers := dispatch.NewHandlers(dispatch.Deps{
		Tx:            e.tx,
		Subscriptions: e.subs,
		Payments:      e.payments,
		Audit:         e.audit,
		Outbox:        e.outbox,
		Locks:         e.locks,
		Retries:       e.retries,
		Logger:        zerolog.Nop(),
	})
	reg, err := dispatch.NewRegistry(handlers...)
	require.NoError(t, err)
	e.registry = reg

	e.failures = NewFailedEventStore(e.failedRepo, e.audit, e.alerter, DefaultFailedEventPolicy(), zerolog.Nop(), nil)
	e.failures.now = e.clock.Now

	e.processor = NewProcessor(e.registry, e.locks, e.failures, e.deliveries, e.audit, zerolog.Nop(), nil)
	e.processor.now = e.clock.Now

	e.webhookSweep = NewWebhookRetryScheduler(e.failedRepo, e.processor, 0, 0, zerolog.Nop(), nil)
	e.webhookSweep.now = e.clock.Now
	return e
}

func paymentRetryTestPolicy() paymentretry.Policy {
	return paymentretry.Policy{
		BaseDelay:   time.Hour,
		Multiplier:  2,
		MaxDelay:    24 * time.Hour,
		Window:      7 * 24 * time.Hour,
		MaxAttempts: 3,
	}
}

func (e *env) seedPayment(t *testing.T, invoiceID string, status payment.Status) *payment.Payment {
	t.Helper()
	p := testutil.NewTestPayment("C1", invoiceID, 4900, status)
	require.NoError(t, e.payments.Create(context.Background(), p))
	return p
}

func (e *env) payment(t *testing.T, p *payment.Payment) *payment.Payment {
	t.Helper()
	got, err := e.payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	return got
}
