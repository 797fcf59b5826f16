package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Breaker guards a Client with a circuit breaker. Declines are business
// outcomes and do not count as failures.
type Breaker struct {
	next    Client
	cb      *gobreaker.CircuitBreaker[any]
	metrics *observability.Metrics
}

// BreakerSettings configures NewBreaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func NewBreaker(next Client, s BreakerSettings, logger zerolog.Logger, metrics *observability.Metrics) *Breaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	b := &Breaker{next: next, metrics: metrics}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrGatewayRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Gateway circuit breaker state changed")
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return b
}

func (b *Breaker) Name() string { return b.next.Name() }

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return execute(b, func() (*ChargeResult, error) { return b.next.Charge(ctx, req) })
}

func (b *Breaker) Refund(ctx context.Context, req RefundRequest) (*ChargeResult, error) {
	return execute(b, func() (*ChargeResult, error) { return b.next.Refund(ctx, req) })
}

func (b *Breaker) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	return execute(b, func() (*CheckoutSession, error) { return b.next.RetrieveCheckoutSession(ctx, sessionID) })
}

func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (any, error) { return fn() })

	result := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
		err = fmt.Errorf("%s breaker %s: %w", b.next.Name(), err, domainErrors.ErrGatewayUnavailable)
	case err != nil && !errors.Is(err, domainErrors.ErrGatewayRejected):
		result = "failure"
	}
	if b.metrics != nil {
		b.metrics.CircuitBreakerRequests.WithLabelValues(b.next.Name(), result).Inc()
	}
	if err != nil {
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}
