package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/google/uuid"
)

// MockClient simulates the gateway for local runs and tests.
type MockClient struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0
	declineCode string

	mu      sync.Mutex
	script  []error
	charges []ChargeRequest
}

type MockOption func(*MockClient)

func WithFailureRate(rate float64) MockOption {
	return func(c *MockClient) { c.failureRate = rate }
}

func WithLatency(d time.Duration) MockOption {
	return func(c *MockClient) { c.latency = d }
}

func WithTimeoutRate(rate float64) MockOption {
	return func(c *MockClient) { c.timeoutRate = rate }
}

// WithDeclineCode sets the code returned by simulated declines.
func WithDeclineCode(code string) MockOption {
	return func(c *MockClient) { c.declineCode = code }
}

// WithScript makes Charge return the given outcomes in order (nil is a
// success) before falling back to the random rates.
func WithScript(outcomes ...error) MockOption {
	return func(c *MockClient) { c.script = append(c.script, outcomes...) }
}

func NewMockClient(name string, opts ...MockOption) *MockClient {
	c := &MockClient{
		name:        name,
		latency:     100 * time.Millisecond,
		declineCode: "card_declined",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *MockClient) Name() string { return c.name }

func (c *MockClient) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(c.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MockClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.charges = append(c.charges, req)
	var scripted error
	fromScript := len(c.script) > 0
	if fromScript {
		scripted, c.script = c.script[0], c.script[1:]
	}
	c.mu.Unlock()

	if fromScript {
		if scripted != nil {
			return nil, scripted
		}
		return c.success(), nil
	}

	if rand.Float64() < c.timeoutRate {
		return nil, domainErrors.ErrGatewayTimeout
	}
	if rand.Float64() < c.failureRate {
		return nil, &domainErrors.GatewayError{
			Code:    c.declineCode,
			Message: fmt.Sprintf("%s: simulated decline for invoice %s", c.name, req.InvoiceID),
		}
	}
	return c.success(), nil
}

func (c *MockClient) success() *ChargeResult {
	return &ChargeResult{
		ChargeID: fmt.Sprintf("ch_%s_%s", c.name, uuid.New().String()[:8]),
		Status:   "paid",
	}
}

func (c *MockClient) Refund(ctx context.Context, req RefundRequest) (*ChargeResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if rand.Float64() < c.failureRate {
		return nil, fmt.Errorf("%s: simulated refund failure: %w", c.name, domainErrors.ErrGatewayUnavailable)
	}
	return &ChargeResult{
		ChargeID: fmt.Sprintf("re_%s_%s", c.name, uuid.New().String()[:8]),
		Status:   "succeeded",
	}, nil
}

// RetrieveCheckoutSession returns a paid session whose company and plan are
// encoded in the id as cs_<company>_<plan>, or empty when it has no such
// shape.
func (c *MockClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var company, plan string
	if rest, ok := strings.CutPrefix(sessionID, "cs_"); ok {
		if i := strings.LastIndex(rest, "_"); i > 0 {
			company, plan = rest[:i], rest[i+1:]
		}
	}
	return &CheckoutSession{
		ID:             sessionID,
		CompanyID:      company,
		PlanID:         plan,
		SubscriptionID: "sub_" + sessionID,
		CustomerID:     "cus_" + company,
		AmountTotal:    4900,
		Currency:       "usd",
		Paid:           true,
		Complete:       true,
	}, nil
}

// Charges returns every charge request seen so far.
func (c *MockClient) Charges() []ChargeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChargeRequest(nil), c.charges...)
}
