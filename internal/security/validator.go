// Package security decides whether an inbound webhook delivery is authentic,
// fresh, within its source's rate budget, and not already seen.
package security

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Reason explains why a delivery was not accepted.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnknownProvider  Reason = "unknown_provider"
	ReasonSourceNotAllowed Reason = "source_not_allowed"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonStaleTimestamp   Reason = "stale_timestamp"
	ReasonMalformed        Reason = "malformed_payload"
	ReasonUnavailable      Reason = "store_unavailable"
)

// IsSecurityEvent reports whether the reason points at a forged or replayed
// delivery rather than an operational condition.
func (r Reason) IsSecurityEvent() bool {
	switch r {
	case ReasonSourceNotAllowed, ReasonInvalidSignature, ReasonStaleTimestamp:
		return true
	}
	return false
}

// Request carries everything the validator inspects. EventID and
// EventTimestamp are empty when the body could not be parsed.
type Request struct {
	Provider        string
	SourceIP        string
	SignatureHeader string
	RawPayload      []byte
	EventID         string
	EventTimestamp  time.Time
}

// Decision is the validator verdict. Duplicate deliveries are Valid.
type Decision struct {
	Valid     bool
	Duplicate bool
	Reason    Reason
	Err       error
}

// RateLimiter bounds deliveries per source.
type RateLimiter interface {
	Allow(ctx context.Context, source string) (bool, error)
}

// EventStore remembers event ids that passed validation.
type EventStore interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	Mark(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, provider, eventID string) error
}

// Options configures a Validator.
type Options struct {
	DevMode         bool
	AllowedCIDRs    []string
	PastTolerance   time.Duration
	FutureTolerance time.Duration
	IdempotencyTTL  time.Duration
	Verifiers       map[string]Verifier
}

type Validator struct {
	devMode         bool
	allowed         []netip.Prefix
	pastTolerance   time.Duration
	futureTolerance time.Duration
	idempotencyTTL  time.Duration
	verifiers       map[string]Verifier
	limiter         RateLimiter
	events          EventStore
	logger          zerolog.Logger
	metrics         *observability.Metrics
	now             func() time.Time
}

func NewValidator(opts Options, limiter RateLimiter, events EventStore, logger zerolog.Logger, metrics *observability.Metrics) (*Validator, error) {
	allowed := make([]netip.Prefix, 0, len(opts.AllowedCIDRs))
	for _, cidr := range opts.AllowedCIDRs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse allowed cidr %q: %w", cidr, err)
		}
		allowed = append(allowed, p.Masked())
	}
	if !opts.DevMode && len(allowed) == 0 {
		return nil, errors.New("at least one allowed CIDR is required outside dev mode")
	}

	return &Validator{
		devMode:         opts.DevMode,
		allowed:         allowed,
		pastTolerance:   opts.PastTolerance,
		futureTolerance: opts.FutureTolerance,
		idempotencyTTL:  opts.IdempotencyTTL,
		verifiers:       opts.Verifiers,
		limiter:         limiter,
		events:          events,
		logger:          logger.With().Str("component", "webhook_validator").Logger(),
		metrics:         metrics,
		now:             time.Now,
	}, nil
}

// HasProvider reports whether deliveries for provider can be verified.
func (v *Validator) HasProvider(provider string) bool {
	_, ok := v.verifiers[provider]
	return ok
}

// Validate runs the checks in order: provider, source address, rate limit,
// signature, timestamp, idempotency. The event id is marked as seen only after
// every other check has passed.
func (v *Validator) Validate(ctx context.Context, req Request) Decision {
	verifier, ok := v.verifiers[req.Provider]
	if !ok {
		return v.reject(req, ReasonUnknownProvider, nil)
	}

	if !v.devMode && !v.sourceAllowed(req.SourceIP) {
		return v.reject(req, ReasonSourceNotAllowed, nil)
	}

	allowed, err := v.limiter.Allow(ctx, sourceKey(req.SourceIP))
	if err != nil {
		return v.reject(req, ReasonUnavailable, err)
	}
	if !allowed {
		return v.reject(req, ReasonRateLimited, nil)
	}

	now := v.now()
	if err := verifier.Verify(req.RawPayload, req.SignatureHeader, now); err != nil {
		if errors.Is(err, ErrSignatureExpired) {
			return v.reject(req, ReasonStaleTimestamp, err)
		}
		return v.reject(req, ReasonInvalidSignature, err)
	}

	if req.EventID == "" || req.EventTimestamp.IsZero() {
		return v.reject(req, ReasonMalformed, nil)
	}

	if age := now.Sub(req.EventTimestamp); age > v.pastTolerance || -age > v.futureTolerance {
		return v.reject(req, ReasonStaleTimestamp, fmt.Errorf("event age %s", age.Round(time.Second)))
	}

	seen, err := v.events.Seen(ctx, req.Provider, req.EventID)
	if err != nil {
		return v.reject(req, ReasonUnavailable, err)
	}
	if seen {
		return v.duplicate(req)
	}

	first, err := v.events.Mark(ctx, req.Provider, req.EventID, v.idempotencyTTL)
	if err != nil {
		return v.reject(req, ReasonUnavailable, err)
	}
	if !first {
		// A concurrent delivery of the same id got there first.
		return v.duplicate(req)
	}

	return Decision{Valid: true}
}

// Release forgets an accepted event id so a redelivery is processed again.
// Callers use it when they cannot take responsibility for the event.
func (v *Validator) Release(ctx context.Context, provider, eventID string) error {
	return v.events.Forget(ctx, provider, eventID)
}

func (v *Validator) sourceAllowed(source string) bool {
	addr, err := parseAddr(source)
	if err != nil {
		return false
	}
	for _, p := range v.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseAddr(source string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(source); err == nil {
		return ap.Addr().Unmap(), nil
	}
	addr, err := netip.ParseAddr(source)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}

// sourceKey drops the port so rate limiting is per address.
func sourceKey(source string) string {
	if addr, err := parseAddr(source); err == nil {
		return addr.String()
	}
	return source
}

func (v *Validator) duplicate(req Request) Decision {
	v.logger.Info().
		Str("provider", req.Provider).
		Str("event_id", req.EventID).
		Msg("Duplicate webhook delivery")
	return Decision{Valid: true, Duplicate: true}
}

func (v *Validator) reject(req Request, reason Reason, err error) Decision {
	evt := v.logger.Warn()
	if reason == ReasonUnavailable {
		evt = v.logger.Error()
	}
	evt.Err(err).
		Str("provider", req.Provider).
		Str("source_ip", req.SourceIP).
		Str("event_id", req.EventID).
		Str("reason", string(reason)).
		Msg("Webhook delivery rejected")

	if v.metrics != nil {
		v.metrics.WebhookRejections.WithLabelValues(string(reason)).Inc()
	}
	return Decision{Reason: reason, Err: err}
}
