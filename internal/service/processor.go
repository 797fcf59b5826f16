package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/cassiomorais/billingsync/internal/lock"
	"github.com/rs/zerolog"
)

// Dispatcher routes an event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *event.Inbound) dispatch.Result
}

// Processor runs one verified event through the registry under the per-event
// lock and settles the outcome: success clears any failed-event record,
// failure is persisted for retry or triage.
type Processor struct {
	registry   Dispatcher
	locks      *lock.Manager
	failures   *FailedEventStore
	deliveries event.DeliveryRepository
	audit      audit.Repository
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewProcessor(
	registry Dispatcher,
	locks *lock.Manager,
	failures *FailedEventStore,
	deliveries event.DeliveryRepository,
	auditRepo audit.Repository,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Processor {
	return &Processor{
		registry:   registry,
		locks:      locks,
		failures:   failures,
		deliveries: deliveries,
		audit:      auditRepo,
		logger:     logger.With().Str("component", "processor").Logger(),
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Process dispatches evt. The returned error is set only when a failure could
// not be persisted, in which case the caller must not acknowledge the event.
func (p *Processor) Process(ctx context.Context, evt *event.Inbound) (dispatch.Result, error) {
	l, err := p.locks.Acquire(ctx, lock.WebhookKey(evt.ID), 0, 0)
	if err != nil {
		res := dispatch.FailedFrom(err)
		return res, p.settle(ctx, evt, res)
	}
	defer l.Release(ctx)

	res := p.dispatch(ctx, evt)
	return res, p.settle(ctx, evt, res)
}

// Replay re-dispatches a stored failure. The record is reloaded under the
// per-event lock so a concurrent webhook delivery or sweep that already
// settled it is not replayed twice. It reports whether a dispatch happened.
func (p *Processor) Replay(ctx context.Context, fe *failedevent.FailedEvent) (dispatch.Result, bool, error) {
	l, err := p.locks.Acquire(ctx, lock.WebhookKey(fe.EventID), 0, time.Second)
	if err != nil {
		if errors.Is(err, domainErrors.ErrLockTimeout) {
			return dispatch.Result{}, false, nil
		}
		return dispatch.Result{}, false, err
	}
	defer l.Release(ctx)

	current, err := p.failures.repo.Get(ctx, fe.EventID)
	if errors.Is(err, domainErrors.ErrFailedEventNotFound) {
		return dispatch.Result{}, false, nil
	}
	if err != nil {
		return dispatch.Result{}, false, fmt.Errorf("reload failed event %s: %w", fe.EventID, err)
	}
	if !current.Due(p.now()) {
		return dispatch.Result{}, false, nil
	}

	evt, err := event.Rehydrate(current.Provider, current.Payload)
	if err != nil {
		res := dispatch.FailedFrom(err)
		return res, true, p.settle(ctx, &event.Inbound{ID: current.EventID, Kind: event.Kind(current.Kind), Provider: current.Provider, Payload: current.Payload}, res)
	}

	res := p.dispatch(ctx, evt)
	return res, true, p.settle(ctx, evt, res)
}

func (p *Processor) dispatch(ctx context.Context, evt *event.Inbound) dispatch.Result {
	start := time.Now()
	res := p.registry.Dispatch(ctx, evt)
	if p.metrics != nil {
		p.metrics.WebhookProcessingDuration.WithLabelValues(string(evt.Kind)).Observe(time.Since(start).Seconds())
		p.metrics.HandlerOutcomes.WithLabelValues(string(evt.Kind), string(res.Outcome)).Inc()
	}

	log := p.eventLogger(evt)
	logEvt := log.Info()
	if res.Outcome == dispatch.OutcomeWarning {
		logEvt = log.Warn()
	}
	if !res.OK() {
		logEvt = log.Warn()
		if res.Failure == dispatch.FailureUnsupportedKind && event.IsKnownUnhandled(evt.Kind) {
			logEvt = log.Info()
		}
	}
	logEvt.Str("outcome", string(res.Outcome)).
		Str("failure_kind", string(res.Failure)).
		Str("message", res.Message).
		Dur("duration", time.Since(start)).
		Msg("Webhook event dispatched")
	return res
}

// settle records the outcome. Ledger and audit writes are best effort; only
// a lost failure record is returned as an error.
func (p *Processor) settle(ctx context.Context, evt *event.Inbound, res dispatch.Result) error {
	p.recordDelivery(ctx, evt, res)

	if res.OK() {
		if err := p.failures.Resolve(ctx, evt.ID); err != nil {
			p.eventLogger(evt).Warn().Err(err).Msg("Failed to clear failed event record")
		}
		return nil
	}

	if res.Failure == dispatch.FailureUnsupportedKind {
		severity := audit.SeverityWarning
		if event.IsKnownUnhandled(evt.Kind) {
			severity = audit.SeverityInfo
		}
		p.appendAudit(ctx, audit.NewEntry(audit.ActionWebhookUnsupported, severity,
			map[string]string{"event_id": evt.ID},
			map[string]any{"kind": string(evt.Kind), "provider": evt.Provider}))
	} else {
		p.appendAudit(ctx, audit.NewEntry(audit.ActionWebhookFailed, audit.SeverityWarning,
			map[string]string{"event_id": evt.ID},
			map[string]any{"kind": string(evt.Kind), "failure_kind": string(res.Failure), "error": res.Message}))
	}

	if _, err := p.failures.RecordFailure(ctx, evt, res); err != nil {
		p.eventLogger(evt).Error().Err(err).Msg("Failed to persist webhook failure")
		return err
	}
	return nil
}

func (p *Processor) recordDelivery(ctx context.Context, evt *event.Inbound, res dispatch.Result) {
	if p.deliveries == nil {
		return
	}
	d := &event.Delivery{
		EventID:     evt.ID,
		Kind:        string(evt.Kind),
		Provider:    evt.Provider,
		Outcome:     string(res.Outcome),
		FailureKind: string(res.Failure),
		ProcessedAt: p.now(),
	}
	if err := p.deliveries.Record(ctx, d); err != nil {
		p.eventLogger(evt).Warn().Err(err).Msg("Failed to record delivery")
	}
}

func (p *Processor) eventLogger(evt *event.Inbound) *zerolog.Logger {
	l := observability.EventLogger(p.logger, evt.Provider, evt.ID, string(evt.Kind))
	return &l
}

func (p *Processor) appendAudit(ctx context.Context, e *audit.Entry) {
	if err := p.audit.Append(ctx, e); err != nil {
		p.logger.Error().Err(err).Str("action", e.Action).Msg("Failed to write audit entry")
	}
}
