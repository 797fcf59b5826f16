package service

import (
	"context"
	"net/http"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/cassiomorais/billingsync/internal/security"
	"github.com/rs/zerolog"
)

// DeliveryValidator is the security gate in front of dispatch.
type DeliveryValidator interface {
	HasProvider(provider string) bool
	Validate(ctx context.Context, req security.Request) security.Decision
	Release(ctx context.Context, provider, eventID string) error
}

// WebhookDelivery is one inbound webhook request.
type WebhookDelivery struct {
	Provider        string
	SourceIP        string
	SignatureHeader string
	Body            []byte
}

// IngestResult is what the webhook endpoint answers.
type IngestResult struct {
	StatusCode int
	Status     string
	EventID    string
	Outcome    dispatch.Outcome
}

// Ingestor validates a delivery and hands it to the processor.
type Ingestor struct {
	validator DeliveryValidator
	processor *Processor
	audit     audit.Repository
	alerter   *Alerter
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewIngestor(
	validator DeliveryValidator,
	processor *Processor,
	auditRepo audit.Repository,
	alerter *Alerter,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Ingestor {
	return &Ingestor{
		validator: validator,
		processor: processor,
		audit:     auditRepo,
		alerter:   alerter,
		logger:    logger.With().Str("component", "ingest").Logger(),
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var rejectionStatus = map[security.Reason]int{
	security.ReasonUnknownProvider:  http.StatusNotFound,
	security.ReasonSourceNotAllowed: http.StatusForbidden,
	security.ReasonRateLimited:      http.StatusTooManyRequests,
	security.ReasonInvalidSignature: http.StatusBadRequest,
	security.ReasonStaleTimestamp:   http.StatusBadRequest,
	security.ReasonMalformed:        http.StatusBadRequest,
	security.ReasonUnavailable:      http.StatusServiceUnavailable,
}

// Ingest runs the full inbound path. Rejected deliveries never reach a
// handler and never create a failed-event record. Handler failures that were
// stored for retry are acknowledged with 200.
func (i *Ingestor) Ingest(ctx context.Context, d WebhookDelivery) IngestResult {
	if !i.validator.HasProvider(d.Provider) {
		i.count("unknown", "unknown_provider")
		return IngestResult{StatusCode: http.StatusNotFound, Status: string(security.ReasonUnknownProvider)}
	}

	// A body that does not parse still goes through signature checks first,
	// so forged junk is reported as forged.
	evt, parseErr := event.Parse(d.Provider, d.Body, i.now())
	req := security.Request{
		Provider:        d.Provider,
		SourceIP:        d.SourceIP,
		SignatureHeader: d.SignatureHeader,
		RawPayload:      d.Body,
	}
	if parseErr == nil {
		req.EventID = evt.ID
		req.EventTimestamp = evt.OccurredAt
	}

	decision := i.validator.Validate(ctx, req)
	if !decision.Valid {
		i.rejected(ctx, d, req.EventID, decision)
		status, ok := rejectionStatus[decision.Reason]
		if !ok {
			status = http.StatusBadRequest
		}
		i.count(d.Provider, string(decision.Reason))
		return IngestResult{StatusCode: status, Status: string(decision.Reason), EventID: req.EventID}
	}
	if decision.Duplicate {
		i.count(d.Provider, "duplicate")
		return IngestResult{StatusCode: http.StatusOK, Status: "duplicate", EventID: evt.ID}
	}

	res, err := i.processor.Process(ctx, evt)
	if err != nil {
		// Nothing durable holds the event; let the gateway redeliver it.
		if relErr := i.validator.Release(ctx, d.Provider, evt.ID); relErr != nil {
			i.logger.Error().Err(relErr).Str("event_id", evt.ID).Msg("Failed to release idempotency mark")
		}
		i.count(d.Provider, "error")
		return IngestResult{StatusCode: http.StatusInternalServerError, Status: "error", EventID: evt.ID}
	}

	status := string(res.Outcome)
	if !res.OK() {
		status = "accepted_for_retry"
		if !res.Failure.Retryable() {
			status = "recorded"
		}
	}
	i.count(d.Provider, status)
	return IngestResult{StatusCode: http.StatusOK, Status: status, EventID: evt.ID, Outcome: res.Outcome}
}

func (i *Ingestor) rejected(ctx context.Context, d WebhookDelivery, eventID string, decision security.Decision) {
	if !decision.Reason.IsSecurityEvent() {
		return
	}

	e := audit.NewEntry(audit.ActionWebhookRejected, audit.SeverityCritical,
		map[string]string{"provider": d.Provider, "event_id": eventID},
		map[string]any{"reason": string(decision.Reason), "source_ip": d.SourceIP},
	)
	if err := i.audit.Append(ctx, e); err != nil {
		i.logger.Error().Err(err).Msg("Failed to audit rejected webhook")
	}

	if i.alerter == nil {
		return
	}
	_, err := i.alerter.Raise(ctx, Alert{
		Key:      "webhook_security:" + string(decision.Reason),
		Title:    "Webhook delivery rejected: " + string(decision.Reason),
		Severity: audit.SeverityCritical,
		Details:  map[string]any{"provider": d.Provider, "source_ip": d.SourceIP},
	})
	if err != nil {
		i.logger.Error().Err(err).Msg("Failed to raise security alert")
	}
}

func (i *Ingestor) count(provider, result string) {
	if i.metrics != nil {
		i.metrics.WebhooksReceived.WithLabelValues(provider, result).Inc()
	}
}
