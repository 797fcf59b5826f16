package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HealthStatus is the composite webhook pipeline status.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) gauge() float64 {
	switch s {
	case HealthDegraded:
		return 1
	case HealthUnhealthy:
		return 2
	}
	return 0
}

// HealthThresholds decide the composite status.
type HealthThresholds struct {
	FailureRateWarning  float64
	FailureRateCritical float64
	OverdueCritical     int
	OverdueGrace        time.Duration
}

// DefaultHealthThresholds returns 5% warning, 10% critical, more than ten
// overdue retries critical, and 15 minutes of grace before a retry is overdue.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		FailureRateWarning:  0.05,
		FailureRateCritical: 0.10,
		OverdueCritical:     10,
		OverdueGrace:        15 * time.Minute,
	}
}

// FailureSummary describes the failed-event store.
type FailureSummary struct {
	TotalFailures    int `json:"totalFailures"`
	PendingRetries   int `json:"pendingRetries"`
	OverdueRetries   int `json:"overdueRetries"`
	ExhaustedRetries int `json:"exhaustedRetries"`
}

// KindFailures counts recent failures of one kind.
type KindFailures struct {
	Kind     string `json:"kind"`
	Failures int    `json:"failures"`
}

// WindowStats covers one rolling window.
type WindowStats struct {
	Succeeded          int                         `json:"succeeded"`
	Failed             int                         `json:"failed"`
	Unsupported        int                         `json:"unsupported"`
	FailureRate        float64                     `json:"failureRate"`
	ByKind             map[string]event.KindCounts `json:"byKind"`
	PaymentSuccessRate float64                     `json:"paymentSuccessRate"`
	ChurnRate          float64                     `json:"churnRate"`
}

// PaymentRetrySummary counts payment retry records.
type PaymentRetrySummary struct {
	Active    int `json:"active"`
	Overdue   int `json:"overdue"`
	Completed int `json:"completed"`
	Exhausted int `json:"exhausted"`
	Cancelled int `json:"cancelled"`
}

// HealthIssue is one condition that moved the status off healthy.
type HealthIssue struct {
	Code     string         `json:"code"`
	Severity audit.Severity `json:"severity"`
	Message  string         `json:"message"`
}

// HealthReport is the output of Evaluate.
type HealthReport struct {
	Status          HealthStatus           `json:"status"`
	CheckedAt       time.Time              `json:"checkedAt"`
	FailureSummary  FailureSummary         `json:"failureSummary"`
	FailureByType   []KindFailures         `json:"failureByType"`
	PaymentRetries  PaymentRetrySummary    `json:"paymentRetries"`
	Windows         map[string]WindowStats `json:"windows"`
	Issues          []HealthIssue          `json:"issues"`
	Recommendations []string               `json:"recommendations"`
}

var healthWindows = []struct {
	name string
	span time.Duration
}{
	{"1h", time.Hour},
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
}

// HealthAggregator computes the webhook health report and raises alerts.
type HealthAggregator struct {
	failures      failedevent.Repository
	deliveries    event.DeliveryRepository
	payments      payment.Repository
	subscriptions subscription.Repository
	retries       paymentretry.Repository
	alerter       *Alerter
	thresholds    HealthThresholds
	logger        zerolog.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

// HealthDeps groups the repositories read by the aggregator.
type HealthDeps struct {
	Failures      failedevent.Repository
	Deliveries    event.DeliveryRepository
	Payments      payment.Repository
	Subscriptions subscription.Repository
	Retries       paymentretry.Repository
	Alerter       *Alerter
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

func NewHealthAggregator(d HealthDeps, thresholds HealthThresholds) *HealthAggregator {
	if thresholds.FailureRateCritical <= 0 {
		thresholds = DefaultHealthThresholds()
	}
	return &HealthAggregator{
		failures:      d.Failures,
		deliveries:    d.Deliveries,
		payments:      d.Payments,
		subscriptions: d.Subscriptions,
		retries:       d.Retries,
		alerter:       d.Alerter,
		thresholds:    thresholds,
		logger:        d.Logger.With().Str("component", "health").Logger(),
		metrics:       d.Metrics,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate builds the report at the current time.
func (h *HealthAggregator) Evaluate(ctx context.Context) (*HealthReport, error) {
	now := h.now()
	report := &HealthReport{
		Status:          HealthHealthy,
		CheckedAt:       now,
		Windows:         make(map[string]WindowStats, len(healthWindows)),
		Issues:          []HealthIssue{},
		Recommendations: []string{},
	}

	var (
		stats      failedevent.Stats
		byKind     map[string]int
		retryCount map[paymentretry.Status]int
		overdue    int
		windows    = make([]WindowStats, len(healthWindows))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats, err = h.failures.Stats(gctx, now, h.thresholds.OverdueGrace)
		return err
	})
	g.Go(func() (err error) {
		byKind, err = h.failures.CountByKindSince(gctx, now.Add(-24*time.Hour))
		return err
	})
	g.Go(func() (err error) {
		retryCount, err = h.retries.CountByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		overdue, err = h.retries.CountOverdue(gctx, now, h.thresholds.OverdueGrace)
		return err
	})
	for i, w := range healthWindows {
		g.Go(func() (err error) {
			windows[i], err = h.window(gctx, now.Add(-w.span))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate health: %w", err)
	}

	report.FailureSummary = FailureSummary{
		TotalFailures:    stats.Total,
		PendingRetries:   stats.Pending,
		OverdueRetries:   stats.Overdue,
		ExhaustedRetries: stats.Exhausted,
	}
	report.FailureByType = make([]KindFailures, 0, len(byKind))
	for kind, n := range byKind {
		report.FailureByType = append(report.FailureByType, KindFailures{Kind: kind, Failures: n})
	}
	sort.Slice(report.FailureByType, func(i, j int) bool {
		a, b := report.FailureByType[i], report.FailureByType[j]
		if a.Failures != b.Failures {
			return a.Failures > b.Failures
		}
		return a.Kind < b.Kind
	})
	report.PaymentRetries = PaymentRetrySummary{
		Active:    retryCount[paymentretry.StatusActive],
		Overdue:   overdue,
		Completed: retryCount[paymentretry.StatusCompleted],
		Exhausted: retryCount[paymentretry.StatusExhausted],
		Cancelled: retryCount[paymentretry.StatusCancelled],
	}
	for i, w := range healthWindows {
		report.Windows[w.name] = windows[i]
	}

	h.assess(report, windows[1])

	if h.metrics != nil {
		h.metrics.HealthStatus.Set(report.Status.gauge())
	}
	return report, nil
}

func (h *HealthAggregator) window(ctx context.Context, since time.Time) (WindowStats, error) {
	w := WindowStats{ByKind: map[string]event.KindCounts{}}

	counts, err := h.deliveries.CountByKindSince(ctx, since)
	if err != nil {
		return w, err
	}
	for kind, c := range counts {
		w.ByKind[kind] = c
		w.Succeeded += c.Succeeded
		w.Failed += c.Failed
		w.Unsupported += c.Unsupported
	}
	w.FailureRate = event.KindCounts{Succeeded: w.Succeeded, Failed: w.Failed}.FailureRate()

	paid, err := h.payments.CountByStatusSince(ctx, payment.StatusSucceeded, since)
	if err != nil {
		return w, err
	}
	var unpaid int
	for _, st := range []payment.Status{payment.StatusFailed, payment.StatusRetryScheduled} {
		n, err := h.payments.CountByStatusSince(ctx, st, since)
		if err != nil {
			return w, err
		}
		unpaid += n
	}
	if paid+unpaid > 0 {
		w.PaymentSuccessRate = float64(paid) / float64(paid+unpaid)
	} else {
		w.PaymentSuccessRate = 1
	}

	cancelled, err := h.subscriptions.CountByStatusChangedSince(ctx, subscription.StatusCancelled, since)
	if err != nil {
		return w, err
	}
	live, err := h.subscriptions.CountLive(ctx)
	if err != nil {
		return w, err
	}
	if base := live + cancelled; base > 0 {
		w.ChurnRate = float64(cancelled) / float64(base)
	}
	return w, nil
}

// assess applies the thresholds. The 24h window drives the failure rate.
func (h *HealthAggregator) assess(r *HealthReport, day WindowStats) {
	raise := func(status HealthStatus, issue HealthIssue, recommendation string) {
		if status.gauge() > r.Status.gauge() {
			r.Status = status
		}
		r.Issues = append(r.Issues, issue)
		r.Recommendations = append(r.Recommendations, recommendation)
	}

	switch rate := day.FailureRate; {
	case rate > h.thresholds.FailureRateCritical:
		raise(HealthUnhealthy, HealthIssue{
			Code: "failure_rate", Severity: audit.SeverityCritical,
			Message: fmt.Sprintf("webhook failure rate %.1f%% over 24h", rate*100),
		}, "Inspect failed events by type and check recent handler deploys")
	case rate > h.thresholds.FailureRateWarning:
		raise(HealthDegraded, HealthIssue{
			Code: "failure_rate", Severity: audit.SeverityWarning,
			Message: fmt.Sprintf("webhook failure rate %.1f%% over 24h", rate*100),
		}, "Review the most frequent failure types")
	}

	overdue := r.FailureSummary.OverdueRetries + r.PaymentRetries.Overdue
	if overdue > h.thresholds.OverdueCritical {
		raise(HealthUnhealthy, HealthIssue{
			Code: "overdue_retries", Severity: audit.SeverityCritical,
			Message: fmt.Sprintf("%d retries are past due", overdue),
		}, "Check that the worker and its scheduler jobs are running")
	}

	if r.FailureSummary.ExhaustedRetries > 0 {
		raise(HealthDegraded, HealthIssue{
			Code: "exhausted_retries", Severity: audit.SeverityWarning,
			Message: fmt.Sprintf("%d failed events exhausted their retries", r.FailureSummary.ExhaustedRetries),
		}, "Triage exhausted events via /internal/failed-events")
	}

	if len(r.FailureByType) > 0 && r.FailureByType[0].Failures >= 5 {
		top := r.FailureByType[0]
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("Most failures are %s (%d in 24h)", top.Kind, top.Failures))
	}
}

// CheckAndAlert evaluates health and raises one alert per issue.
func (h *HealthAggregator) CheckAndAlert(ctx context.Context) (*HealthReport, error) {
	report, err := h.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	logEvt := h.logger.Info()
	if report.Status != HealthHealthy {
		logEvt = h.logger.Warn()
	}
	logEvt.Str("status", string(report.Status)).
		Int("issues", len(report.Issues)).
		Int("pending_retries", report.FailureSummary.PendingRetries).
		Msg("Webhook health evaluated")

	if h.alerter == nil {
		return report, nil
	}
	for _, issue := range report.Issues {
		_, err := h.alerter.Raise(ctx, Alert{
			Key:      "webhook_health:" + issue.Code,
			Title:    issue.Message,
			Severity: issue.Severity,
			Details:  map[string]any{"status": string(report.Status)},
		})
		if err != nil {
			h.logger.Error().Err(err).Str("issue", issue.Code).Msg("Failed to raise health alert")
		}
	}
	return report, nil
}
