package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// DefaultAlertCooldown is how long an alert key stays quiet after firing.
const DefaultAlertCooldown = 30 * time.Minute

// Alert is an operator notification. Alerts with the same Key share a
// cooldown.
type Alert struct {
	Key      string
	Title    string
	Severity audit.Severity
	Details  map[string]any
}

// Alerter raises operator alerts through the notification outbox, at most
// once per key per cooldown across all instances.
type Alerter struct {
	cooldowns CooldownStore
	outbox    outbox.Repository
	cooldown  time.Duration
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewAlerter(cooldowns CooldownStore, outboxRepo outbox.Repository, cooldown time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Alerter {
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}
	return &Alerter{
		cooldowns: cooldowns,
		outbox:    outboxRepo,
		cooldown:  cooldown,
		logger:    logger.With().Str("component", "alerter").Logger(),
		metrics:   metrics,
	}
}

// Raise sends the alert unless its key is cooling down. It reports whether the
// alert went out. A cooldown store outage does not swallow the alert.
func (a *Alerter) Raise(ctx context.Context, alert Alert) (bool, error) {
	entered, err := a.cooldowns.TryEnter(ctx, alert.Key, a.cooldown)
	claimed := err == nil
	if err != nil {
		a.logger.Warn().Err(err).Str("alert", alert.Key).Msg("Alert cooldown unavailable, sending anyway")
		entered = true
	}
	if !entered {
		a.count(alert.Key, "suppressed")
		a.logger.Debug().Str("alert", alert.Key).Msg("Alert suppressed by cooldown")
		return false, nil
	}

	payload := map[string]any{
		"alert":     alert.Key,
		"title":     alert.Title,
		"severity":  string(alert.Severity),
		"raised_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range alert.Details {
		payload[k] = v
	}
	if err := a.outbox.Insert(ctx, outbox.NewEntry("alert", alert.Key, outbox.NotifyOperatorAlert, payload)); err != nil {
		a.count(alert.Key, "error")
		// The alert never went out, so the next occurrence must not be muted.
		if claimed {
			if leaveErr := a.cooldowns.Leave(ctx, alert.Key); leaveErr != nil {
				a.logger.Warn().Err(leaveErr).Str("alert", alert.Key).Msg("Failed to clear alert cooldown")
			}
		}
		return false, fmt.Errorf("queue alert %s: %w", alert.Key, err)
	}

	a.count(alert.Key, "sent")
	a.logger.Warn().
		Str("alert", alert.Key).
		Str("severity", string(alert.Severity)).
		Msg(alert.Title)
	return true, nil
}

func (a *Alerter) count(key, result string) {
	if a.metrics != nil {
		a.metrics.AlertsSent.WithLabelValues(alertFamily(key), result).Inc()
	}
}

// alertFamily trims the per-entity suffix so the metric label stays bounded.
func alertFamily(key string) string {
	family, _, _ := strings.Cut(key, ":")
	return family
}
