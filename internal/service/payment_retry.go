package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/gateway"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/cassiomorais/billingsync/internal/lock"
	"github.com/cassiomorais/billingsync/pkg/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errAlreadySettled = errors.New("payment already settled")

// Steps of one charge retry.
const (
	stepClaim  = "claim-attempt"
	stepCharge = "charge"
	stepSettle = "settle"
)

// PaymentRetryService decides whether a declined charge is retried, schedules
// the attempts, and executes them against the gateway.
type PaymentRetryService struct {
	tx       TransactionManager
	payments payment.Repository
	retries  paymentretry.Repository
	audit    audit.Repository
	outbox   outbox.Repository
	locks    *lock.Manager
	gateway  gateway.Client
	tasks    TaskQueue
	policy   paymentretry.Policy
	batch    int
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// PaymentRetryDeps groups the collaborators of NewPaymentRetryService.
type PaymentRetryDeps struct {
	Tx       TransactionManager
	Payments payment.Repository
	Retries  paymentretry.Repository
	Audit    audit.Repository
	Outbox   outbox.Repository
	Locks    *lock.Manager
	Gateway  gateway.Client
	Tasks    TaskQueue
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
}

func NewPaymentRetryService(d PaymentRetryDeps, policy paymentretry.Policy, batch int) *PaymentRetryService {
	if policy.MaxAttempts <= 0 || policy.BaseDelay <= 0 {
		policy = paymentretry.DefaultPolicy()
	}
	if batch <= 0 {
		batch = 50
	}
	return &PaymentRetryService{
		tx:       d.Tx,
		payments: d.Payments,
		retries:  d.Retries,
		audit:    d.Audit,
		outbox:   d.Outbox,
		locks:    d.Locks,
		gateway:  d.Gateway,
		tasks:    d.Tasks,
		policy:   policy,
		batch:    batch,
		logger:   d.Logger.With().Str("component", "payment_retry").Logger(),
		metrics:  d.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleFailure applies a decline reported by the gateway. The caller holds
// the payment lock. Retryable codes open or advance a retry record; anything
// else fails the payment for good.
func (s *PaymentRetryService) HandleFailure(ctx context.Context, paymentID uuid.UUID, code, message string) error {
	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		p, err := s.payments.GetByID(txCtx, paymentID)
		if err != nil {
			return fmt.Errorf("load payment %s: %w", paymentID, err)
		}
		rec, err := s.findRecord(txCtx, paymentID)
		if err != nil {
			return err
		}
		now := s.now()

		if p.IsSettled() {
			s.logger.Info().Str("payment_id", paymentID.String()).Msg("Decline for a settled payment ignored")
			return nil
		}
		if rec != nil && rec.Status.IsTerminal() {
			s.logger.Info().
				Str("payment_id", paymentID.String()).
				Str("retry_status", string(rec.Status)).
				Str("code", code).
				Msg("Decline after retries closed")
			if p.Status != payment.StatusFailed && p.CanTransitionTo(payment.StatusFailed) {
				if err := p.MarkFailed(code, message); err != nil {
					return err
				}
				return s.payments.Update(txCtx, p)
			}
			return nil
		}

		// A retry is already pending; the decline belongs to an attempt the
		// schedule has accounted for.
		if rec != nil && rec.NextRetryAt != nil && rec.NextRetryAt.After(now) {
			rec.LastErrorCode = code
			rec.LastErrorMessage = message
			rec.UpdatedAt = now
			return s.retries.Upsert(txCtx, rec)
		}

		return s.decide(txCtx, p, rec, code, message, now)
	})
}

func (s *PaymentRetryService) decide(ctx context.Context, p *payment.Payment, rec *paymentretry.Record, code, message string, now time.Time) error {
	existed := rec != nil
	if !paymentretry.IsRetryable(code) {
		return s.failPermanently(ctx, p, rec, code, message, now)
	}
	if !existed {
		rec = paymentretry.NewRecord(p.ID, s.policy, now)
	}
	if rec.ScheduleNext(code, message, s.policy, now) {
		return s.schedule(ctx, p, rec, code, message)
	}
	return s.exhaust(ctx, p, rec, code, message)
}

func (s *PaymentRetryService) schedule(ctx context.Context, p *payment.Payment, rec *paymentretry.Record, code, message string) error {
	s.cancelTask(ctx, rec)
	taskID, err := s.tasks.Schedule(ctx, TaskPaymentRetry, map[string]string{"payment_id": p.ID.String()}, *rec.NextRetryAt)
	if err != nil {
		// The due-record sweep still finds it.
		s.logger.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("Failed to queue retry task")
	} else {
		rec.TaskID = &taskID
	}

	if err := p.MarkRetryScheduled(code, message); err != nil {
		return err
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return err
	}
	if err := s.retries.Upsert(ctx, rec); err != nil {
		return err
	}

	next := rec.NextRetryAt.Format(time.RFC3339)
	if err := s.appendAudit(ctx, audit.ActionPaymentRetryScheduled, audit.SeverityInfo, p, map[string]any{
		"failure_code":  code,
		"attempt_count": rec.AttemptCount,
		"next_retry_at": next,
	}); err != nil {
		return err
	}
	if err := s.notify(ctx, outbox.NotifyPaymentFailed, p, map[string]any{
		"failure_code":    code,
		"failure_message": message,
		"retry_available": true,
		"next_retry_at":   next,
		"attempt_count":   rec.AttemptCount,
	}); err != nil {
		return err
	}

	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("code", code).
		Int("attempt_count", rec.AttemptCount).
		Time("next_retry_at", *rec.NextRetryAt).
		Msg("Payment retry scheduled")
	return nil
}

func (s *PaymentRetryService) failPermanently(ctx context.Context, p *payment.Payment, rec *paymentretry.Record, code, message string, now time.Time) error {
	if rec != nil {
		rec.Fail(code, message, now)
		s.cancelTask(ctx, rec)
		if err := s.retries.Upsert(ctx, rec); err != nil {
			return err
		}
	}
	if err := p.MarkFailed(code, message); err != nil {
		return err
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return err
	}

	if err := s.appendAudit(ctx, audit.ActionPaymentNotRetryable, audit.SeverityWarning, p, map[string]any{
		"failure_code": code,
	}); err != nil {
		return err
	}
	if err := s.notify(ctx, outbox.NotifyPaymentFailed, p, map[string]any{
		"failure_code":    code,
		"failure_message": message,
		"retry_available": false,
	}); err != nil {
		return err
	}

	s.logger.Warn().Str("payment_id", p.ID.String()).Str("code", code).Msg("Payment failed with non-retryable code")
	return nil
}

func (s *PaymentRetryService) exhaust(ctx context.Context, p *payment.Payment, rec *paymentretry.Record, code, message string) error {
	s.cancelTask(ctx, rec)
	if err := p.MarkFailed(code, message); err != nil {
		return err
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return err
	}
	if err := s.retries.Upsert(ctx, rec); err != nil {
		return err
	}

	if err := s.appendAudit(ctx, audit.ActionPaymentRetryExhausted, audit.SeverityWarning, p, map[string]any{
		"failure_code":  code,
		"attempt_count": rec.AttemptCount,
	}); err != nil {
		return err
	}
	if err := s.notify(ctx, outbox.NotifyRetriesExhausted, p, map[string]any{
		"failure_code":  code,
		"attempt_count": rec.AttemptCount,
	}); err != nil {
		return err
	}

	s.logger.Warn().
		Str("payment_id", p.ID.String()).
		Int("attempt_count", rec.AttemptCount).
		Msg("Payment retries exhausted")
	return nil
}

// ExecuteRetry makes one scheduled charge attempt. Attempts that are not due,
// or whose record was cancelled or closed meanwhile, are skipped.
func (s *PaymentRetryService) ExecuteRetry(ctx context.Context, paymentID uuid.UUID) error {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	l, err := s.locks.Acquire(ctx, lock.PaymentKey(p.GatewayRef), 0, 0)
	if err != nil {
		return err
	}
	defer l.Release(ctx)

	var (
		rec     *paymentretry.Record
		attempt int
		charge  *gateway.ChargeResult
	)

	sg := saga.New("payment-retry").
		// Step 1: Claim the attempt so a crash mid-charge still counts it.
		AddStep(saga.Step{
			Name: stepClaim,
			Execute: func(ctx context.Context) error {
				settled := false
				err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
					var err error
					if p, err = s.payments.GetByID(txCtx, paymentID); err != nil {
						return err
					}
					if rec, err = s.retries.Get(txCtx, paymentID); err != nil {
						return err
					}
					if p.IsSettled() {
						settled = true
						if rec.Status == paymentretry.StatusActive {
							return s.complete(txCtx, p, rec)
						}
						return nil
					}
					if err := rec.BeginAttempt(s.now()); err != nil {
						return err
					}
					attempt = rec.AttemptCount
					rec.TaskID = nil
					return s.retries.Upsert(txCtx, rec)
				})
				if err == nil && settled {
					return errAlreadySettled
				}
				return err
			},
		}).
		// Step 2: Charge through the breaker-guarded gateway client.
		AddStep(saga.Step{
			Name: stepCharge,
			Execute: func(ctx context.Context) error {
				res, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
					PaymentID:      p.ID.String(),
					InvoiceID:      p.GatewayRef,
					AmountCents:    p.Amount.ValueCents,
					Currency:       p.Amount.Currency,
					IdempotencyKey: fmt.Sprintf("retry-%s-%d", p.ID, attempt),
				})
				if err != nil {
					return err
				}
				charge = res
				return nil
			},
		}).
		// Step 3: Record the recovery.
		AddStep(saga.Step{
			Name: stepSettle,
			Execute: func(ctx context.Context) error {
				return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
					return s.settle(txCtx, p, rec, charge)
				})
			},
		})

	sagaErr := sg.Execute(ctx)
	switch saga.FailedStep(sagaErr) {
	case "":
		s.countAttempt("recovered")
		s.logger.Info().Str("payment_id", paymentID.String()).Int("attempt", attempt).Msg("Payment recovered on retry")
		return nil

	case stepClaim:
		if skippable(sagaErr) {
			s.logger.Debug().Err(sagaErr).Str("payment_id", paymentID.String()).Msg("Payment retry skipped")
			s.countAttempt("skipped")
			return nil
		}
		return sagaErr

	case stepCharge:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		code, message := chargeFailure(sagaErr)
		s.countAttempt(resultForCode(sagaErr))
		s.logger.Warn().
			Err(sagaErr).
			Str("payment_id", paymentID.String()).
			Int("attempt", attempt).
			Str("code", code).
			Msg("Payment retry attempt failed")
		return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			p, err := s.payments.GetByID(txCtx, paymentID)
			if err != nil {
				return err
			}
			rec, err := s.retries.Get(txCtx, paymentID)
			if err != nil {
				return err
			}
			if rec.Status.IsTerminal() {
				return nil
			}
			return s.decide(txCtx, p, rec, code, message, s.now())
		})

	default:
		// The charge went through; the payment_succeeded webhook will
		// reconcile what could not be written here.
		s.countAttempt("settle_error")
		s.logger.Error().
			Err(sagaErr).
			Str("payment_id", paymentID.String()).
			Str("charge_id", charge.ChargeID).
			Msg("Charge succeeded but recording it failed")
		return sagaErr
	}
}

func (s *PaymentRetryService) settle(ctx context.Context, p *payment.Payment, rec *paymentretry.Record, charge *gateway.ChargeResult) error {
	if err := p.MarkSucceeded(s.now()); err != nil {
		return err
	}
	if charge.ChargeID != "" {
		if p.Metadata == nil {
			p.Metadata = map[string]any{}
		}
		p.Metadata[payment.MetaChargeID] = charge.ChargeID
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return err
	}
	if err := s.appendAudit(ctx, audit.ActionPaymentSucceeded, audit.SeverityInfo, p, map[string]any{
		"charge_id":     charge.ChargeID,
		"attempt_count": rec.AttemptCount,
		"source":        "retry",
	}); err != nil {
		return err
	}
	return s.complete(ctx, p, rec)
}

// Resolve closes an active retry record after the payment succeeded
// elsewhere. The caller holds the payment lock.
func (s *PaymentRetryService) Resolve(ctx context.Context, paymentID uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		rec, err := s.findRecord(txCtx, paymentID)
		if err != nil || rec == nil || rec.Status.IsTerminal() {
			return err
		}
		p, err := s.payments.GetByID(txCtx, paymentID)
		if err != nil {
			return err
		}
		return s.complete(txCtx, p, rec)
	})
}

func (s *PaymentRetryService) complete(ctx context.Context, p *payment.Payment, rec *paymentretry.Record) error {
	s.cancelTask(ctx, rec)
	if err := rec.Complete(s.now()); err != nil {
		return err
	}
	if err := s.retries.Upsert(ctx, rec); err != nil {
		return err
	}
	if err := s.appendAudit(ctx, audit.ActionPaymentRecovered, audit.SeverityInfo, p, map[string]any{
		"attempt_count": rec.AttemptCount,
	}); err != nil {
		return err
	}
	return s.notify(ctx, outbox.NotifyPaymentRecovered, p, map[string]any{
		"attempt_count": rec.AttemptCount,
	})
}

// Cancel stops future attempts for a payment at the customer's request. The
// payment is marked failed.
func (s *PaymentRetryService) Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*paymentretry.Record, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	l, err := s.locks.Acquire(ctx, lock.PaymentKey(p.GatewayRef), 0, 0)
	if err != nil {
		return nil, err
	}
	defer l.Release(ctx)

	var rec *paymentretry.Record
	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if rec, err = s.retries.Get(txCtx, paymentID); err != nil {
			return err
		}
		if err := rec.Cancel(s.now()); err != nil {
			return domainErrors.NewDomainError("retry_terminal", "retry is already "+string(rec.Status), err)
		}
		s.cancelTask(txCtx, rec)
		rec.TaskID = nil
		if err := s.retries.Upsert(txCtx, rec); err != nil {
			return err
		}

		if p, err = s.payments.GetByID(txCtx, paymentID); err != nil {
			return err
		}
		if p.CanTransitionTo(payment.StatusFailed) {
			if err := p.MarkFailed(rec.LastErrorCode, "retry cancelled"); err != nil {
				return err
			}
			if err := s.payments.Update(txCtx, p); err != nil {
				return err
			}
		}
		return s.appendAudit(txCtx, audit.ActionPaymentRetryCancelled, audit.SeverityInfo, p, map[string]any{
			"reason":        reason,
			"attempt_count": rec.AttemptCount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", paymentID.String()).Str("reason", reason).Msg("Payment retry cancelled")
	return rec, nil
}

// Get returns the retry record of a payment.
func (s *PaymentRetryService) Get(ctx context.Context, paymentID uuid.UUID) (*paymentretry.Record, error) {
	return s.retries.Get(ctx, paymentID)
}

// SweepDue executes records whose time has come. It backs up the task queue
// for tasks that were lost or never queued.
func (s *PaymentRetryService) SweepDue(ctx context.Context) (int, error) {
	due, err := s.retries.ListDue(ctx, s.now(), s.batch)
	if err != nil {
		return 0, fmt.Errorf("list due payment retries: %w", err)
	}

	executed := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		if err := s.ExecuteRetry(ctx, rec.PaymentID); err != nil {
			s.logger.Error().Err(err).Str("payment_id", rec.PaymentID.String()).Msg("Payment retry failed")
			continue
		}
		executed++
	}
	return executed, nil
}

// HandleTask runs a task delivered by the retry queue.
func (s *PaymentRetryService) HandleTask(ctx context.Context, name string, payload map[string]string) error {
	if name != TaskPaymentRetry {
		return fmt.Errorf("unknown task %q", name)
	}
	id, err := uuid.Parse(payload["payment_id"])
	if err != nil {
		return domainErrors.NewValidationError("payment_id", "invalid uuid")
	}
	return s.ExecuteRetry(ctx, id)
}

func (s *PaymentRetryService) findRecord(ctx context.Context, paymentID uuid.UUID) (*paymentretry.Record, error) {
	rec, err := s.retries.Get(ctx, paymentID)
	if errors.Is(err, domainErrors.ErrRetryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment retry %s: %w", paymentID, err)
	}
	return rec, nil
}

func (s *PaymentRetryService) cancelTask(ctx context.Context, rec *paymentretry.Record) {
	if rec.TaskID == nil {
		return
	}
	if err := s.tasks.Cancel(ctx, *rec.TaskID); err != nil {
		s.logger.Warn().Err(err).Str("task_id", *rec.TaskID).Msg("Failed to cancel retry task")
	}
	rec.TaskID = nil
}

func (s *PaymentRetryService) appendAudit(ctx context.Context, action string, severity audit.Severity, p *payment.Payment, metadata map[string]any) error {
	metadata["amount"] = p.Amount.String()
	return s.audit.Append(ctx, audit.NewEntry(action, severity,
		map[string]string{"payment_id": p.ID.String(), "company_id": p.CompanyID},
		metadata,
	))
}

func (s *PaymentRetryService) notify(ctx context.Context, eventType string, p *payment.Payment, payload map[string]any) error {
	payload["payment_id"] = p.ID.String()
	payload["company_id"] = p.CompanyID
	payload["amount_cents"] = p.Amount.ValueCents
	payload["currency"] = p.Amount.Currency
	return s.outbox.Insert(ctx, outbox.NewEntry("payment", p.ID.String(), eventType, payload))
}

func (s *PaymentRetryService) countAttempt(result string) {
	if s.metrics != nil {
		s.metrics.PaymentRetryAttempts.WithLabelValues(result).Inc()
	}
}

// skippable reports claim refusals that mean there is nothing to do.
func skippable(err error) bool {
	return errors.Is(err, errAlreadySettled) ||
		errors.Is(err, domainErrors.ErrRetryNotDue) ||
		errors.Is(err, domainErrors.ErrRetryTerminal) ||
		errors.Is(err, domainErrors.ErrRetryNotFound)
}

// chargeFailure extracts the decline code. Transport failures never reached
// the card and are retried as processing errors.
func chargeFailure(err error) (code, message string) {
	var gwErr *domainErrors.GatewayError
	if errors.As(err, &gwErr) {
		code = gwErr.Code
		if code == "" {
			code = dispatch.DefaultDeclineCode
		}
		return code, gwErr.Message
	}
	return "processing_error", err.Error()
}

func resultForCode(err error) string {
	if errors.Is(err, domainErrors.ErrGatewayRejected) {
		return "declined"
	}
	return "unavailable"
}
