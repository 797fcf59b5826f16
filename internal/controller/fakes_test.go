package controller

import (
	"context"
	"sync"

	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/service"
	"github.com/google/uuid"
)

type fakeIngestor struct {
	mu     sync.Mutex
	result service.IngestResult
	got    []service.WebhookDelivery
}

func (f *fakeIngestor) Ingest(_ context.Context, d service.WebhookDelivery) service.IngestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, d)
	return f.result
}

func (f *fakeIngestor) last() service.WebhookDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

type fakeHealth struct {
	report *service.HealthReport
	err    error
}

func (f *fakeHealth) Evaluate(context.Context) (*service.HealthReport, error) {
	return f.report, f.err
}

type fakeLister struct {
	events []*failedevent.FailedEvent
	filter failedevent.ListFilter
	err    error
}

func (f *fakeLister) List(_ context.Context, filter failedevent.ListFilter) ([]*failedevent.FailedEvent, error) {
	f.filter = filter
	return f.events, f.err
}

type fakeRetries struct {
	record       *paymentretry.Record
	err          error
	cancelReason string
}

func (f *fakeRetries) Get(_ context.Context, paymentID uuid.UUID) (*paymentretry.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

func (f *fakeRetries) Cancel(_ context.Context, paymentID uuid.UUID, reason string) (*paymentretry.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cancelReason = reason
	f.record.Status = paymentretry.StatusCancelled
	f.record.NextRetryAt = nil
	return f.record, nil
}

type fakeCheckout struct {
	result    *service.ConfirmResult
	err       error
	companyID string
	sessionID string
}

func (f *fakeCheckout) Confirm(_ context.Context, companyID, sessionID string) (*service.ConfirmResult, error) {
	f.companyID = companyID
	f.sessionID = sessionID
	return f.result, f.err
}
