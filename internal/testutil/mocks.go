package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/google/uuid"
)

// --- Subscription Repository Mock ---

// MockSubscriptionRepository is an in-memory subscription.Repository. Reads
// return copies so callers must Update to persist changes.
type MockSubscriptionRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscription.Subscription

	CreateFunc func(ctx context.Context, sub *subscription.Subscription) error
	UpdateFunc func(ctx context.Context, sub *subscription.Subscription) error
}

func NewMockSubscriptionRepository() *MockSubscriptionRepository {
	return &MockSubscriptionRepository{subs: make(map[uuid.UUID]*subscription.Subscription)}
}

func cloneSub(s *subscription.Subscription) *subscription.Subscription {
	c := *s
	return &c
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, sub)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	return cloneSub(s), nil
}

func (m *MockSubscriptionRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.GatewaySubscriptionID == gatewayID {
			return cloneSub(s), nil
		}
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func (m *MockSubscriptionRepository) GetLiveByCompany(ctx context.Context, companyID string) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.CompanyID == companyID && s.Status.IsLive() {
			return cloneSub(s), nil
		}
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, sub)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return domainErrors.ErrSubscriptionNotFound
	}
	m.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (m *MockSubscriptionRepository) CountByStatusChangedSince(ctx context.Context, status subscription.Status, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.Status == status && !s.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MockSubscriptionRepository) CountLive(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.Status.IsLive() {
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every stored subscription.
func (m *MockSubscriptionRepository) All() []*subscription.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*subscription.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, cloneSub(s))
	}
	return out
}

// --- Payment Repository Mock ---

// MockPaymentRepository is an in-memory payment.Repository.
type MockPaymentRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment

	CreateFunc  func(ctx context.Context, p *payment.Payment) error
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	UpdateFunc  func(ctx context.Context, p *payment.Payment) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{payments: make(map[uuid.UUID]*payment.Payment)}
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	c.Metadata = make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.GatewayRef == p.GatewayRef {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
	}
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (m *MockPaymentRepository) GetByGatewayRef(ctx context.Context, ref string) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayRef == ref {
			return clonePayment(p), nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

func (m *MockPaymentRepository) GetByChargeRef(ctx context.Context, chargeID string) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ChargeID() == chargeID {
			return clonePayment(p), nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

func (m *MockPaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; !ok {
		return domainErrors.ErrPaymentNotFound
	}
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepository) CountByStatusSince(ctx context.Context, status payment.Status, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.Status == status && !p.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every stored payment.
func (m *MockPaymentRepository) All() []*payment.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*payment.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, clonePayment(p))
	}
	return out
}

// --- Failed Event Repository Mock ---

// MockFailedEventRepository is an in-memory failedevent.Repository.
type MockFailedEventRepository struct {
	mu     sync.Mutex
	events map[string]*failedevent.FailedEvent

	UpsertFunc func(ctx context.Context, fe *failedevent.FailedEvent) error
}

func NewMockFailedEventRepository() *MockFailedEventRepository {
	return &MockFailedEventRepository{events: make(map[string]*failedevent.FailedEvent)}
}

func cloneFailed(fe *failedevent.FailedEvent) *failedevent.FailedEvent {
	c := *fe
	return &c
}

func (m *MockFailedEventRepository) Get(ctx context.Context, eventID string) (*failedevent.FailedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fe, ok := m.events[eventID]
	if !ok {
		return nil, domainErrors.ErrFailedEventNotFound
	}
	return cloneFailed(fe), nil
}

func (m *MockFailedEventRepository) Upsert(ctx context.Context, fe *failedevent.FailedEvent) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, fe)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[fe.EventID] = cloneFailed(fe)
	return nil
}

func (m *MockFailedEventRepository) Delete(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}

func (m *MockFailedEventRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*failedevent.FailedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*failedevent.FailedEvent
	for _, fe := range m.events {
		if fe.Due(now) {
			out = append(out, cloneFailed(fe))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockFailedEventRepository) List(ctx context.Context, filter failedevent.ListFilter) ([]*failedevent.FailedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*failedevent.FailedEvent
	for _, fe := range m.events {
		if filter.Kind != "" && fe.Kind != filter.Kind {
			continue
		}
		if filter.ExhaustedOnly && !fe.Exhausted() {
			continue
		}
		out = append(out, cloneFailed(fe))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastFailedAt.After(out[j].LastFailedAt) })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockFailedEventRepository) DeleteExhaustedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, fe := range m.events {
		if fe.Exhausted() && fe.LastFailedAt.Before(cutoff) {
			delete(m.events, id)
			n++
		}
	}
	return n, nil
}

func (m *MockFailedEventRepository) Stats(ctx context.Context, now time.Time, grace time.Duration) (failedevent.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s failedevent.Stats
	for _, fe := range m.events {
		if fe.Unsupported() {
			continue
		}
		s.Total++
		switch {
		case fe.Exhausted():
			s.Exhausted++
		case fe.Overdue(now, grace):
			s.Pending++
			s.Overdue++
		default:
			s.Pending++
		}
	}
	return s, nil
}

func (m *MockFailedEventRepository) CountByKindSince(ctx context.Context, since time.Time) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, fe := range m.events {
		if !fe.Unsupported() && !fe.LastFailedAt.Before(since) {
			out[fe.Kind]++
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MockFailedEventRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// --- Payment Retry Repository Mock ---

// MockPaymentRetryRepository is an in-memory paymentretry.Repository.
type MockPaymentRetryRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*paymentretry.Record
}

func NewMockPaymentRetryRepository() *MockPaymentRetryRepository {
	return &MockPaymentRetryRepository{records: make(map[uuid.UUID]*paymentretry.Record)}
}

func cloneRecord(r *paymentretry.Record) *paymentretry.Record {
	c := *r
	return &c
}

func (m *MockPaymentRetryRepository) Get(ctx context.Context, paymentID uuid.UUID) (*paymentretry.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[paymentID]
	if !ok {
		return nil, domainErrors.ErrRetryNotFound
	}
	return cloneRecord(r), nil
}

func (m *MockPaymentRetryRepository) Upsert(ctx context.Context, r *paymentretry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.PaymentID] = cloneRecord(r)
	return nil
}

func (m *MockPaymentRetryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*paymentretry.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*paymentretry.Record
	for _, r := range m.records {
		if r.Due(now) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRetryRepository) CountByStatus(ctx context.Context) (map[paymentretry.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[paymentretry.Status]int)
	for _, r := range m.records {
		out[r.Status]++
	}
	return out, nil
}

func (m *MockPaymentRetryRepository) CountOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Status == paymentretry.StatusActive && r.NextRetryAt != nil && now.Sub(*r.NextRetryAt) > grace {
			n++
		}
	}
	return n, nil
}

// --- Audit Repository Mock ---

// MockAuditRepository is an in-memory audit.Repository.
type MockAuditRepository struct {
	mu      sync.Mutex
	entries []*audit.Entry

	AppendFunc func(ctx context.Context, e *audit.Entry) error
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{}
}

func (m *MockAuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MockAuditRepository) CountByAction(ctx context.Context, action string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MockAuditRepository) RedactBefore(ctx context.Context, cutoff time.Time, keys []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) && e.Redact(cutoff) {
			n++
		}
	}
	return n, nil
}

func (m *MockAuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

// Actions returns the recorded actions in order.
func (m *MockAuditRepository) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// ByAction returns the entries recorded for action.
func (m *MockAuditRepository) ByAction(action string) []*audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// --- Outbox Repository Mock ---

type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*outbox.Entry
	now := time.Now()
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending && !e.NextAttemptAt.After(now) && len(result) < limit {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.Status = outbox.StatusPublished
			now := time.Now()
			e.PublishedAt = &now
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.RetryCount++
			e.NextAttemptAt = time.Now().Add(outbox.RetryBackoff(e.RetryCount))
			if e.RetryCount >= e.MaxRetries {
				e.Status = outbox.StatusFailed
			}
		}
	}
	return nil
}

func (m *MockOutboxRepository) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.Status == outbox.StatusPublished && e.PublishedAt != nil && e.PublishedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

// EventTypes returns the notification types inserted so far, in order.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.EventType
	}
	return out
}

// ByType returns the entries of one notification type.
func (m *MockOutboxRepository) ByType(eventType string) []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs fn directly. It does not roll back.
type MockTransactionManager struct {
	mu    sync.Mutex
	calls int

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// Calls returns how many transactions were started.
func (m *MockTransactionManager) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Task Queue Mock ---

// ScheduledTask is one task handed to MockTaskQueue.
type ScheduledTask struct {
	ID      string
	Name    string
	Payload map[string]string
	RunAt   time.Time
}

// MockTaskQueue records scheduled and cancelled tasks.
type MockTaskQueue struct {
	mu        sync.Mutex
	seq       int
	tasks     map[string]ScheduledTask
	cancelled []string

	ScheduleFunc func(ctx context.Context, name string, payload map[string]string, runAt time.Time) (string, error)
}

func NewMockTaskQueue() *MockTaskQueue {
	return &MockTaskQueue{tasks: make(map[string]ScheduledTask)}
}

func (m *MockTaskQueue) Schedule(ctx context.Context, name string, payload map[string]string, runAt time.Time) (string, error) {
	if m.ScheduleFunc != nil {
		return m.ScheduleFunc(ctx, name, payload, runAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := "task-" + strconv.Itoa(m.seq)
	m.tasks[id] = ScheduledTask{ID: id, Name: name, Payload: payload, RunAt: runAt}
	return id, nil
}

func (m *MockTaskQueue) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	m.cancelled = append(m.cancelled, id)
	return nil
}

// Pending returns tasks not yet cancelled.
func (m *MockTaskQueue) Pending() []ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cancelled returns the ids passed to Cancel.
func (m *MockTaskQueue) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

// --- Delivery Ledger Mock ---

// MockDeliveryRepository is an in-memory event.DeliveryRepository.
type MockDeliveryRepository struct {
	mu         sync.Mutex
	deliveries map[string]event.Delivery

	RecordFunc func(ctx context.Context, d *event.Delivery) error
}

func NewMockDeliveryRepository() *MockDeliveryRepository {
	return &MockDeliveryRepository{deliveries: make(map[string]event.Delivery)}
}

func (m *MockDeliveryRepository) Record(ctx context.Context, d *event.Delivery) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[d.EventID] = *d
	return nil
}

func (m *MockDeliveryRepository) CountByKindSince(ctx context.Context, since time.Time) (map[string]event.KindCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]event.KindCounts)
	for _, d := range m.deliveries {
		if d.ProcessedAt.Before(since) {
			continue
		}
		c := out[d.Kind]
		c.Add(&d)
		out[d.Kind] = c
	}
	return out, nil
}

func (m *MockDeliveryRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.deliveries {
		if d.ProcessedAt.Before(cutoff) {
			delete(m.deliveries, id)
			n++
		}
	}
	return n, nil
}

// Get returns the recorded delivery for eventID.
func (m *MockDeliveryRepository) Get(eventID string) (event.Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[eventID]
	return d, ok
}
