package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/idempotency"
	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
)

// --- Webhook Event Repository Mock ---

// MockEventRepository is an in-memory webhook.Repository. Func fields, when
// set, replace the default behavior.
type MockEventRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*webhook.Event
	bySig  map[string]uuid.UUID

	SaveFunc          func(ctx context.Context, e *webhook.Event) error
	ListByOrderFunc   func(ctx context.Context, orderID string) ([]*webhook.Event, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID, at time.Time) error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{
		events: make(map[uuid.UUID]*webhook.Event),
		bySig:  make(map[string]uuid.UUID),
	}
}

var _ webhook.Repository = (*MockEventRepository)(nil)

func (m *MockEventRepository) Save(ctx context.Context, e *webhook.Event) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.bySig[e.Signature]; dup {
		return domainErrors.ErrDuplicateDelivery
	}
	cp := *e
	m.events[e.ID] = &cp
	m.bySig[e.Signature] = e.ID
	return nil
}

// Add stores an event directly.
func (m *MockEventRepository) Add(e *webhook.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events[e.ID] = &cp
	m.bySig[e.Signature] = e.ID
}

func (m *MockEventRepository) GetByID(_ context.Context, id uuid.UUID) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, domainErrors.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockEventRepository) ListByOrder(ctx context.Context, orderID string) ([]*webhook.Event, error) {
	if m.ListByOrderFunc != nil {
		return m.ListByOrderFunc(ctx, orderID)
	}
	return m.filter(func(e *webhook.Event) bool { return e.OrderID == orderID }, 0), nil
}

func (m *MockEventRepository) ListUnpublished(_ context.Context, limit int) ([]*webhook.Event, error) {
	return m.filter(func(e *webhook.Event) bool { return e.PublishedAt == nil }, limit), nil
}

func (m *MockEventRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id, at)
	}
	return m.update(id, func(e *webhook.Event) {
		e.PublishAttempts++
		e.MarkPublished(at)
	})
}

func (m *MockEventRepository) MarkPublishFailed(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(e *webhook.Event) { e.PublishAttempts++ })
}

func (m *MockEventRepository) MarkReconciled(_ context.Context, id uuid.UUID, orderStatus string, at time.Time) error {
	return m.update(id, func(e *webhook.Event) { e.MarkReconciled(orderStatus, at) })
}

// All returns every stored event, oldest first.
func (m *MockEventRepository) All() []*webhook.Event {
	return m.filter(func(*webhook.Event) bool { return true }, 0)
}

func (m *MockEventRepository) filter(keep func(*webhook.Event) bool, limit int) []*webhook.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*webhook.Event
	for _, e := range m.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MockEventRepository) update(id uuid.UUID, fn func(*webhook.Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return domainErrors.ErrEventNotFound
	}
	fn(e)
	return nil
}

// --- Replay Guard Mock ---

type MockReplayGuard struct {
	mu   sync.Mutex
	seen map[string]bool

	ClaimFunc func(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

func NewMockReplayGuard() *MockReplayGuard {
	return &MockReplayGuard{seen: make(map[string]bool)}
}

func (m *MockReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *MockReplayGuard) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

// --- Event Publisher Mock ---

type MockEventPublisher struct {
	mu        sync.Mutex
	published []*webhook.Event

	PublishFunc func(ctx context.Context, e *webhook.Event) error
}

func (m *MockEventPublisher) PublishWebhookEvent(ctx context.Context, e *webhook.Event) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, e)
	return nil
}

func (m *MockEventPublisher) Published() []*webhook.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*webhook.Event, len(m.published))
	copy(out, m.published)
	return out
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs fn directly unless WithTransactionFunc is set.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Idempotency Store Mock ---

type MockIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record

	GetFunc     func(ctx context.Context, key string) (*idempotency.Record, error)
	SetFunc     func(ctx context.Context, rec *idempotency.Record) error
	ReserveFunc func(ctx context.Context, rec *idempotency.Record) error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{records: make(map[string]*idempotency.Record)}
}

var _ idempotency.Store = (*MockIdempotencyStore)(nil)

func (m *MockIdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok || rec.Expired(time.Now()) {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MockIdempotencyStore) Set(ctx context.Context, rec *idempotency.Record) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.Key] = &cp
	return nil
}

func (m *MockIdempotencyStore) Reserve(ctx context.Context, rec *idempotency.Record) error {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.records[rec.Key]; ok && !held.Expired(time.Now()) {
		return domainErrors.ErrDuplicateIdempotencyKey
	}
	cp := *rec
	cp.ResponseStatus = 0
	cp.ResponseBody = nil
	m.records[rec.Key] = &cp
	return nil
}

func (m *MockIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok && rec.Pending() {
		delete(m.records, key)
	}
	return nil
}

func (m *MockIdempotencyStore) Cleanup(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for k, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *MockIdempotencyStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
