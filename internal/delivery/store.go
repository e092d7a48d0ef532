package delivery

import (
	"context"
	"sync"
	"time"
)

// State is the failover state that survives a restart within the same day.
type State struct {
	UsingFallback     bool
	FallbackExhausted bool
}

// StateStore persists State until a given expiry instant, normally the next
// local midnight so stale flags never outlive the daily reset.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State, expiry time.Time) error
	Clear(ctx context.Context) error
}

// MemoryStore is the default StateStore for deployments without Redis.
type MemoryStore struct {
	mu     sync.Mutex
	state  State
	expiry time.Time
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{now: time.Now} }

func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.expiry.IsZero() && !m.now().Before(m.expiry) {
		m.state = State{}
		m.expiry = time.Time{}
	}
	return m.state, nil
}

func (m *MemoryStore) Save(ctx context.Context, st State, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.expiry = expiry
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{}
	m.expiry = time.Time{}
	return nil
}
