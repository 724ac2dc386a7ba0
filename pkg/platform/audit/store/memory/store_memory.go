package memory

import (
	"context"
	"sync"

	"tributary/pkg/domain"
	audit "tributary/pkg/platform/audit"
)

// InMemoryStore keeps audit events per tenant for tests and single-process runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.TenantID][]audit.Event
	order  []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.TenantID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[domain.TenantID][]audit.Event)
	s.order = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.Tenant] = append(s.events[event.Tenant], event)
	s.order = append(s.order, event)
	return nil
}

func (s *InMemoryStore) ListByTenant(_ context.Context, tenant domain.TenantID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[tenant]...), nil
}

// ListRecent returns the most recent N events in append order.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.order) - limit
	if start < 0 {
		start = 0
	}
	return append([]audit.Event{}, s.order[start:]...), nil
}
