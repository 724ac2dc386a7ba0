package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tributary/internal/staging"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
)

// Store is the in-memory staging event store for tests and single-node runs.
type Store struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*staging.Event
	clock  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		events: make(map[uuid.UUID]*staging.Event),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Insert(_ context.Context, event staging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; ok {
		return fmt.Errorf("staging event %s: %w", event.ID, sentinel.ErrInvalidState)
	}
	copied := event
	s.events[event.ID] = &copied
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (staging.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return staging.Event{}, fmt.Errorf("staging event %s: %w", id, sentinel.ErrNotFound)
	}
	return *event, nil
}

func (s *Store) MarkConformed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return fmt.Errorf("staging event %s: %w", id, sentinel.ErrNotFound)
	}
	event.Conformed = true
	return nil
}

func (s *Store) ListUnconformed(_ context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.clock().UTC().Add(-olderThan)

	var ids []uuid.UUID
	for _, event := range s.events {
		if len(ids) == limit {
			break
		}
		if event.Conformed || !event.Forwardable() || event.CreatedAt.After(cutoff) {
			continue
		}
		ids = append(ids, event.ID)
	}
	return ids, nil
}

// ListByRaw returns all rows created for one raw event, for tests.
func (s *Store) ListByRaw(_ context.Context, rawID uuid.UUID) ([]staging.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []staging.Event
	for _, event := range s.events {
		if event.RawID == rawID {
			out = append(out, *event)
		}
	}
	return out, nil
}

func (s *Store) CountByStatus(_ context.Context, tenant domain.TenantID, window time.Duration) (staging.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.clock().UTC().Add(-window)

	counts := make(staging.StatusCounts)
	for _, event := range s.events {
		if event.Tenant != tenant || event.CreatedAt.Before(cutoff) {
			continue
		}
		counts[event.Status]++
	}
	return counts, nil
}
