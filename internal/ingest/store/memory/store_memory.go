package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tributary/internal/ingest"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
)

// Store is the in-memory raw event store for tests and single-node runs.
type Store struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*ingest.RawEvent
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
		events: make(map[uuid.UUID]*ingest.RawEvent),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Insert(_ context.Context, event ingest.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; ok {
		return fmt.Errorf("raw event %s: %w", event.ID, sentinel.ErrInvalidState)
	}
	event.UpdatedAt = s.clock().UTC()
	copied := event
	s.events[event.ID] = &copied
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (ingest.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return ingest.RawEvent{}, fmt.Errorf("raw event %s: %w", id, sentinel.ErrNotFound)
	}
	return *event, nil
}

func (s *Store) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return false, fmt.Errorf("raw event %s: %w", id, sentinel.ErrNotFound)
	}
	if event.Status != ingest.StatusPending {
		return false, nil
	}
	event.Status = ingest.StatusProcessing
	event.UpdatedAt = s.clock().UTC()
	return true, nil
}

func (s *Store) ClaimStale(_ context.Context, pendingAge, staleAge time.Duration, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()

	candidates := make([]*ingest.RawEvent, 0)
	for _, event := range s.events {
		claimable := (event.Status == ingest.StatusPending && now.Sub(event.UpdatedAt) >= pendingAge) ||
			(event.Status == ingest.StatusProcessing && now.Sub(event.UpdatedAt) >= staleAge)
		if claimable {
			candidates = append(candidates, event)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
	})

	var ids []uuid.UUID
	for _, event := range candidates {
		if len(ids) == limit {
			break
		}
		event.Status = ingest.StatusProcessing
		event.UpdatedAt = now
		ids = append(ids, event.ID)
	}
	return ids, nil
}

func (s *Store) ClaimRetryable(_ context.Context, maxRetries int, backoffAge time.Duration, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()

	var ids []uuid.UUID
	for _, event := range s.events {
		if len(ids) == limit {
			break
		}
		if event.Status != ingest.StatusError || event.RetryCount >= maxRetries {
			continue
		}
		if now.Sub(event.UpdatedAt) < backoffAge {
			continue
		}
		event.Status = ingest.StatusProcessing
		event.UpdatedAt = now
		ids = append(ids, event.ID)
	}
	return ids, nil
}

func (s *Store) MarkProcessed(_ context.Context, id uuid.UUID) error {
	return s.transition(id, ingest.StatusProcessed, "")
}

func (s *Store) MarkError(_ context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return fmt.Errorf("raw event %s: %w", id, sentinel.ErrNotFound)
	}
	event.Status = ingest.StatusError
	event.RetryCount++
	event.LastError = message
	event.UpdatedAt = s.clock().UTC()
	return nil
}

func (s *Store) transition(id uuid.UUID, to ingest.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return fmt.Errorf("raw event %s: %w", id, sentinel.ErrNotFound)
	}
	if event.Status != ingest.StatusProcessing {
		return fmt.Errorf("raw event %s in status %s: %w", id, event.Status, sentinel.ErrInvalidState)
	}
	event.Status = to
	event.LastError = message
	event.UpdatedAt = s.clock().UTC()
	return nil
}

func (s *Store) CountByStatus(_ context.Context, tenant domain.TenantID, window time.Duration) (ingest.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.clock().UTC().Add(-window)

	counts := make(ingest.StatusCounts)
	for _, event := range s.events {
		if event.Tenant != tenant || event.ReceivedAt.Before(cutoff) {
			continue
		}
		counts[event.Status]++
	}
	return counts, nil
}

func (s *Store) ListQuarantined(_ context.Context, tenant domain.TenantID, maxRetries int, limit int) ([]ingest.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ingest.RawEvent
	for _, event := range s.events {
		if len(out) == limit {
			break
		}
		if event.Tenant == tenant && event.Status == ingest.StatusError && event.RetryCount >= maxRetries {
			out = append(out, *event)
		}
	}
	return out, nil
}
