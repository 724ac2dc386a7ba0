// Package memory is the in-process vault store used by tests and
// single-node runs. One mutex serializes all writers, which trivially
// satisfies the per-owner atomicity the Store contract asks for; the
// expected-fingerprint guard is still enforced so the Engine's conflict
// path is exercised identically to postgres.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"tributary/internal/vault"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
)

type satelliteChainKey struct {
	owner domain.HashKey
	kind  domain.SatelliteKind
}

// Store keeps hubs, links and satellite chains in maps.
type Store struct {
	mu    sync.RWMutex
	hubs  map[domain.HashKey]vault.Hub
	links map[domain.HashKey]vault.Link
	sats  map[satelliteChainKey][]vault.SatelliteVersion
}

func New() *Store {
	return &Store{
		hubs:  make(map[domain.HashKey]vault.Hub),
		links: make(map[domain.HashKey]vault.Link),
		sats:  make(map[satelliteChainKey][]vault.SatelliteVersion),
	}
}

func (s *Store) InsertHub(_ context.Context, hub vault.Hub) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hubs[hub.Key]; ok {
		return false, nil
	}
	s.hubs[hub.Key] = hub
	return true, nil
}

func (s *Store) InsertLink(_ context.Context, link vault.Link) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.Key]; ok {
		return false, nil
	}
	s.links[link.Key] = link
	return true, nil
}

// GetHub returns a registered hub, for tests.
func (s *Store) GetHub(_ context.Context, key domain.HashKey) (vault.Hub, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hub, ok := s.hubs[key]
	if !ok {
		return vault.Hub{}, fmt.Errorf("hub %s: %w", key, sentinel.ErrNotFound)
	}
	return hub, nil
}

// GetLink returns a registered link, for tests.
func (s *Store) GetLink(_ context.Context, key domain.HashKey) (vault.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[key]
	if !ok {
		return vault.Link{}, fmt.Errorf("link %s: %w", key, sentinel.ErrNotFound)
	}
	return link, nil
}

func (s *Store) GetOpenVersion(_ context.Context, owner domain.HashKey, kind domain.SatelliteKind) (*vault.SatelliteVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.sats[satelliteChainKey{owner, kind}]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Open() {
			v := chain[i]
			return &v, nil
		}
	}
	return nil, fmt.Errorf("open version %s/%s: %w", owner, kind, sentinel.ErrNotFound)
}

func (s *Store) InsertFirstVersion(_ context.Context, next vault.SatelliteVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := satelliteChainKey{next.Owner, next.Kind}
	for _, v := range s.sats[key] {
		if v.Open() {
			return fmt.Errorf("first version %s/%s: %w", next.Owner, next.Kind, sentinel.ErrConflict)
		}
	}
	s.sats[key] = append(s.sats[key], next)
	return nil
}

func (s *Store) CloseAndInsert(_ context.Context, expectedFingerprint string, next vault.SatelliteVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := satelliteChainKey{next.Owner, next.Kind}
	chain := s.sats[key]
	for i := len(chain) - 1; i >= 0; i-- {
		if !chain[i].Open() {
			continue
		}
		if chain[i].Fingerprint != expectedFingerprint {
			return fmt.Errorf("close version %s/%s: open version changed: %w", next.Owner, next.Kind, sentinel.ErrConflict)
		}
		end := next.LoadTime
		chain[i].EndTime = &end
		s.sats[key] = append(chain, next)
		return nil
	}
	return fmt.Errorf("close version %s/%s: no open version: %w", next.Owner, next.Kind, sentinel.ErrConflict)
}

func (s *Store) GetCurrent(_ context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind) (*vault.SatelliteVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.sats[satelliteChainKey{owner, kind}]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Open() {
			if chain[i].Tenant != tenant {
				// Indistinguishable from absence: rows never leak across tenants.
				return nil, fmt.Errorf("current version %s/%s: %w", owner, kind, sentinel.ErrNotFound)
			}
			v := chain[i]
			return &v, nil
		}
	}
	return nil, fmt.Errorf("current version %s/%s: %w", owner, kind, sentinel.ErrNotFound)
}

func (s *Store) ListHistory(_ context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind, cursor string, limit int) (vault.HistoryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.sats[satelliteChainKey{owner, kind}]

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return vault.HistoryPage{}, fmt.Errorf("list history: bad cursor %q", cursor)
		}
		start = n
	}

	var page vault.HistoryPage
	for i := start; i < len(chain); i++ {
		if chain[i].Tenant != tenant {
			return vault.HistoryPage{}, fmt.Errorf("history %s/%s: %w", owner, kind, sentinel.ErrNotFound)
		}
		if len(page.Versions) == limit {
			page.NextCursor = strconv.Itoa(i)
			return page, nil
		}
		page.Versions = append(page.Versions, chain[i])
	}
	return page, nil
}
