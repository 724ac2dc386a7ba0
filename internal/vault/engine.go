package vault

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"tributary/pkg/document"
	"tributary/pkg/domain"
	audit "tributary/pkg/platform/audit"
	"tributary/pkg/platform/sentinel"
)

// defaultConflictRetries bounds the read-compare-write loop in
// UpsertSatellite before a conflict is surfaced to the caller.
const defaultConflictRetries = 5

// Engine implements the historization rules on top of a Store and emits an
// audit event for every mutation it actually performs. Audit emission is an
// explicit call after the store reported success, never an implicit hook
// inside the store; with the postgres outbox store it rides the caller's
// transaction.
type Engine struct {
	store           Store
	sink            audit.Sink
	logger          *slog.Logger
	clock           func() time.Time
	conflictRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithConflictRetries overrides the bounded optimistic retry count.
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.conflictRetries = n
		}
	}
}

// NewEngine builds the temporal store engine.
func NewEngine(store Store, sink audit.Sink, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("vault: store is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("vault: audit sink is required")
	}
	e := &Engine{
		store:           store,
		sink:            sink,
		logger:          slog.Default(),
		clock:           time.Now,
		conflictRetries: defaultConflictRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Fingerprint digests a payload's canonical encoding. Equal documents always
// fingerprint equal, so re-ingesting an unchanged payload is detected as a
// no-op.
func Fingerprint(payload document.Document) (string, error) {
	raw, err := payload.Encode()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// CreateHubIfAbsent registers a hub on first sighting. Idempotent; the audit
// event fires only when a row was actually created.
func (e *Engine) CreateHubIfAbsent(ctx context.Context, hub Hub, actor string) (bool, error) {
	if err := hub.Validate(); err != nil {
		return false, err
	}
	if hub.FirstSeen.IsZero() {
		hub.FirstSeen = e.clock().UTC()
	}
	created, err := e.store.InsertHub(ctx, hub)
	if err != nil {
		return false, fmt.Errorf("create hub: %w", err)
	}
	if created {
		e.emit(ctx, audit.Event{
			Tenant:       hub.Tenant,
			Action:       string(audit.EventHubCreated),
			ResourceType: "hub",
			ResourceID:   hub.Key.String(),
			Actor:        actor,
			Details: document.Document{
				"kind":         string(hub.Kind),
				"business_key": hub.BusinessKey,
				"origin":       hub.Origin,
			},
		})
	}
	return created, nil
}

// CreateLinkIfAbsent registers a relationship on first sighting. Idempotent.
func (e *Engine) CreateLinkIfAbsent(ctx context.Context, link Link, actor string) (bool, error) {
	if err := link.Validate(); err != nil {
		return false, err
	}
	if link.FirstSeen.IsZero() {
		link.FirstSeen = e.clock().UTC()
	}
	created, err := e.store.InsertLink(ctx, link)
	if err != nil {
		return false, fmt.Errorf("create link: %w", err)
	}
	if created {
		participants := make([]any, len(link.Participants))
		for i, p := range link.Participants {
			participants[i] = p.String()
		}
		e.emit(ctx, audit.Event{
			Tenant:       link.Tenant,
			Action:       string(audit.EventLinkCreated),
			ResourceType: "link",
			ResourceID:   link.Key.String(),
			Actor:        actor,
			Details: document.Document{
				"kind":         string(link.Kind),
				"participants": participants,
				"origin":       link.Origin,
			},
		})
	}
	return created, nil
}

// UpsertSatellite writes a new version for (owner, kind) when the payload
// changed and is a no-op when it did not. The read-compare-write cycle runs
// against the store's per-owner atomic operations and retries a bounded
// number of times on conflict before surfacing sentinel.ErrConflict.
func (e *Engine) UpsertSatellite(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind, payload document.Document, asOf time.Time, actor string) (bool, error) {
	if tenant.IsZero() {
		return false, fmt.Errorf("upsert satellite: %w", sentinel.ErrTenantScope)
	}
	if owner.IsZero() {
		return false, fmt.Errorf("upsert satellite: zero owner key")
	}
	if asOf.IsZero() {
		asOf = e.clock()
	}
	asOf = asOf.UTC()

	fingerprint, err := Fingerprint(payload)
	if err != nil {
		return false, fmt.Errorf("fingerprint payload: %w", err)
	}
	next := SatelliteVersion{
		Owner:       owner,
		Kind:        kind,
		Tenant:      tenant,
		LoadTime:    asOf,
		Fingerprint: fingerprint,
		Payload:     payload,
	}

	for attempt := 0; attempt < e.conflictRetries; attempt++ {
		current, err := e.store.GetOpenVersion(ctx, owner, kind)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			err = e.store.InsertFirstVersion(ctx, next)
			if errors.Is(err, sentinel.ErrConflict) {
				continue // another writer opened the chain first
			}
			if err != nil {
				return false, fmt.Errorf("insert first version: %w", err)
			}
			e.emitVersion(ctx, next, actor, true)
			return true, nil

		case err != nil:
			return false, fmt.Errorf("read open version: %w", err)
		}

		if current.Tenant != tenant {
			return false, fmt.Errorf("upsert satellite: owner belongs to another tenant: %w", sentinel.ErrTenantScope)
		}
		if current.Fingerprint == fingerprint {
			// Unchanged payload: idempotent re-ingestion, nothing to write.
			return false, nil
		}
		if !next.LoadTime.After(current.LoadTime) {
			// Keep end/load times contiguous even when the event time lags
			// the version we are superseding.
			next.LoadTime = current.LoadTime.Add(time.Microsecond)
		}

		err = e.store.CloseAndInsert(ctx, current.Fingerprint, next)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("close and insert version: %w", err)
		}
		e.emitVersion(ctx, next, actor, false)
		return true, nil
	}
	return false, fmt.Errorf("upsert satellite for %s/%s: retries exhausted: %w", owner, kind, sentinel.ErrConflict)
}

// ReadCurrent returns the open payload for (owner, kind) within the tenant.
func (e *Engine) ReadCurrent(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind) (document.Document, error) {
	if tenant.IsZero() {
		return nil, fmt.Errorf("read current: %w", sentinel.ErrTenantScope)
	}
	version, err := e.store.GetCurrent(ctx, tenant, owner, kind)
	if err != nil {
		return nil, err
	}
	return version.Payload, nil
}

// ReadHistory pages through the version chain for (owner, kind), oldest
// first. Pass the returned cursor to resume.
func (e *Engine) ReadHistory(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind, cursor string, limit int) (HistoryPage, error) {
	if tenant.IsZero() {
		return HistoryPage{}, fmt.Errorf("read history: %w", sentinel.ErrTenantScope)
	}
	if limit <= 0 {
		limit = 100
	}
	return e.store.ListHistory(ctx, tenant, owner, kind, cursor, limit)
}

func (e *Engine) emitVersion(ctx context.Context, v SatelliteVersion, actor string, first bool) {
	e.emit(ctx, audit.Event{
		Tenant:       v.Tenant,
		Action:       string(audit.EventSatelliteVersion),
		ResourceType: "satellite",
		ResourceID:   v.Owner.String(),
		Actor:        actor,
		Details: document.Document{
			"kind":          string(v.Kind),
			"fingerprint":   v.Fingerprint,
			"load_time":     v.LoadTime.Format(time.RFC3339Nano),
			"first_version": first,
		},
	})
}

func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if err := e.sink.Emit(ctx, event); err != nil {
		e.logger.Warn("audit emit failed", "action", event.Action, "error", err)
	}
}
