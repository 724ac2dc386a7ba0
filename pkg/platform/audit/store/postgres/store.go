package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tributary/pkg/document"
	"tributary/pkg/domain"
	audit "tributary/pkg/platform/audit"
	txcontext "tributary/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Append writes to the outbox table inside the caller's transaction when one
// is in context, so an audit event commits if and only if the domain write it
// describes commits. The relay publishes outbox rows to Kafka afterwards.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Event for deserialization by downstream consumers.
type outboxPayload struct {
	ID           string            `json:"ID"`
	Category     string            `json:"Category"`
	Timestamp    string            `json:"Timestamp"`
	Tenant       string            `json:"Tenant"`
	Action       string            `json:"Action"`
	ResourceType string            `json:"ResourceType"`
	ResourceID   string            `json:"ResourceID"`
	Actor        string            `json:"Actor,omitempty"`
	RequestID    string            `json:"RequestID,omitempty"`
	Details      document.Document `json:"Details,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	payload := outboxPayload{
		ID:           eventID.String(),
		Category:     string(category),
		Timestamp:    event.Timestamp.Format(time.RFC3339Nano),
		Tenant:       event.Tenant.String(),
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Actor:        event.Actor,
		RequestID:    event.RequestID,
		Details:      event.Details,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_outbox (id, category, tenant_id, action, resource_type, resource_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		string(category),
		event.Tenant.String(),
		event.Action,
		event.ResourceType,
		event.ResourceID,
		payloadBytes,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// OutboxEntry is one unpublished row handed to the relay.
type OutboxEntry struct {
	ID      uuid.UUID
	Tenant  string
	Payload []byte
}

// ListUnpublished returns up to limit committed outbox rows that the relay
// has not yet acknowledged, oldest first.
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT id, tenant_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Tenant, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps rows the relay delivered. Re-marking is harmless, so
// a relay crash between produce and mark only causes re-delivery, never loss.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	query := `UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), pq.Array(raw)); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// ListByTenant returns events for one tenant, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenant domain.TenantID) ([]audit.Event, error) {
	query := `
		SELECT category, action, resource_type, resource_id, payload, created_at
		FROM audit_outbox
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, tenant.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

// ListRecent returns the N most recent events across tenants.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT category, action, resource_type, resource_id, payload, created_at
		FROM audit_outbox
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

func (s *Store) scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			raw      []byte
		)
		if err := rows.Scan(&category, &event.Action, &event.ResourceType, &event.ResourceID, &raw, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)

		var payload outboxPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal audit payload: %w", err)
		}
		event.Tenant = domain.TenantID(payload.Tenant)
		event.Actor = payload.Actor
		event.RequestID = payload.RequestID
		event.Details = payload.Details

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
