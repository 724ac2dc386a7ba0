package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tributary/internal/staging"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
	txcontext "tributary/pkg/platform/tx"
)

// Store persists staging events in the staging_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Insert(ctx context.Context, event staging.Event) error {
	payload, err := event.Payload.Encode()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	findings, err := json.Marshal(event.Errors)
	if err != nil {
		return fmt.Errorf("encode validation errors: %w", err)
	}

	var occurredAt *time.Time
	if !event.OccurredAt.IsZero() {
		occurredAt = &event.OccurredAt
	}

	query := `
		INSERT INTO staging_events (id, raw_id, tenant_id, event_type, occurred_at,
			session_ref, visitor_ref, page_url, device_class, agent_family,
			payload, status, quality_score, validation_errors, conformed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE, $15)
	`
	_, err = s.handle(ctx).ExecContext(ctx, query,
		event.ID,
		event.RawID,
		event.Tenant.String(),
		event.EventType,
		occurredAt,
		event.SessionRef,
		event.VisitorRef,
		event.PageURL,
		event.DeviceClass,
		event.AgentFamily,
		payload,
		string(event.Status),
		event.QualityScore,
		findings,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert staging event: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (staging.Event, error) {
	query := `
		SELECT id, raw_id, tenant_id, event_type, occurred_at,
			session_ref, visitor_ref, page_url, device_class, agent_family,
			payload, status, quality_score, validation_errors, conformed, created_at
		FROM staging_events
		WHERE id = $1
	`
	row := s.handle(ctx).QueryRowContext(ctx, query, id)

	var (
		event      staging.Event
		tenant     string
		status     string
		occurredAt sql.NullTime
		payload    []byte
		findings   []byte
	)
	err := row.Scan(&event.ID, &event.RawID, &tenant, &event.EventType, &occurredAt,
		&event.SessionRef, &event.VisitorRef, &event.PageURL, &event.DeviceClass,
		&event.AgentFamily, &payload, &status, &event.QualityScore, &findings,
		&event.Conformed, &event.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return staging.Event{}, fmt.Errorf("staging event %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return staging.Event{}, fmt.Errorf("get staging event: %w", err)
	}

	event.Tenant = domain.TenantID(tenant)
	event.Status = staging.ValidationStatus(status)
	if occurredAt.Valid {
		event.OccurredAt = occurredAt.Time
	}
	doc, err := document.Decode(payload)
	if err != nil {
		return staging.Event{}, fmt.Errorf("decode staging payload: %w", err)
	}
	event.Payload = doc
	if err := json.Unmarshal(findings, &event.Errors); err != nil {
		return staging.Event{}, fmt.Errorf("decode validation errors: %w", err)
	}
	return event, nil
}

func (s *Store) MarkConformed(ctx context.Context, id uuid.UUID) error {
	res, err := s.handle(ctx).ExecContext(ctx,
		`UPDATE staging_events SET conformed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark conformed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark conformed rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("staging event %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) ListUnconformed(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM staging_events
		WHERE conformed = FALSE
		  AND status IN ($1, $2)
		  AND created_at <= $3
		ORDER BY created_at
		LIMIT $4
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query,
		string(staging.StatusValid), string(staging.StatusSuspicious),
		time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list unconformed: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unconformed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unconformed ids: %w", err)
	}
	return ids, nil
}

func (s *Store) CountByStatus(ctx context.Context, tenant domain.TenantID, window time.Duration) (staging.StatusCounts, error) {
	query := `
		SELECT status, COUNT(*)
		FROM staging_events
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY status
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, tenant.String(), time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("count staging events: %w", err)
	}
	defer rows.Close()

	counts := make(staging.StatusCounts)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[staging.ValidationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}
