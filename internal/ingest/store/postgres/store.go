package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tributary/internal/ingest"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
	txcontext "tributary/pkg/platform/tx"
)

// Store persists raw events in the raw_events table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent pollers never double-claim a row.
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

func (s *Store) Insert(ctx context.Context, event ingest.RawEvent) error {
	payload, err := event.Payload.Encode()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	query := `
		INSERT INTO raw_events (id, tenant_id, batch_id, payload, source_ip, agent_string,
			received_at, status, retry_count, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, '', $9)
	`
	_, err = s.handle(ctx).ExecContext(ctx, query,
		event.ID,
		event.Tenant.String(),
		event.BatchID,
		payload,
		event.SourceIP,
		event.AgentString,
		event.ReceivedAt,
		string(event.Status),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert raw event: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (ingest.RawEvent, error) {
	query := `
		SELECT id, tenant_id, batch_id, payload, source_ip, agent_string,
			received_at, status, retry_count, last_error, updated_at
		FROM raw_events
		WHERE id = $1
	`
	event, err := scanRawEvent(s.handle(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.RawEvent{}, fmt.Errorf("raw event %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return ingest.RawEvent{}, fmt.Errorf("get raw event: %w", err)
	}
	return event, nil
}

func (s *Store) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE raw_events
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		string(ingest.StatusProcessing), time.Now().UTC(), id, string(ingest.StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim raw event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ClaimStale(ctx context.Context, pendingAge, staleAge time.Duration, limit int) ([]uuid.UUID, error) {
	now := time.Now().UTC()
	query := `
		UPDATE raw_events
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM raw_events
			WHERE (status = $3 AND updated_at <= $4)
			   OR (status = $1 AND updated_at <= $5)
			ORDER BY updated_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query,
		string(ingest.StatusProcessing),
		now,
		string(ingest.StatusPending),
		now.Add(-pendingAge),
		now.Add(-staleAge),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim stale raw events: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) ClaimRetryable(ctx context.Context, maxRetries int, backoffAge time.Duration, limit int) ([]uuid.UUID, error) {
	now := time.Now().UTC()
	query := `
		UPDATE raw_events
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM raw_events
			WHERE status = $3 AND retry_count < $4 AND updated_at <= $5
			ORDER BY updated_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query,
		string(ingest.StatusProcessing),
		now,
		string(ingest.StatusError),
		maxRetries,
		now.Add(-backoffAge),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim retryable raw events: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE raw_events
		SET status = $1, last_error = '', updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		string(ingest.StatusProcessed), time.Now().UTC(), id, string(ingest.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark raw event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark processed rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("raw event %s not in PROCESSING: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Store) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE raw_events
		SET status = $1, retry_count = retry_count + 1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	if _, err := s.handle(ctx).ExecContext(ctx, query,
		string(ingest.StatusError), message, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark raw event error: %w", err)
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context, tenant domain.TenantID, window time.Duration) (ingest.StatusCounts, error) {
	query := `
		SELECT status, COUNT(*)
		FROM raw_events
		WHERE tenant_id = $1 AND received_at >= $2
		GROUP BY status
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, tenant.String(), time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("count raw events: %w", err)
	}
	defer rows.Close()

	counts := make(ingest.StatusCounts)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[ingest.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (s *Store) ListQuarantined(ctx context.Context, tenant domain.TenantID, maxRetries int, limit int) ([]ingest.RawEvent, error) {
	query := `
		SELECT id, tenant_id, batch_id, payload, source_ip, agent_string,
			received_at, status, retry_count, last_error, updated_at
		FROM raw_events
		WHERE tenant_id = $1 AND status = $2 AND retry_count >= $3
		ORDER BY updated_at DESC
		LIMIT $4
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query,
		tenant.String(), string(ingest.StatusError), maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list quarantined: %w", err)
	}
	defer rows.Close()

	var out []ingest.RawEvent
	for rows.Next() {
		event, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quarantined row: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantined rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawEvent(row rowScanner) (ingest.RawEvent, error) {
	var (
		event   ingest.RawEvent
		tenant  string
		status  string
		payload []byte
	)
	err := row.Scan(&event.ID, &tenant, &event.BatchID, &payload, &event.SourceIP,
		&event.AgentString, &event.ReceivedAt, &status, &event.RetryCount,
		&event.LastError, &event.UpdatedAt)
	if err != nil {
		return ingest.RawEvent{}, err
	}
	event.Tenant = domain.TenantID(tenant)
	event.Status = ingest.Status(status)
	doc, err := document.Decode(payload)
	if err != nil {
		return ingest.RawEvent{}, err
	}
	event.Payload = doc
	return event, nil
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed ids: %w", err)
	}
	return ids, nil
}
