// Package postgres persists the vault in three tables. The single-open-
// version invariant is backed by a partial unique index on
// (owner_key, kind) WHERE end_time IS NULL; the close-then-insert pair runs
// in one transaction with an expected-fingerprint guard so a losing
// concurrent writer observes sentinel.ErrConflict instead of corrupting the
// chain.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tributary/internal/vault"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
	txcontext "tributary/pkg/platform/tx"
)

// Store implements vault.Store over database/sql. When the context carries a
// transaction (tx.WithTx), every statement joins it, which is how business
// conformance commits hubs, links, satellites and audit outbox rows as one
// unit.
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

func (s *Store) InsertHub(ctx context.Context, hub vault.Hub) (bool, error) {
	query := `
		INSERT INTO hubs (hash_key, kind, business_key, tenant_id, first_seen, origin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash_key) DO NOTHING
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		hub.Key.Bytes(),
		string(hub.Kind),
		hub.BusinessKey,
		hub.Tenant.String(),
		hub.FirstSeen,
		hub.Origin,
	)
	if err != nil {
		return false, fmt.Errorf("insert hub: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert hub rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) InsertLink(ctx context.Context, link vault.Link) (bool, error) {
	participants := make([][]byte, len(link.Participants))
	for i, p := range link.Participants {
		participants[i] = p.Bytes()
	}
	query := `
		INSERT INTO links (hash_key, kind, participant_keys, tenant_id, first_seen, origin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash_key) DO NOTHING
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		link.Key.Bytes(),
		string(link.Kind),
		pq.ByteaArray(participants),
		link.Tenant.String(),
		link.FirstSeen,
		link.Origin,
	)
	if err != nil {
		return false, fmt.Errorf("insert link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert link rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) GetOpenVersion(ctx context.Context, owner domain.HashKey, kind domain.SatelliteKind) (*vault.SatelliteVersion, error) {
	query := `
		SELECT owner_key, kind, tenant_id, load_time, end_time, fingerprint, payload
		FROM satellites
		WHERE owner_key = $1 AND kind = $2 AND end_time IS NULL
	`
	row := s.handle(ctx).QueryRowContext(ctx, query, owner.Bytes(), string(kind))
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open version %s/%s: %w", owner, kind, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get open version: %w", err)
	}
	return version, nil
}

func (s *Store) InsertFirstVersion(ctx context.Context, next vault.SatelliteVersion) error {
	payload, err := next.Payload.Encode()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	query := `
		INSERT INTO satellites (owner_key, kind, tenant_id, load_time, end_time, fingerprint, payload)
		VALUES ($1, $2, $3, $4, NULL, $5, $6)
	`
	_, err = s.handle(ctx).ExecContext(ctx, query,
		next.Owner.Bytes(),
		string(next.Kind),
		next.Tenant.String(),
		next.LoadTime,
		next.Fingerprint,
		payload,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("first version %s/%s: %w", next.Owner, next.Kind, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert first version: %w", err)
	}
	return nil
}

// CloseAndInsert runs the close and the insert in one transaction. The
// UPDATE only matches while the open version still carries the expected
// fingerprint, so a concurrent writer that already superseded it makes this
// call a clean ErrConflict with no partial effect.
func (s *Store) CloseAndInsert(ctx context.Context, expectedFingerprint string, next vault.SatelliteVersion) error {
	if tx, ok := txcontext.From(ctx); ok {
		return s.closeAndInsert(ctx, tx, expectedFingerprint, next)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close-and-insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.closeAndInsert(ctx, tx, expectedFingerprint, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit close-and-insert: %w", err)
	}
	return nil
}

func (s *Store) closeAndInsert(ctx context.Context, tx *sql.Tx, expectedFingerprint string, next vault.SatelliteVersion) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE satellites
		SET end_time = $1
		WHERE owner_key = $2 AND kind = $3 AND end_time IS NULL AND fingerprint = $4
	`, next.LoadTime, next.Owner.Bytes(), string(next.Kind), expectedFingerprint)
	if err != nil {
		return fmt.Errorf("close open version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close open version rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("close version %s/%s: open version changed: %w", next.Owner, next.Kind, sentinel.ErrConflict)
	}

	payload, err := next.Payload.Encode()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO satellites (owner_key, kind, tenant_id, load_time, end_time, fingerprint, payload)
		VALUES ($1, $2, $3, $4, NULL, $5, $6)
	`, next.Owner.Bytes(), string(next.Kind), next.Tenant.String(), next.LoadTime, next.Fingerprint, payload)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert next version %s/%s: %w", next.Owner, next.Kind, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert next version: %w", err)
	}
	return nil
}

func (s *Store) GetCurrent(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind) (*vault.SatelliteVersion, error) {
	query := `
		SELECT owner_key, kind, tenant_id, load_time, end_time, fingerprint, payload
		FROM satellites
		WHERE owner_key = $1 AND kind = $2 AND tenant_id = $3 AND end_time IS NULL
	`
	row := s.handle(ctx).QueryRowContext(ctx, query, owner.Bytes(), string(kind), tenant.String())
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("current version %s/%s: %w", owner, kind, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (s *Store) ListHistory(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind, cursor string, limit int) (vault.HistoryPage, error) {
	var after time.Time
	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return vault.HistoryPage{}, fmt.Errorf("list history: bad cursor %q", cursor)
		}
		after = t
	}
	query := `
		SELECT owner_key, kind, tenant_id, load_time, end_time, fingerprint, payload
		FROM satellites
		WHERE owner_key = $1 AND kind = $2 AND tenant_id = $3 AND load_time > $4
		ORDER BY load_time
		LIMIT $5
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, owner.Bytes(), string(kind), tenant.String(), after, limit+1)
	if err != nil {
		return vault.HistoryPage{}, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var page vault.HistoryPage
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return vault.HistoryPage{}, fmt.Errorf("scan history row: %w", err)
		}
		if len(page.Versions) == limit {
			page.NextCursor = page.Versions[limit-1].LoadTime.Format(time.RFC3339Nano)
			return page, rows.Err()
		}
		page.Versions = append(page.Versions, *version)
	}
	if err := rows.Err(); err != nil {
		return vault.HistoryPage{}, fmt.Errorf("iterate history: %w", err)
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*vault.SatelliteVersion, error) {
	var (
		version  vault.SatelliteVersion
		ownerRaw []byte
		kind     string
		tenant   string
		endTime  sql.NullTime
		payload  []byte
	)
	if err := row.Scan(&ownerRaw, &kind, &tenant, &version.LoadTime, &endTime, &version.Fingerprint, &payload); err != nil {
		return nil, err
	}
	owner, err := domain.HashKeyFromBytes(ownerRaw)
	if err != nil {
		return nil, err
	}
	version.Owner = owner
	version.Kind = domain.SatelliteKind(kind)
	version.Tenant = domain.TenantID(tenant)
	if endTime.Valid {
		t := endTime.Time
		version.EndTime = &t
	}
	var doc document.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	version.Payload = doc
	return &version, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
