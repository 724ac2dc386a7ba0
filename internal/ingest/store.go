package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tributary/pkg/domain"
)

// Store persists raw events. Claim methods perform atomic status
// transitions; a row returned by one claimer is invisible to every other
// claimer until released by a terminal mark or the stale deadline.
type Store interface {
	// Insert lands a new PENDING row. No partial write: an error means the
	// row is not visible and the caller should retry.
	Insert(ctx context.Context, event RawEvent) error

	// Get loads one row by id.
	Get(ctx context.Context, id uuid.UUID) (RawEvent, error)

	// Claim transitions one row PENDING→PROCESSING. Returns false when the
	// row is not claimable (already claimed or terminal).
	Claim(ctx context.Context, id uuid.UUID) (bool, error)

	// ClaimStale claims up to limit rows that are PENDING older than
	// pendingAge (lost notification fallback) or PROCESSING older than
	// staleAge (crashed worker fallback), returning their ids.
	ClaimStale(ctx context.Context, pendingAge, staleAge time.Duration, limit int) ([]uuid.UUID, error)

	// ClaimRetryable claims up to limit ERROR rows with retry budget left
	// whose last attempt is older than backoffAge.
	ClaimRetryable(ctx context.Context, maxRetries int, backoffAge time.Duration, limit int) ([]uuid.UUID, error)

	// MarkProcessed transitions PROCESSING→PROCESSED.
	MarkProcessed(ctx context.Context, id uuid.UUID) error

	// MarkError transitions PROCESSING→ERROR, increments the retry count and
	// records the message.
	MarkError(ctx context.Context, id uuid.UUID, message string) error

	// CountByStatus returns per-status counts for one tenant inside the
	// window ending now.
	CountByStatus(ctx context.Context, tenant domain.TenantID, window time.Duration) (StatusCounts, error)

	// ListQuarantined returns ERROR rows with no retry budget left, for
	// manual triage.
	ListQuarantined(ctx context.Context, tenant domain.TenantID, maxRetries int, limit int) ([]RawEvent, error)
}
