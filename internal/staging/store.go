package staging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tributary/pkg/domain"
)

// Store persists staging events. Rows are immutable except for the conformed
// flag, which the business stage flips after a successful commit.
type Store interface {
	Insert(ctx context.Context, event Event) error
	Get(ctx context.Context, id uuid.UUID) (Event, error)

	// MarkConformed flips the conformed flag. Joins the transaction in
	// context when one is present so the flag commits with the business
	// writes it acknowledges.
	MarkConformed(ctx context.Context, id uuid.UUID) error

	// ListUnconformed returns forwardable rows that conformance has not
	// acknowledged yet, at least olderThan old. The age guard keeps the
	// poll fallback from racing rows still in flight on the queue.
	ListUnconformed(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)

	// CountByStatus returns per-status counts for one tenant inside the
	// window ending now.
	CountByStatus(ctx context.Context, tenant domain.TenantID, window time.Duration) (StatusCounts, error)
}
