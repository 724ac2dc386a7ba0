package vault

import (
	"context"

	"tributary/pkg/domain"
)

// Store is the persistence contract behind the Engine. Implementations must
// make the three satellite write operations atomic per owner key: the
// partial-unique "one open version" constraint is theirs to enforce, the
// retry loop on conflict is the Engine's.
//
// All errors are wrapped pkg/platform/sentinel values: ErrNotFound when a
// row or open version is absent, ErrConflict when a concurrent writer won
// the race for an owner key.
type Store interface {
	// InsertHub inserts if absent. Returns false without modification when
	// the hub already exists.
	InsertHub(ctx context.Context, hub Hub) (created bool, err error)

	// InsertLink inserts if absent, same contract as InsertHub.
	InsertLink(ctx context.Context, link Link) (created bool, err error)

	// GetOpenVersion returns the single open version for (owner, kind), or
	// ErrNotFound when no version exists yet.
	GetOpenVersion(ctx context.Context, owner domain.HashKey, kind domain.SatelliteKind) (*SatelliteVersion, error)

	// InsertFirstVersion inserts next as the first open version. Returns
	// ErrConflict if any open version exists for the owner and kind.
	InsertFirstVersion(ctx context.Context, next SatelliteVersion) error

	// CloseAndInsert atomically sets the open version's end time to
	// next.LoadTime and inserts next as the new open version. The open
	// version must still carry expectedFingerprint; otherwise the store
	// leaves everything untouched and returns ErrConflict.
	CloseAndInsert(ctx context.Context, expectedFingerprint string, next SatelliteVersion) error

	// GetCurrent returns the open version scoped to one tenant, ErrNotFound
	// when absent or owned by a different tenant.
	GetCurrent(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind) (*SatelliteVersion, error)

	// ListHistory pages through versions ordered by load time ascending.
	// cursor is the value returned by the previous page, empty for the first.
	ListHistory(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind, cursor string, limit int) (HistoryPage, error)
}
