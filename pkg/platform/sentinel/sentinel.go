package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity or satellite version does not exist in store
// - ErrConflict: a concurrent writer changed the open version first; retryable
// - ErrInvalidState: row in wrong processing status for requested transition
// - ErrUnavailable: storage or queue temporarily unavailable; retryable
// - ErrTenantScope: operation crossed a tenant boundary; never retried
// - ErrQuarantined: retry budget exhausted, row parked for manual triage
//
// Validation findings discovered in staging are data, not errors; they are
// recorded on the staging row and never surfaced through this package.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrTenantScope  = errors.New("tenant scope violation")
	ErrQuarantined  = errors.New("quarantined")
)
