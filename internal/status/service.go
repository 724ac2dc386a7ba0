// Package status aggregates per-stage progress counters for one tenant, the
// backing for the pipeline status endpoint.
package status

import (
	"context"
	"fmt"
	"time"

	"tributary/internal/ingest"
	"tributary/internal/staging"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
)

const defaultWindow = 24 * time.Hour

// RawCounter is the slice of the raw store this package reads.
type RawCounter interface {
	CountByStatus(ctx context.Context, tenant domain.TenantID, window time.Duration) (ingest.StatusCounts, error)
}

// StagingCounter is the slice of the staging store this package reads.
type StagingCounter interface {
	CountByStatus(ctx context.Context, tenant domain.TenantID, window time.Duration) (staging.StatusCounts, error)
}

// Report is one tenant's pipeline snapshot over a window.
type Report struct {
	Tenant  domain.TenantID
	Window  time.Duration
	Raw     ingest.StatusCounts
	Staging staging.StatusCounts
}

// Service reads the stage stores; it never writes.
type Service struct {
	raws    RawCounter
	staging StagingCounter
}

// NewService builds the status reader.
func NewService(raws RawCounter, stagingStore StagingCounter) (*Service, error) {
	if raws == nil {
		return nil, fmt.Errorf("status: raw counter is required")
	}
	if stagingStore == nil {
		return nil, fmt.Errorf("status: staging counter is required")
	}
	return &Service{raws: raws, staging: stagingStore}, nil
}

// Pipeline reports per-status counts for one tenant. A non-positive window
// falls back to the last 24 hours.
func (s *Service) Pipeline(ctx context.Context, tenant domain.TenantID, window time.Duration) (Report, error) {
	if tenant.IsZero() {
		return Report{}, fmt.Errorf("pipeline status: %w", sentinel.ErrTenantScope)
	}
	if window <= 0 {
		window = defaultWindow
	}

	raw, err := s.raws.CountByStatus(ctx, tenant, window)
	if err != nil {
		return Report{}, fmt.Errorf("count raw events: %w", err)
	}
	staged, err := s.staging.CountByStatus(ctx, tenant, window)
	if err != nil {
		return Report{}, fmt.Errorf("count staging events: %w", err)
	}
	return Report{Tenant: tenant, Window: window, Raw: raw, Staging: staged}, nil
}
