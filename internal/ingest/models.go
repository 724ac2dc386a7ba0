// Package ingest is the raw landing stage. It accepts inbound events
// verbatim, never applies business rules, and guarantees that an accepted
// row eventually becomes visible to staging even across restarts.
package ingest

import (
	"time"

	"github.com/google/uuid"

	"tributary/pkg/document"
	"tributary/pkg/domain"
)

// Status is the raw event processing status. A row is owned by exactly one
// stage worker at a time via atomic status transitions.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusError      Status = "ERROR"
)

// RawEvent is a verbatim ingested payload. The payload blob is preserved as
// delivered; all interpretation happens in staging.
type RawEvent struct {
	ID          uuid.UUID
	Tenant      domain.TenantID
	BatchID     uuid.UUID
	Payload     document.Document
	SourceIP    string
	AgentString string
	ReceivedAt  time.Time
	Status      Status
	RetryCount  int
	LastError   string
	UpdatedAt   time.Time
}

// Metadata is transport-provided context captured alongside the payload.
// BatchID groups deliveries when the producer supplies one; otherwise the
// landing stage assigns a fresh batch per call.
type Metadata struct {
	SourceIP    string
	AgentString string
	BatchID     uuid.UUID
}

// StatusCounts is the per-status breakdown for one tenant and window,
// consumed by the pipeline status endpoint.
type StatusCounts map[Status]int
