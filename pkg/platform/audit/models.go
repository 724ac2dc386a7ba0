package audit

import (
	"context"
	"time"

	"tributary/pkg/document"
	"tributary/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryLineage covers writes to the temporal store: hub and link
	// creation and every satellite version transition. These reconstruct how
	// any current value came to be and carry the longest retention.
	CategoryLineage EventCategory = "lineage"

	// CategoryQuality covers data-quality outcomes: invalid staging rows and
	// quarantined raw events. These feed quality dashboards and triage queues.
	CategoryQuality EventCategory = "quality"

	// CategoryOperations covers routine stage transitions useful for
	// debugging throughput. These can be sampled with short retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from pipeline and store logic to capture a mutation.
// The actor is always an explicit parameter threaded from the call site,
// never an ambient global. Keep it transport-agnostic so stores and sinks
// can fan out.
type Event struct {
	Category     EventCategory
	Timestamp    time.Time
	Tenant       domain.TenantID
	Action       string
	ResourceType string
	ResourceID   string
	Actor        string
	RequestID    string
	Details      document.Document
}

// AuditEvent enumerates every action the pipeline emits.
type AuditEvent string

const (
	// Temporal store events
	EventHubCreated        AuditEvent = "hub_created"
	EventLinkCreated       AuditEvent = "link_created"
	EventSatelliteVersion  AuditEvent = "satellite_version_written"

	// Stage terminal transitions
	EventRawReceived       AuditEvent = "raw_event_received"
	EventRawProcessed      AuditEvent = "raw_event_processed"
	EventRawQuarantined    AuditEvent = "raw_event_quarantined"
	EventStagingInvalid    AuditEvent = "staging_event_invalid"
	EventStagingConformed  AuditEvent = "staging_event_conformed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventHubCreated:       CategoryLineage,
	EventLinkCreated:      CategoryLineage,
	EventSatelliteVersion: CategoryLineage,

	EventRawQuarantined: CategoryQuality,
	EventStagingInvalid: CategoryQuality,

	EventRawReceived:      CategoryOperations,
	EventRawProcessed:     CategoryOperations,
	EventStagingConformed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Sink is the fire-and-forget contract the pipeline depends on. Emit must be
// at-least-once and best-effort: callers never roll back domain work because
// a sink is slow, and the sink's storage format is not this package's concern.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists audit events. The postgres implementation writes a
// transactional outbox row so audit emission commits atomically with the
// domain write that caused it.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByTenant(ctx context.Context, tenant domain.TenantID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
