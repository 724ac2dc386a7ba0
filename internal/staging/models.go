// Package staging is the validation and enrichment stage. It consumes raw
// rows, judges them, derives secondary attributes, and writes immutable
// staging rows. Invalidity is a data-quality result recorded on the row,
// never a pipeline failure.
package staging

import (
	"time"

	"github.com/google/uuid"

	"tributary/pkg/document"
	"tributary/pkg/domain"
)

// ValidationStatus is the outcome of validating one raw event.
type ValidationStatus string

const (
	// StatusValid passes structural validation with a quality score at or
	// above the configured threshold.
	StatusValid ValidationStatus = "VALID"
	// StatusSuspicious passes structural validation but scored below the
	// threshold; forwarded to conformance, flagged for quality review.
	StatusSuspicious ValidationStatus = "SUSPICIOUS"
	// StatusInvalid has at least one structural error; never forwarded.
	StatusInvalid ValidationStatus = "INVALID"
)

// ErrorClass separates hard structural findings from business-rule warnings.
// Structural findings force INVALID; business findings only lower the score.
type ErrorClass string

const (
	ClassStructural ErrorClass = "structural"
	ClassBusiness   ErrorClass = "business"
)

// Score penalties per finding class. Scores start at 1.0 and clamp to [0,1].
const (
	PenaltyStructural = 0.35
	PenaltyBusiness   = 0.15
)

// ValidationError is one finding against a raw payload. Findings are data:
// they are stored with the row and queryable, never thrown up the stack.
type ValidationError struct {
	Class   ErrorClass `json:"class"`
	Field   string     `json:"field"`
	Message string     `json:"message"`
}

// Event is a validated, enriched projection of one raw event. Immutable once
// written; a correction is a new row keyed by the same raw id.
type Event struct {
	ID         uuid.UUID
	RawID      uuid.UUID
	Tenant     domain.TenantID
	EventType  string
	OccurredAt time.Time
	SessionRef string
	VisitorRef string
	PageURL    string

	// Enrichment output; empty when enrichment could not classify.
	DeviceClass string
	AgentFamily string

	Payload      document.Document
	Status       ValidationStatus
	QualityScore float64
	Errors       []ValidationError
	Conformed    bool
	CreatedAt    time.Time
}

// Forwardable reports whether conformance should see this row.
func (e Event) Forwardable() bool {
	return e.Status == StatusValid || e.Status == StatusSuspicious
}

// StatusCounts is the per-status breakdown for one tenant and window.
type StatusCounts map[ValidationStatus]int
