package staging

import (
	"errors"
	"fmt"
	"time"

	"tributary/pkg/document"
)

// knownEventTypes is the closed domain of event kinds conformance knows how
// to map. Unknown kinds are a business finding, not a structural one: the
// payload is well-formed, we just do not recognize it.
var knownEventTypes = map[string]bool{
	"page_view":   true,
	"page_ping":   true,
	"click":       true,
	"form_submit": true,
	"transaction": true,
	"custom":      true,
}

// validator accumulates findings against one payload.
type validator struct {
	doc       document.Document
	clockSkew time.Duration
	now       time.Time
	findings  []ValidationError
}

func (v *validator) structural(field, message string) {
	v.findings = append(v.findings, ValidationError{Class: ClassStructural, Field: field, Message: message})
}

func (v *validator) business(field, message string) {
	v.findings = append(v.findings, ValidationError{Class: ClassBusiness, Field: field, Message: message})
}

// requireString records a structural finding when the field is absent or
// mistyped and returns the value otherwise.
func (v *validator) requireString(field string) string {
	s, err := v.doc.String(field)
	if err != nil {
		v.structural(field, describeFieldErr(err))
		return ""
	}
	if s == "" {
		v.structural(field, "empty")
		return ""
	}
	return s
}

// optionalString records a structural finding only when the field is present
// with the wrong type.
func (v *validator) optionalString(field string) string {
	if !v.doc.Has(field) {
		return ""
	}
	s, err := v.doc.String(field)
	if err != nil {
		v.structural(field, describeFieldErr(err))
		return ""
	}
	return s
}

func (v *validator) requireTime(field string) time.Time {
	t, err := v.doc.Time(field)
	if err != nil {
		v.structural(field, describeFieldErr(err))
		return time.Time{}
	}
	return t
}

// run applies the structural checks (step 3) then the business rules
// (step 4) and returns the extracted typed fields.
func (v *validator) run() (eventType string, occurredAt time.Time, sessionRef, visitorRef, pageURL string) {
	eventType = v.requireString("type")
	occurredAt = v.requireTime("occurred_at")
	sessionRef = v.requireString("session")
	visitorRef = v.optionalString("visitor")
	pageURL = v.optionalString("page")

	if eventType != "" && !knownEventTypes[eventType] {
		v.business("type", fmt.Sprintf("unknown event type %q", eventType))
	}
	if !occurredAt.IsZero() && occurredAt.After(v.now.Add(v.clockSkew)) {
		v.business("occurred_at", "timestamp in the future beyond clock-skew tolerance")
	}
	return eventType, occurredAt, sessionRef, visitorRef, pageURL
}

// score computes the quality score for a set of findings: start at 1.0,
// subtract a fixed penalty per finding class, clamp to [0,1].
func score(findings []ValidationError) float64 {
	s := 1.0
	for _, f := range findings {
		switch f.Class {
		case ClassStructural:
			s -= PenaltyStructural
		case ClassBusiness:
			s -= PenaltyBusiness
		}
	}
	if s < 0 {
		return 0
	}
	return s
}

// statusFor derives the validation status from findings and score.
func statusFor(findings []ValidationError, qualityScore, threshold float64) ValidationStatus {
	for _, f := range findings {
		if f.Class == ClassStructural {
			return StatusInvalid
		}
	}
	if qualityScore >= threshold {
		return StatusValid
	}
	return StatusSuspicious
}

func describeFieldErr(err error) string {
	switch {
	case errors.Is(err, document.ErrFieldMissing):
		return "missing"
	case errors.Is(err, document.ErrFieldType):
		return "wrong type"
	default:
		return err.Error()
	}
}
