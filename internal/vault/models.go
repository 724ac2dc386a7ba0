// Package vault is the temporal entity store: hubs register business
// entities, links register relationships, satellites carry versioned
// descriptive payloads. Every higher pipeline layer writes through the
// Engine in this package.
package vault

import (
	"fmt"
	"time"

	"tributary/pkg/document"
	"tributary/pkg/domain"
)

// Hub registers one distinct business entity. Created once on first
// sighting, immutable afterwards.
type Hub struct {
	Key         domain.HashKey
	Kind        domain.EntityKind
	BusinessKey string
	Tenant      domain.TenantID
	FirstSeen   time.Time
	Origin      string
}

// Validate checks the fields a store is entitled to assume.
func (h Hub) Validate() error {
	if h.Key.IsZero() {
		return fmt.Errorf("hub: zero hash key")
	}
	if h.Tenant.IsZero() {
		return fmt.Errorf("hub: empty tenant scope")
	}
	if h.BusinessKey == "" {
		return fmt.Errorf("hub: empty business key")
	}
	if !h.Kind.Valid() {
		return fmt.Errorf("hub: unknown kind %q", h.Kind)
	}
	return nil
}

// Link registers one relationship instance among hubs. Created once,
// immutable afterwards.
type Link struct {
	Key          domain.HashKey
	Kind         domain.LinkKind
	Participants []domain.HashKey
	Tenant       domain.TenantID
	FirstSeen    time.Time
	Origin       string
}

// Validate checks the fields a store is entitled to assume.
func (l Link) Validate() error {
	if l.Key.IsZero() {
		return fmt.Errorf("link: zero hash key")
	}
	if l.Tenant.IsZero() {
		return fmt.Errorf("link: empty tenant scope")
	}
	if l.Kind == "" {
		return fmt.Errorf("link: empty kind")
	}
	if len(l.Participants) < 2 {
		return fmt.Errorf("link: need at least 2 participants, got %d", len(l.Participants))
	}
	return nil
}

// SatelliteVersion is one temporal snapshot attached to a hub or link.
// Exactly one version per (owner, kind) has a nil EndTime; superseding a
// version sets its EndTime to the successor's LoadTime, never touching the
// payload.
type SatelliteVersion struct {
	Owner       domain.HashKey
	Kind        domain.SatelliteKind
	Tenant      domain.TenantID
	LoadTime    time.Time
	EndTime     *time.Time
	Fingerprint string
	Payload     document.Document
}

// Open reports whether this is the current version.
func (v SatelliteVersion) Open() bool { return v.EndTime == nil }

// HistoryPage is one page of a satellite's version history, oldest first.
// NextCursor is empty on the final page.
type HistoryPage struct {
	Versions   []SatelliteVersion
	NextCursor string
}
