// Package domain holds the identifier types shared across the pipeline and the
// temporal entity store. Everything here is plain data: no storage, no I/O.
package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// TenantID is the opaque isolation boundary for all data. It is resolved and
// validated by the external credential service before it reaches this layer;
// here it is only threaded through calls and used to partition rows and keys.
type TenantID string

// IsZero reports whether the tenant scope is unset.
func (t TenantID) IsZero() bool { return t == "" }

func (t TenantID) String() string { return string(t) }

// EntityKind names a hub-able business entity. The set is closed; adding a
// kind is a versioned change because it participates in hash key derivation.
type EntityKind string

const (
	KindVisitor EntityKind = "visitor"
	KindSession EntityKind = "session"
	KindEvent   EntityKind = "event"
	KindPage    EntityKind = "page"
)

// Valid reports whether the kind is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindVisitor, KindSession, KindEvent, KindPage:
		return true
	}
	return false
}

// LinkKind names a relationship family between hubs.
type LinkKind string

const (
	LinkEventInSession    LinkKind = "event_in_session"
	LinkSessionForVisitor LinkKind = "session_for_visitor"
	LinkEventOnPage       LinkKind = "event_on_page"
)

// SatelliteKind names a family of descriptive snapshots attached to a hub or
// link. One owner key can carry several kinds, each with its own version chain.
type SatelliteKind string

const (
	SatSessionActivity SatelliteKind = "session_activity"
	SatEventDetail     SatelliteKind = "event_detail"
	SatPageInfo        SatelliteKind = "page_info"
	SatVisitorProfile  SatelliteKind = "visitor_profile"
)

// Valid reports whether the kind is one of the known satellite kinds.
func (k SatelliteKind) Valid() bool {
	switch k {
	case SatSessionActivity, SatEventDetail, SatPageInfo, SatVisitorProfile:
		return true
	}
	return false
}

// HashKeySize is the width of every hub and link identifier in bytes.
const HashKeySize = 32

// HashKey is the fixed-width deterministic identifier for hubs and links,
// derived from tenant scope, business key and entity kind. Two equal inputs
// always produce the same key; keys never cross tenant boundaries.
type HashKey [HashKeySize]byte

// String renders the key as lowercase hex, the form used in URLs and logs.
func (h HashKey) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns the raw key for storage drivers.
func (h HashKey) Bytes() []byte { return h[:] }

// IsZero reports whether the key is the all-zero value, which no derivation
// can produce.
func (h HashKey) IsZero() bool { return h == HashKey{} }

// Less imposes a total bytewise order, used to make link keys independent of
// participant declaration order.
func (h HashKey) Less(other HashKey) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// ParseHashKey decodes a lowercase hex key as produced by String.
func ParseHashKey(s string) (HashKey, error) {
	var key HashKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("parse hash key: %w", err)
	}
	if len(raw) != HashKeySize {
		return key, fmt.Errorf("parse hash key: want %d bytes, got %d", HashKeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// HashKeyFromBytes converts a raw column value back into a key.
func HashKeyFromBytes(raw []byte) (HashKey, error) {
	var key HashKey
	if len(raw) != HashKeySize {
		return key, fmt.Errorf("hash key from bytes: want %d bytes, got %d", HashKeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
