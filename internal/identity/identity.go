// Package identity derives the deterministic hash keys that name every hub
// and link. Derivation is a pure function of (tenant, business key, kind):
// no lookups, no side effects, so any stage can recompute a key and land on
// the same row.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"tributary/pkg/domain"
)

// Domain separation tags. Bump the version suffix if the encoding ever
// changes; old and new keys must never alias.
const (
	hubTag  = "tributary/hub/v1"
	linkTag = "tributary/link/v1"
)

// Derive computes the hash key for one business entity within a tenant.
// Every part is length-prefixed before digesting, so no two input triples
// share an encoding: ("ab","c") and ("a","bc") digest differently, and equal
// business keys under different tenants never collide.
func Derive(tenant domain.TenantID, businessKey string, kind domain.EntityKind) (domain.HashKey, error) {
	var key domain.HashKey
	if tenant.IsZero() {
		return key, fmt.Errorf("derive: empty tenant scope")
	}
	if businessKey == "" {
		return key, fmt.Errorf("derive: empty business key")
	}
	if !kind.Valid() {
		return key, fmt.Errorf("derive: unknown entity kind %q", kind)
	}

	h := sha256.New()
	writePart(h, []byte(hubTag))
	writePart(h, []byte(tenant))
	writePart(h, []byte(kind))
	writePart(h, []byte(businessKey))
	h.Sum(key[:0])
	return key, nil
}

// DeriveLinkKey computes the composite key for a relationship between two or
// more hubs. Participant keys are sorted before digesting so the relationship
// between A and B has one key regardless of declaration order. The link kind
// participates so distinct relationship families between the same hubs get
// distinct keys.
func DeriveLinkKey(tenant domain.TenantID, kind domain.LinkKind, participants ...domain.HashKey) (domain.HashKey, error) {
	var key domain.HashKey
	if tenant.IsZero() {
		return key, fmt.Errorf("derive link: empty tenant scope")
	}
	if kind == "" {
		return key, fmt.Errorf("derive link: empty link kind")
	}
	if len(participants) < 2 {
		return key, fmt.Errorf("derive link: need at least 2 participants, got %d", len(participants))
	}
	for _, p := range participants {
		if p.IsZero() {
			return key, fmt.Errorf("derive link: zero participant key")
		}
	}

	sorted := make([]domain.HashKey, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	h := sha256.New()
	writePart(h, []byte(linkTag))
	writePart(h, []byte(tenant))
	writePart(h, []byte(kind))
	for _, p := range sorted {
		writePart(h, p.Bytes())
	}
	h.Sum(key[:0])
	return key, nil
}

func writePart(h interface{ Write([]byte) (int, error) }, part []byte) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(part)))
	_, _ = h.Write(prefix[:])
	_, _ = h.Write(part)
}
