package identity

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tributary/pkg/domain"
)

func TestDerive_Deterministic(t *testing.T) {
	a, err := Derive("tenant-1", "S1", domain.KindSession)
	require.NoError(t, err)
	b, err := Derive("tenant-1", "S1", domain.KindSession)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestDerive_TenantSeparation(t *testing.T) {
	a, err := Derive("tenant-1", "S1", domain.KindSession)
	require.NoError(t, err)
	b, err := Derive("tenant-2", "S1", domain.KindSession)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDerive_KindSeparation(t *testing.T) {
	a, err := Derive("tenant-1", "X", domain.KindSession)
	require.NoError(t, err)
	b, err := Derive("tenant-1", "X", domain.KindVisitor)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDerive_NoBoundaryConfusion(t *testing.T) {
	// The length prefix keeps shifted boundaries apart even when the
	// concatenated bytes are identical.
	a, err := Derive("ten", "antS1", domain.KindSession)
	require.NoError(t, err)
	b, err := Derive("tena", "ntS1", domain.KindSession)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDerive_RejectsEmptyInputs(t *testing.T) {
	_, err := Derive("", "S1", domain.KindSession)
	require.Error(t, err)

	_, err = Derive("tenant-1", "", domain.KindSession)
	require.Error(t, err)

	_, err = Derive("tenant-1", "S1", domain.EntityKind("galaxy"))
	require.Error(t, err)
}

func TestDeriveLinkKey_OrderIndependent(t *testing.T) {
	session, err := Derive("tenant-1", "S1", domain.KindSession)
	require.NoError(t, err)
	event, err := Derive("tenant-1", "E1", domain.KindEvent)
	require.NoError(t, err)

	ab, err := DeriveLinkKey("tenant-1", domain.LinkEventInSession, event, session)
	require.NoError(t, err)
	ba, err := DeriveLinkKey("tenant-1", domain.LinkEventInSession, session, event)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestDeriveLinkKey_KindSeparation(t *testing.T) {
	a, err := Derive("tenant-1", "A", domain.KindSession)
	require.NoError(t, err)
	b, err := Derive("tenant-1", "B", domain.KindVisitor)
	require.NoError(t, err)

	x, err := DeriveLinkKey("tenant-1", domain.LinkSessionForVisitor, a, b)
	require.NoError(t, err)
	y, err := DeriveLinkKey("tenant-1", domain.LinkEventInSession, a, b)
	require.NoError(t, err)
	assert.NotEqual(t, x, y)
}

func TestDeriveLinkKey_RejectsBadInputs(t *testing.T) {
	a, err := Derive("tenant-1", "A", domain.KindSession)
	require.NoError(t, err)

	_, err = DeriveLinkKey("tenant-1", domain.LinkEventInSession, a)
	require.Error(t, err)

	_, err = DeriveLinkKey("", domain.LinkEventInSession, a, a)
	require.Error(t, err)

	_, err = DeriveLinkKey("tenant-1", domain.LinkEventInSession, a, domain.HashKey{})
	require.Error(t, err)
}

func TestDeriveProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	nonEmpty := gen.AlphaString().SuchThat(func(s string) bool { return s != "" })

	properties.Property("same inputs give same key", prop.ForAll(
		func(tenant, key string) bool {
			a, err1 := Derive(domain.TenantID(tenant), key, domain.KindEvent)
			b, err2 := Derive(domain.TenantID(tenant), key, domain.KindEvent)
			return err1 == nil && err2 == nil && a == b
		},
		nonEmpty, nonEmpty,
	))

	properties.Property("different tenants never share a key", prop.ForAll(
		func(tenantA, tenantB, key string) bool {
			if tenantA == tenantB {
				return true
			}
			a, err1 := Derive(domain.TenantID(tenantA), key, domain.KindEvent)
			b, err2 := Derive(domain.TenantID(tenantB), key, domain.KindEvent)
			return err1 == nil && err2 == nil && a != b
		},
		nonEmpty, nonEmpty, nonEmpty,
	))

	properties.Property("link key ignores participant order", prop.ForAll(
		func(keyA, keyB string) bool {
			a, err1 := Derive("tenant-p", keyA, domain.KindSession)
			b, err2 := Derive("tenant-p", keyB, domain.KindEvent)
			if err1 != nil || err2 != nil {
				return false
			}
			x, err3 := DeriveLinkKey("tenant-p", domain.LinkEventInSession, a, b)
			y, err4 := DeriveLinkKey("tenant-p", domain.LinkEventInSession, b, a)
			return err3 == nil && err4 == nil && x == y
		},
		nonEmpty, nonEmpty,
	))

	properties.TestingRun(t)
}
