package domain_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tributary/pkg/domain"
)

func randomKey(t *testing.T) domain.HashKey {
	t.Helper()
	var key domain.HashKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return key
}

func TestHashKeyStringParseRoundTrip(t *testing.T) {
	key := randomKey(t)

	parsed, err := domain.ParseHashKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestParseHashKeyRejectsBadInput(t *testing.T) {
	_, err := domain.ParseHashKey("not-hex")
	assert.Error(t, err)

	_, err = domain.ParseHashKey("abcd")
	assert.Error(t, err, "short input must be rejected")
}

func TestHashKeyFromBytes(t *testing.T) {
	key := randomKey(t)

	got, err := domain.HashKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = domain.HashKeyFromBytes(key.Bytes()[:16])
	assert.Error(t, err)
}

func TestHashKeyZero(t *testing.T) {
	var zero domain.HashKey
	assert.True(t, zero.IsZero())
	assert.False(t, randomKey(t).IsZero())
}

func TestHashKeyLessIsTotalOrder(t *testing.T) {
	a := randomKey(t)
	b := randomKey(t)
	if a == b {
		t.Skip("collision in random keys")
	}
	assert.NotEqual(t, a.Less(b), b.Less(a))
	assert.False(t, a.Less(a))
}

func TestEntityKindValid(t *testing.T) {
	for _, kind := range []domain.EntityKind{domain.KindVisitor, domain.KindSession, domain.KindEvent, domain.KindPage} {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, domain.EntityKind("order").Valid())
	assert.False(t, domain.EntityKind("").Valid())
}

func TestSatelliteKindValid(t *testing.T) {
	for _, kind := range []domain.SatelliteKind{domain.SatSessionActivity, domain.SatEventDetail, domain.SatPageInfo, domain.SatVisitorProfile} {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, domain.SatelliteKind("order_detail").Valid())
}

func TestTenantIDZero(t *testing.T) {
	assert.True(t, domain.TenantID("").IsZero())
	assert.False(t, domain.TenantID("acme").IsZero())
}
