package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tributary/pkg/domain"
	audit "tributary/pkg/platform/audit"
	"tributary/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	event := audit.Event{
		Tenant:       domain.TenantID("t-1"),
		Action:       string(audit.EventHubCreated),
		ResourceType: "hub",
		ResourceID:   "abc",
		Actor:        "pipeline",
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), domain.TenantID("t-1"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventHubCreated), events[0].Action)
	assert.Equal(t, audit.CategoryLineage, events[0].Category)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))

	event := audit.Event{
		Tenant: domain.TenantID("t-2"),
		Action: string(audit.EventRawQuarantined),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	// Close drains the buffer before returning.
	pub.Close()

	events, err := pub.List(context.Background(), domain.TenantID("t-2"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryQuality, events[0].Category)
}

func TestPublisher_AsyncFullBufferFallsBackToSync(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	tenant := domain.TenantID("t-3")
	for i := 0; i < 20; i++ {
		err := pub.Emit(context.Background(), audit.Event{
			Tenant: tenant,
			Action: string(audit.EventRawProcessed),
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		events, err := pub.List(context.Background(), tenant)
		return err == nil && len(events) == 20
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventCategories(t *testing.T) {
	assert.Equal(t, audit.CategoryLineage, audit.EventSatelliteVersion.Category())
	assert.Equal(t, audit.CategoryQuality, audit.EventStagingInvalid.Category())
	assert.Equal(t, audit.CategoryOperations, audit.AuditEvent("something_else").Category())
}
