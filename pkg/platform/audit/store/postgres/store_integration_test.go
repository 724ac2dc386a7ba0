//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tributary/pkg/document"
	"tributary/pkg/domain"
	audit "tributary/pkg/platform/audit"
	"tributary/pkg/platform/audit/store/postgres"
	txcontext "tributary/pkg/platform/tx"
	"tributary/pkg/testutil/containers"
)

type OutboxPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	tenant   domain.TenantID
}

func TestOutboxPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxPostgresSuite))
}

func (s *OutboxPostgresSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.tenant = domain.TenantID("acme")
}

func (s *OutboxPostgresSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_outbox")
	s.Require().NoError(err)
}

func (s *OutboxPostgresSuite) event(action audit.AuditEvent) audit.Event {
	return audit.Event{
		Timestamp:    time.Now().UTC(),
		Tenant:       s.tenant,
		Action:       string(action),
		ResourceType: "satellite",
		ResourceID:   "abc123",
		Actor:        "worker",
		Details:      document.Document{"kind": "visitor_profile"},
	}
}

func (s *OutboxPostgresSuite) TestAppendAndListByTenant() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.event(audit.EventSatelliteVersion)))

	events, err := s.store.ListByTenant(ctx, s.tenant)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventSatelliteVersion), events[0].Action)
	s.Equal(audit.CategoryLineage, events[0].Category)
	s.Equal("worker", events[0].Actor)

	events, err = s.store.ListByTenant(ctx, domain.TenantID("other"))
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *OutboxPostgresSuite) TestAppendJoinsTransaction() {
	ctx := context.Background()

	// Rolled back: the audit row must vanish with the work it described.
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	err = s.store.Append(txcontext.WithTx(ctx, tx), s.event(audit.EventHubCreated))
	s.Require().NoError(err)
	s.Require().NoError(tx.Rollback())

	entries, err := s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Empty(entries)

	// Committed: the audit row becomes visible to the relay.
	tx, err = s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	err = s.store.Append(txcontext.WithTx(ctx, tx), s.event(audit.EventHubCreated))
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())

	entries, err = s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *OutboxPostgresSuite) TestMarkPublishedHidesEntries() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.event(audit.EventRawReceived)))
	s.Require().NoError(s.store.Append(ctx, s.event(audit.EventRawProcessed)))

	entries, err := s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)

	s.Require().NoError(s.store.MarkPublished(ctx, []uuid.UUID{entries[0].ID}))

	remaining, err := s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(remaining, 1)
	s.Equal(entries[1].ID, remaining[0].ID)

	// Re-marking is harmless.
	s.Require().NoError(s.store.MarkPublished(ctx, []uuid.UUID{entries[0].ID}))
}
