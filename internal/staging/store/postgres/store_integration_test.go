//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tributary/internal/staging"
	"tributary/internal/staging/store/postgres"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
	"tributary/pkg/testutil/containers"
)

type StagingStorePostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	tenant   domain.TenantID
}

func TestStagingStorePostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StagingStorePostgresSuite))
}

func (s *StagingStorePostgresSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.tenant = domain.TenantID("acme")
}

func (s *StagingStorePostgresSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "staging_events")
	s.Require().NoError(err)
}

func (s *StagingStorePostgresSuite) insertEvent(status staging.ValidationStatus, createdAt time.Time) staging.Event {
	event := staging.Event{
		ID:           uuid.New(),
		RawID:        uuid.New(),
		Tenant:       s.tenant,
		EventType:    "pageview",
		OccurredAt:   createdAt.Add(-time.Second),
		SessionRef:   "sess-1",
		VisitorRef:   "vis-1",
		PageURL:      "https://example.com/pricing",
		DeviceClass:  "desktop",
		AgentFamily:  "Chrome",
		Payload:      document.Document{"type": "pageview"},
		Status:       status,
		QualityScore: 1.0,
		CreatedAt:    createdAt,
	}
	if status == staging.StatusInvalid {
		event.QualityScore = 0.3
		event.Errors = []staging.ValidationError{{
			Class:   staging.ClassStructural,
			Field:   "type",
			Message: "missing event type",
		}}
	}
	s.Require().NoError(s.store.Insert(context.Background(), event))
	return event
}

func (s *StagingStorePostgresSuite) TestInsertGetRoundTrip() {
	ctx := context.Background()
	event := s.insertEvent(staging.StatusInvalid, time.Now().UTC())

	got, err := s.store.Get(ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(event.ID, got.ID)
	s.Equal(event.RawID, got.RawID)
	s.Equal(s.tenant, got.Tenant)
	s.Equal(staging.StatusInvalid, got.Status)
	s.InDelta(0.3, got.QualityScore, 1e-9)
	s.Require().Len(got.Errors, 1)
	s.Equal(staging.ClassStructural, got.Errors[0].Class)
	s.False(got.Conformed)
	s.WithinDuration(event.OccurredAt, got.OccurredAt, time.Millisecond)

	_, err = s.store.Get(ctx, uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StagingStorePostgresSuite) TestMarkConformed() {
	ctx := context.Background()
	event := s.insertEvent(staging.StatusValid, time.Now().UTC())

	s.Require().NoError(s.store.MarkConformed(ctx, event.ID))

	got, err := s.store.Get(ctx, event.ID)
	s.Require().NoError(err)
	s.True(got.Conformed)

	err = s.store.MarkConformed(ctx, uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StagingStorePostgresSuite) TestListUnconformedFilters() {
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)

	valid := s.insertEvent(staging.StatusValid, old)
	suspicious := s.insertEvent(staging.StatusSuspicious, old)
	s.insertEvent(staging.StatusInvalid, old)
	conformed := s.insertEvent(staging.StatusValid, old)
	s.Require().NoError(s.store.MarkConformed(ctx, conformed.ID))
	s.insertEvent(staging.StatusValid, time.Now().UTC()) // too fresh

	ids, err := s.store.ListUnconformed(ctx, 5*time.Minute, 100)
	s.Require().NoError(err)
	s.ElementsMatch([]uuid.UUID{valid.ID, suspicious.ID}, ids)
}

func (s *StagingStorePostgresSuite) TestListUnconformedHonorsLimit() {
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		s.insertEvent(staging.StatusValid, old.Add(time.Duration(i)*time.Second))
	}

	ids, err := s.store.ListUnconformed(ctx, 5*time.Minute, 3)
	s.Require().NoError(err)
	s.Len(ids, 3)
}

func (s *StagingStorePostgresSuite) TestCountByStatusScopesTenantAndWindow() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.insertEvent(staging.StatusValid, now)
	s.insertEvent(staging.StatusValid, now)
	s.insertEvent(staging.StatusInvalid, now)
	s.insertEvent(staging.StatusValid, now.Add(-48*time.Hour))

	other := staging.Event{
		ID:        uuid.New(),
		RawID:     uuid.New(),
		Tenant:    domain.TenantID("other"),
		Payload:   document.Document{},
		Status:    staging.StatusValid,
		CreatedAt: now,
	}
	s.Require().NoError(s.store.Insert(ctx, other))

	counts, err := s.store.CountByStatus(ctx, s.tenant, 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(2, counts[staging.StatusValid])
	s.Equal(1, counts[staging.StatusInvalid])
}
