//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tributary/internal/identity"
	"tributary/internal/vault"
	"tributary/internal/vault/store/postgres"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	auditmem "tributary/pkg/platform/audit/store/memory"
	"tributary/pkg/platform/audit/publisher"
	"tributary/pkg/platform/sentinel"
	"tributary/pkg/testutil/containers"
)

type VaultPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	engine   *vault.Engine
	tenant   domain.TenantID
}

func TestVaultPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(VaultPostgresSuite))
}

func (s *VaultPostgresSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.tenant = domain.TenantID("acme")

	engine, err := vault.NewEngine(s.store, publisher.NewPublisher(auditmem.NewInMemoryStore()))
	s.Require().NoError(err)
	s.engine = engine
}

func (s *VaultPostgresSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "satellites", "links", "hubs")
	s.Require().NoError(err)
}

func (s *VaultPostgresSuite) hub(businessKey string) vault.Hub {
	key, err := identity.Derive(s.tenant, businessKey, domain.KindVisitor)
	s.Require().NoError(err)
	return vault.Hub{
		Key:         key,
		Kind:        domain.KindVisitor,
		BusinessKey: businessKey,
		Tenant:      s.tenant,
		Origin:      "test",
	}
}

func (s *VaultPostgresSuite) TestHubInsertIsIdempotent() {
	ctx := context.Background()
	hub := s.hub("visitor-1")

	created, err := s.engine.CreateHubIfAbsent(ctx, hub, "worker")
	s.Require().NoError(err)
	s.True(created)

	created, err = s.engine.CreateHubIfAbsent(ctx, hub, "worker")
	s.Require().NoError(err)
	s.False(created)
}

func (s *VaultPostgresSuite) TestConcurrentHubCreationSingleWinner() {
	ctx := context.Background()
	hub := s.hub("visitor-contended")
	const goroutines = 20

	var wg sync.WaitGroup
	var createdCount atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.engine.CreateHubIfAbsent(ctx, hub, "worker")
			if err == nil && created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), createdCount.Load())
}

func (s *VaultPostgresSuite) TestLinkRoundTrip() {
	ctx := context.Background()
	a := s.hub("visitor-a")
	sessionKey, err := identity.Derive(s.tenant, "session-b", domain.KindSession)
	s.Require().NoError(err)
	b := vault.Hub{
		Key:         sessionKey,
		Kind:        domain.KindSession,
		BusinessKey: "session-b",
		Tenant:      s.tenant,
	}
	for _, h := range []vault.Hub{a, b} {
		_, err := s.engine.CreateHubIfAbsent(ctx, h, "worker")
		s.Require().NoError(err)
	}

	linkKey, err := identity.DeriveLinkKey(s.tenant, domain.LinkSessionForVisitor, a.Key, b.Key)
	s.Require().NoError(err)
	link := vault.Link{
		Key:          linkKey,
		Kind:         domain.LinkSessionForVisitor,
		Participants: []domain.HashKey{a.Key, b.Key},
		Tenant:       s.tenant,
	}
	created, err := s.engine.CreateLinkIfAbsent(ctx, link, "worker")
	s.Require().NoError(err)
	s.True(created)

	created, err = s.engine.CreateLinkIfAbsent(ctx, link, "worker")
	s.Require().NoError(err)
	s.False(created)
}

func (s *VaultPostgresSuite) TestUpsertSatelliteVersionChain() {
	ctx := context.Background()
	hub := s.hub("visitor-chain")
	_, err := s.engine.CreateHubIfAbsent(ctx, hub, "worker")
	s.Require().NoError(err)

	base := time.Now().UTC().Add(-time.Hour)
	wrote, err := s.engine.UpsertSatellite(ctx, s.tenant, hub.Key, domain.SatVisitorProfile,
		document.Document{"country": "NL"}, base, "worker")
	s.Require().NoError(err)
	s.True(wrote)

	// Unchanged payload is a no-op.
	wrote, err = s.engine.UpsertSatellite(ctx, s.tenant, hub.Key, domain.SatVisitorProfile,
		document.Document{"country": "NL"}, base.Add(time.Minute), "worker")
	s.Require().NoError(err)
	s.False(wrote)

	wrote, err = s.engine.UpsertSatellite(ctx, s.tenant, hub.Key, domain.SatVisitorProfile,
		document.Document{"country": "DE"}, base.Add(2*time.Minute), "worker")
	s.Require().NoError(err)
	s.True(wrote)

	page, err := s.engine.ReadHistory(ctx, s.tenant, hub.Key, domain.SatVisitorProfile, "", 10)
	s.Require().NoError(err)
	s.Require().Len(page.Versions, 2)

	first, second := page.Versions[0], page.Versions[1]
	s.Require().NotNil(first.EndTime)
	s.True(first.EndTime.Equal(second.LoadTime), "chain must stay contiguous")
	s.Nil(second.EndTime)

	current, err := s.engine.ReadCurrent(ctx, s.tenant, hub.Key, domain.SatVisitorProfile)
	s.Require().NoError(err)
	country, err := current.String("country")
	s.Require().NoError(err)
	s.Equal("DE", country)
}

func (s *VaultPostgresSuite) TestConcurrentUpsertsKeepOneOpenVersion() {
	ctx := context.Background()
	hub := s.hub("visitor-race")
	_, err := s.engine.CreateHubIfAbsent(ctx, hub, "worker")
	s.Require().NoError(err)

	const goroutines = 16
	var wg sync.WaitGroup
	base := time.Now().UTC()
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct payloads so every write supersedes; conflicts retry
			// inside the engine.
			_, _ = s.engine.UpsertSatellite(ctx, s.tenant, hub.Key, domain.SatVisitorProfile,
				document.Document{"visit_count": float64(i)}, base.Add(time.Duration(i)*time.Millisecond), "worker")
		}(i)
	}
	wg.Wait()

	var open int
	err = s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM satellites WHERE owner_key = $1 AND kind = $2 AND end_time IS NULL`,
		hub.Key.Bytes(), string(domain.SatVisitorProfile)).Scan(&open)
	s.Require().NoError(err)
	s.Equal(1, open, "partial unique index must hold under concurrency")
}

func (s *VaultPostgresSuite) TestCloseAndInsertRejectsStaleFingerprint() {
	ctx := context.Background()
	hub := s.hub("visitor-stale")
	_, err := s.engine.CreateHubIfAbsent(ctx, hub, "worker")
	s.Require().NoError(err)

	base := time.Now().UTC().Add(-time.Hour)
	_, err = s.engine.UpsertSatellite(ctx, s.tenant, hub.Key, domain.SatVisitorProfile,
		document.Document{"v": "1"}, base, "worker")
	s.Require().NoError(err)

	next := vault.SatelliteVersion{
		Owner:    hub.Key,
		Kind:     domain.SatVisitorProfile,
		Tenant:   s.tenant,
		LoadTime: base.Add(time.Minute),
		Payload:  document.Document{"v": "2"},
	}
	next.Fingerprint, err = vault.Fingerprint(next.Payload)
	s.Require().NoError(err)

	err = s.store.CloseAndInsert(ctx, "not-the-open-fingerprint", next)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	// The failed attempt must leave the chain untouched.
	page, err := s.engine.ReadHistory(ctx, s.tenant, hub.Key, domain.SatVisitorProfile, "", 10)
	s.Require().NoError(err)
	s.Len(page.Versions, 1)
}

func (s *VaultPostgresSuite) TestTenantScopedReads() {
	ctx := context.Background()
	hub := s.hub("visitor-scoped")
	_, err := s.engine.CreateHubIfAbsent(ctx, hub, "worker")
	s.Require().NoError(err)
	_, err = s.engine.UpsertSatellite(ctx, s.tenant, hub.Key, domain.SatVisitorProfile,
		document.Document{"country": "NL"}, time.Now().UTC(), "worker")
	s.Require().NoError(err)

	_, err = s.engine.ReadCurrent(ctx, domain.TenantID("other"), hub.Key, domain.SatVisitorProfile)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *VaultPostgresSuite) TestHistoryPagination() {
	ctx := context.Background()
	hub := s.hub("visitor-pages")
	_, err := s.engine.CreateHubIfAbsent(ctx, hub, "worker")
	s.Require().NoError(err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		wrote, err := s.engine.UpsertSatellite(ctx, s.tenant, hub.Key, domain.SatVisitorProfile,
			document.Document{"rev": float64(i)}, base.Add(time.Duration(i)*time.Minute), "worker")
		s.Require().NoError(err)
		s.Require().True(wrote)
	}

	page, err := s.engine.ReadHistory(ctx, s.tenant, hub.Key, domain.SatVisitorProfile, "", 2)
	s.Require().NoError(err)
	s.Len(page.Versions, 2)
	s.Require().NotEmpty(page.NextCursor)

	var seen int
	cursor := ""
	for {
		page, err := s.engine.ReadHistory(ctx, s.tenant, hub.Key, domain.SatVisitorProfile, cursor, 2)
		s.Require().NoError(err)
		seen += len(page.Versions)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	s.Equal(5, seen)
}
