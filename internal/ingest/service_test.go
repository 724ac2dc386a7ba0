package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tributary/internal/ingest"
	ingestmem "tributary/internal/ingest/store/memory"
	"tributary/internal/pipeline/queue"
	"tributary/pkg/document"
	audit "tributary/pkg/platform/audit"
	auditmem "tributary/pkg/platform/audit/store/memory"
	"tributary/pkg/platform/audit/publisher"
	"tributary/pkg/platform/retry"
	"tributary/pkg/platform/sentinel"
)

type captureNotifier struct {
	msgs []queue.Message
	err  error
}

func (n *captureNotifier) Push(_ context.Context, msg queue.Message) error {
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, msg)
	return nil
}

// flakyStore fails Insert with a transient error a fixed number of times.
type flakyStore struct {
	ingest.Store
	failures int
	inserts  int
}

func (f *flakyStore) Insert(ctx context.Context, event ingest.RawEvent) error {
	f.inserts++
	if f.failures > 0 {
		f.failures--
		return sentinel.ErrUnavailable
	}
	return f.Store.Insert(ctx, event)
}

type IngestSuite struct {
	suite.Suite

	now      time.Time
	store    *ingestmem.Store
	notifier *captureNotifier
	auditLog *auditmem.InMemoryStore
	svc      *ingest.Service
}

func TestIngestSuite(t *testing.T) {
	suite.Run(t, new(IngestSuite))
}

func (s *IngestSuite) SetupTest() {
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = ingestmem.New(ingestmem.WithClock(func() time.Time { return s.now }))
	s.notifier = &captureNotifier{}
	s.auditLog = auditmem.NewInMemoryStore()

	var err error
	s.svc, err = ingest.NewService(s.store, s.notifier, publisher.NewPublisher(s.auditLog),
		ingest.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *IngestSuite) TestIngestLandsVerbatim() {
	payload := document.Document{
		"type":    "page_view",
		"extra":   map[string]any{"nested": true},
		"session": "sess-1",
	}
	meta := ingest.Metadata{SourceIP: "203.0.113.9", AgentString: "curl/8.0"}

	id, err := s.svc.Ingest(context.Background(), "acme", payload, meta)
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, id)

	got, err := s.store.Get(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(ingest.StatusPending, got.Status)
	s.Equal(payload, got.Payload)
	s.Equal("203.0.113.9", got.SourceIP)
	s.Equal("curl/8.0", got.AgentString)
	s.NotEqual(uuid.Nil, got.BatchID)
	s.True(got.ReceivedAt.Equal(s.now))

	s.Require().Len(s.notifier.msgs, 1)
	s.Equal(id, s.notifier.msgs[0].ID)

	events, err := s.auditLog.ListByTenant(context.Background(), "acme")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventRawReceived), events[0].Action)
	s.Equal("203.0.113.9", events[0].Actor)
}

func (s *IngestSuite) TestIngestKeepsProducerBatchID() {
	batch := uuid.New()
	id, err := s.svc.Ingest(context.Background(), "acme",
		document.Document{"type": "click"}, ingest.Metadata{BatchID: batch})
	s.Require().NoError(err)

	got, err := s.store.Get(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(batch, got.BatchID)
}

func (s *IngestSuite) TestIngestRejectsMissingTenant() {
	_, err := s.svc.Ingest(context.Background(), "", document.Document{"type": "click"}, ingest.Metadata{})
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrTenantScope))
}

func (s *IngestSuite) TestIngestRejectsNilPayload() {
	_, err := s.svc.Ingest(context.Background(), "acme", nil, ingest.Metadata{})
	s.Require().Error(err)
}

func (s *IngestSuite) TestIngestRetriesTransientStorageFailure() {
	flaky := &flakyStore{Store: s.store, failures: 2}
	svc, err := ingest.NewService(flaky, s.notifier, publisher.NewPublisher(s.auditLog),
		ingest.WithRetryPolicy(retry.New(3, retry.WithIntervals(time.Millisecond, 10*time.Millisecond))),
	)
	s.Require().NoError(err)

	id, err := svc.Ingest(context.Background(), "acme", document.Document{"type": "click"}, ingest.Metadata{})
	s.Require().NoError(err)
	s.Equal(3, flaky.inserts)

	got, err := s.store.Get(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(ingest.StatusPending, got.Status)
}

func (s *IngestSuite) TestIngestGivesUpAfterBudget() {
	flaky := &flakyStore{Store: s.store, failures: 10}
	svc, err := ingest.NewService(flaky, s.notifier, publisher.NewPublisher(s.auditLog),
		ingest.WithRetryPolicy(retry.New(3, retry.WithIntervals(time.Millisecond, 10*time.Millisecond))),
	)
	s.Require().NoError(err)

	_, err = svc.Ingest(context.Background(), "acme", document.Document{"type": "click"}, ingest.Metadata{})
	s.Require().Error(err)
	s.Equal(3, flaky.inserts)
	s.Empty(s.notifier.msgs)
}

func (s *IngestSuite) TestNotifierFailureStillAccepts() {
	s.notifier.err = errors.New("redis down")

	id, err := s.svc.Ingest(context.Background(), "acme", document.Document{"type": "click"}, ingest.Metadata{})
	s.Require().NoError(err)

	got, err := s.store.Get(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(ingest.StatusPending, got.Status)
}

func (s *IngestSuite) TestQuarantinedListsExhaustedRows() {
	raw := ingest.RawEvent{
		ID:      uuid.New(),
		Tenant:  "acme",
		Payload: document.Document{"type": "click"},
		Status:  ingest.StatusError,
	}
	s.Require().NoError(s.store.Insert(context.Background(), raw))
	// Drive the retry count past the budget.
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.store.MarkError(context.Background(), raw.ID, "validator crashed"))
	}

	rows, err := s.svc.Quarantined(context.Background(), "acme", 5, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(raw.ID, rows[0].ID)
	s.Equal("validator crashed", rows[0].LastError)

	_, err = s.svc.Quarantined(context.Background(), "", 5, 10)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrTenantScope))
}
