package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tributary/internal/pipeline/queue"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	audit "tributary/pkg/platform/audit"
	"tributary/pkg/platform/retry"
	"tributary/pkg/platform/sentinel"
)

// Notifier hands a landed row to the staging intake. Implemented by
// pipeline/queue; failures are logged, never returned, because the poll
// fallback guarantees eventual processing without the notification.
type Notifier interface {
	Push(ctx context.Context, msg queue.Message) error
}

// Service is the raw landing stage. Once Ingest returns success the row is
// durable and will eventually be seen by staging.
type Service struct {
	store    Store
	notifier Notifier
	sink     audit.Sink
	logger   *slog.Logger
	clock    func() time.Time
	policy   retry.Policy
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the stage logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRetryPolicy overrides the transient-storage retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// NewService builds the landing stage.
func NewService(store Store, notifier Notifier, sink audit.Sink, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("ingest: notifier is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("ingest: audit sink is required")
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		sink:     sink,
		logger:   slog.Default(),
		clock:    time.Now,
		policy:   retry.New(3),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest lands one payload verbatim. No business validation happens here;
// any structurally decodable document is accepted and judged later by
// staging. The only outright rejection is a missing tenant scope.
func (s *Service) Ingest(ctx context.Context, tenant domain.TenantID, payload document.Document, meta Metadata) (uuid.UUID, error) {
	if tenant.IsZero() {
		return uuid.Nil, fmt.Errorf("ingest: %w", sentinel.ErrTenantScope)
	}
	if payload == nil {
		return uuid.Nil, fmt.Errorf("ingest: nil payload")
	}

	batchID := meta.BatchID
	if batchID == uuid.Nil {
		batchID = uuid.New()
	}
	event := RawEvent{
		ID:          uuid.New(),
		Tenant:      tenant,
		BatchID:     batchID,
		Payload:     payload,
		SourceIP:    meta.SourceIP,
		AgentString: meta.AgentString,
		ReceivedAt:  s.clock().UTC(),
		Status:      StatusPending,
	}

	err := s.policy.Do(ctx, func() error {
		return s.store.Insert(ctx, event)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("land raw event: %w", err)
	}

	if err := s.sink.Emit(ctx, audit.Event{
		Tenant:       tenant,
		Action:       string(audit.EventRawReceived),
		ResourceType: "raw_event",
		ResourceID:   event.ID.String(),
		Actor:        meta.SourceIP,
		Details:      document.Document{"batch_id": batchID.String()},
	}); err != nil {
		s.logger.Warn("audit emit failed", "raw_id", event.ID, "error", err)
	}

	// Best-effort hand-off; the staging poller picks up anything this misses.
	if err := s.notifier.Push(ctx, queue.Message{ID: event.ID, Tenant: tenant}); err != nil {
		s.logger.Warn("staging hand-off notification failed",
			"raw_id", event.ID,
			"tenant", tenant,
			"error", err,
		)
	}
	return event.ID, nil
}

// Quarantined lists terminally failed rows for manual triage.
func (s *Service) Quarantined(ctx context.Context, tenant domain.TenantID, maxRetries, limit int) ([]RawEvent, error) {
	if tenant.IsZero() {
		return nil, fmt.Errorf("quarantined: %w", sentinel.ErrTenantScope)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListQuarantined(ctx, tenant, maxRetries, limit)
}
