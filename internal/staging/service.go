package staging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tributary/internal/ingest"
	"tributary/internal/pipeline/queue"
	"tributary/pkg/document"
	audit "tributary/pkg/platform/audit"
	"tributary/pkg/platform/tx"
)

// Notifier hands a forwardable staging row to the business intake.
type Notifier interface {
	Push(ctx context.Context, msg queue.Message) error
}

// Config tunes the stage.
type Config struct {
	// QualityThreshold is the minimum score for VALID.
	QualityThreshold float64
	// ClockSkew tolerates producer clocks running ahead.
	ClockSkew time.Duration
	// MaxRetries is the raw event retry budget before quarantine.
	MaxRetries int
}

// DefaultConfig matches the documented stage defaults.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: 0.7,
		ClockSkew:        5 * time.Minute,
		MaxRetries:       5,
	}
}

// Service is the staging stage. One Process call owns one raw row from
// claim to terminal status.
type Service struct {
	raws     ingest.Store
	store    Store
	runner   tx.Runner
	notifier Notifier
	sink     audit.Sink
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time
	tracer   trace.Tracer
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

// NewService builds the staging stage.
func NewService(raws ingest.Store, store Store, runner tx.Runner, notifier Notifier, sink audit.Sink, cfg Config, opts ...Option) (*Service, error) {
	if raws == nil {
		return nil, fmt.Errorf("staging: raw store is required")
	}
	if store == nil {
		return nil, fmt.Errorf("staging: store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("staging: tx runner is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("staging: notifier is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("staging: audit sink is required")
	}
	if cfg.QualityThreshold <= 0 {
		cfg = DefaultConfig()
	}
	s := &Service{
		raws:     raws,
		store:    store,
		runner:   runner,
		notifier: notifier,
		sink:     sink,
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    time.Now,
		tracer:   otel.Tracer("tributary/staging"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process claims a PENDING raw row and runs it through validation,
// enrichment and scoring. Returns (nil, nil) when the row was skipped:
// already terminal, claimed by another worker, or past its retry budget.
func (s *Service) Process(ctx context.Context, rawID uuid.UUID) (*Event, error) {
	return s.process(ctx, rawID, true)
}

// ProcessClaimed is the poll-fallback entry point: the caller already
// transitioned the row to PROCESSING via ClaimStale or ClaimRetryable.
func (s *Service) ProcessClaimed(ctx context.Context, rawID uuid.UUID) (*Event, error) {
	return s.process(ctx, rawID, false)
}

func (s *Service) process(ctx context.Context, rawID uuid.UUID, claim bool) (_ *Event, err error) {
	ctx, span := s.tracer.Start(ctx, "staging.Process",
		trace.WithAttributes(attribute.String("raw_id", rawID.String())))
	defer span.End()

	raw, err := s.raws.Get(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("load raw event: %w", err)
	}

	// Idempotent re-delivery guard.
	if raw.Status == ingest.StatusProcessed {
		return nil, nil
	}
	if raw.Status == ingest.StatusError && raw.RetryCount >= s.cfg.MaxRetries {
		return nil, nil
	}

	if claim {
		claimed, err := s.raws.Claim(ctx, rawID)
		if err != nil {
			return nil, fmt.Errorf("claim raw event: %w", err)
		}
		if !claimed {
			// Another worker owns the row.
			return nil, nil
		}
	}

	event := s.build(raw)

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, event); err != nil {
			return fmt.Errorf("insert staging event: %w", err)
		}
		// Invalidity is a quality result: the raw row still completed the
		// stage successfully.
		if err := s.raws.MarkProcessed(ctx, rawID); err != nil {
			return fmt.Errorf("mark raw processed: %w", err)
		}
		return s.sink.Emit(ctx, audit.Event{
			Tenant:       raw.Tenant,
			Action:       string(audit.EventRawProcessed),
			ResourceType: "raw_event",
			ResourceID:   rawID.String(),
			Actor:        "staging",
			Details: document.Document{
				"staging_id": event.ID.String(),
				"status":     string(event.Status),
				"score":      event.QualityScore,
			},
		})
	})
	if err != nil {
		s.fail(ctx, raw, err)
		return nil, err
	}

	if event.Status == StatusInvalid {
		s.emitBestEffort(ctx, audit.Event{
			Tenant:       raw.Tenant,
			Action:       string(audit.EventStagingInvalid),
			ResourceType: "staging_event",
			ResourceID:   event.ID.String(),
			Actor:        "staging",
			Details:      document.Document{"errors": float64(len(event.Errors))},
		})
		// Not forwarded; stays queryable for diagnostics.
		return &event, nil
	}

	if err := s.notifier.Push(ctx, queue.Message{ID: event.ID, Tenant: event.Tenant}); err != nil {
		// Conformance polls for unconformed rows, so this only delays.
		s.logger.Warn("business hand-off notification failed",
			"staging_id", event.ID,
			"error", err,
		)
	}
	return &event, nil
}

// build runs steps 3-7: validation, enrichment, scoring, status.
func (s *Service) build(raw ingest.RawEvent) Event {
	v := &validator{
		doc:       raw.Payload,
		clockSkew: s.cfg.ClockSkew,
		now:       s.clock().UTC(),
	}
	eventType, occurredAt, sessionRef, visitorRef, pageURL := v.run()
	enriched := enrichAgent(raw.AgentString)

	qualityScore := score(v.findings)
	return Event{
		ID:           uuid.New(),
		RawID:        raw.ID,
		Tenant:       raw.Tenant,
		EventType:    eventType,
		OccurredAt:   occurredAt,
		SessionRef:   sessionRef,
		VisitorRef:   visitorRef,
		PageURL:      pageURL,
		DeviceClass:  enriched.DeviceClass,
		AgentFamily:  enriched.AgentFamily,
		Payload:      raw.Payload,
		Status:       statusFor(v.findings, qualityScore, s.cfg.QualityThreshold),
		QualityScore: qualityScore,
		Errors:       v.findings,
		CreatedAt:    s.clock().UTC(),
	}
}

// fail records the processing failure on the raw row and audits the
// quarantine transition when the retry budget just ran out.
func (s *Service) fail(ctx context.Context, raw ingest.RawEvent, cause error) {
	if err := s.raws.MarkError(ctx, raw.ID, cause.Error()); err != nil {
		s.logger.Error("mark raw event error failed", "raw_id", raw.ID, "error", err)
		return
	}
	if raw.RetryCount+1 >= s.cfg.MaxRetries {
		s.emitBestEffort(ctx, audit.Event{
			Tenant:       raw.Tenant,
			Action:       string(audit.EventRawQuarantined),
			ResourceType: "raw_event",
			ResourceID:   raw.ID.String(),
			Actor:        "staging",
			Details:      document.Document{"error": cause.Error(), "retries": float64(raw.RetryCount + 1)},
		})
	}
}

func (s *Service) emitBestEffort(ctx context.Context, event audit.Event) {
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", event.Action, "error", err)
	}
}
