// Package business is the conformance stage. It maps validated staging
// events onto the temporal entity store: hubs for the entities an event
// mentions, links for the relationships among them, satellite versions for
// their descriptive payloads. Conformance is deterministic, so replaying an
// event lands on the same keys and writes nothing new.
package business

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tributary/internal/identity"
	"tributary/internal/staging"
	"tributary/internal/vault"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	audit "tributary/pkg/platform/audit"
	"tributary/pkg/platform/sentinel"
	"tributary/pkg/platform/tx"
)

// originConformance marks rows first sighted by this stage.
const originConformance = "conformance"

// Vault is the slice of the temporal store engine conformance writes through.
type Vault interface {
	CreateHubIfAbsent(ctx context.Context, hub vault.Hub, actor string) (bool, error)
	CreateLinkIfAbsent(ctx context.Context, link vault.Link, actor string) (bool, error)
	UpsertSatellite(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind, payload document.Document, asOf time.Time, actor string) (bool, error)
}

// Result reports what one Conform call touched. Zero keys mean the event did
// not mention that entity; Skipped means the row was already conformed.
type Result struct {
	StagingID  uuid.UUID
	EventKey   domain.HashKey
	SessionKey domain.HashKey
	VisitorKey domain.HashKey
	PageKey    domain.HashKey

	HubsCreated  int
	LinksCreated int
	Versions     int
	Skipped      bool
}

// Service is the conformance stage.
type Service struct {
	store  staging.Store
	vault  Vault
	runner tx.Runner
	sink   audit.Sink
	logger *slog.Logger
	tracer trace.Tracer
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

// NewService builds the conformance stage.
func NewService(store staging.Store, v Vault, runner tx.Runner, sink audit.Sink, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("business: staging store is required")
	}
	if v == nil {
		return nil, fmt.Errorf("business: vault is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("business: tx runner is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("business: audit sink is required")
	}
	s := &Service{
		store:  store,
		vault:  v,
		runner: runner,
		sink:   sink,
		logger: slog.Default(),
		tracer: otel.Tracer("tributary/business"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Conform maps one staging event onto the entity store. All writes plus the
// conformed flag commit in one transaction; re-delivering a conformed row is
// a no-op, and re-delivering an unconformed duplicate only re-runs idempotent
// writes. INVALID rows are never conformed.
func (s *Service) Conform(ctx context.Context, stagingID uuid.UUID) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "business.Conform",
		trace.WithAttributes(attribute.String("staging_id", stagingID.String())))
	defer span.End()

	event, err := s.store.Get(ctx, stagingID)
	if err != nil {
		return Result{}, fmt.Errorf("load staging event: %w", err)
	}
	if !event.Forwardable() {
		return Result{}, fmt.Errorf("conform staging event %s with status %s: %w",
			stagingID, event.Status, sentinel.ErrInvalidState)
	}
	if event.Conformed {
		return Result{StagingID: stagingID, Skipped: true}, nil
	}

	keys, err := deriveKeys(event)
	if err != nil {
		return Result{}, fmt.Errorf("derive entity keys: %w", err)
	}

	result := Result{
		StagingID:  stagingID,
		EventKey:   keys.event,
		SessionKey: keys.session,
		VisitorKey: keys.visitor,
		PageKey:    keys.page,
	}

	asOf := event.OccurredAt
	if asOf.IsZero() {
		asOf = event.CreatedAt
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.writeHubs(ctx, event, keys, &result); err != nil {
			return err
		}
		if err := s.writeLinks(ctx, event, keys, &result); err != nil {
			return err
		}
		if err := s.writeSatellites(ctx, event, keys, asOf, &result); err != nil {
			return err
		}
		if err := s.store.MarkConformed(ctx, stagingID); err != nil {
			return fmt.Errorf("mark conformed: %w", err)
		}
		return s.sink.Emit(ctx, audit.Event{
			Tenant:       event.Tenant,
			Action:       string(audit.EventStagingConformed),
			ResourceType: "staging_event",
			ResourceID:   stagingID.String(),
			Actor:        originConformance,
			Details: document.Document{
				"event_key":     keys.event.String(),
				"hubs_created":  float64(result.HubsCreated),
				"links_created": float64(result.LinksCreated),
				"versions":      float64(result.Versions),
			},
		})
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// entityKeys is the per-event key set. session and event are always present
// for a forwardable row; visitor and page stay zero when the event did not
// mention them.
type entityKeys struct {
	event   domain.HashKey
	session domain.HashKey
	visitor domain.HashKey
	page    domain.HashKey
}

// deriveKeys computes every hash key the event maps to. The event hub is
// keyed by the raw event id: one raw delivery is one business event, and a
// correction row for the same raw lands on the same hub.
func deriveKeys(event staging.Event) (entityKeys, error) {
	var keys entityKeys
	var err error

	keys.event, err = identity.Derive(event.Tenant, event.RawID.String(), domain.KindEvent)
	if err != nil {
		return keys, err
	}
	keys.session, err = identity.Derive(event.Tenant, event.SessionRef, domain.KindSession)
	if err != nil {
		return keys, err
	}
	if event.VisitorRef != "" {
		keys.visitor, err = identity.Derive(event.Tenant, event.VisitorRef, domain.KindVisitor)
		if err != nil {
			return keys, err
		}
	}
	if event.PageURL != "" {
		keys.page, err = identity.Derive(event.Tenant, event.PageURL, domain.KindPage)
		if err != nil {
			return keys, err
		}
	}
	return keys, nil
}

func (s *Service) writeHubs(ctx context.Context, event staging.Event, keys entityKeys, result *Result) error {
	hubs := []vault.Hub{
		{Key: keys.event, Kind: domain.KindEvent, BusinessKey: event.RawID.String(), Tenant: event.Tenant, Origin: originConformance},
		{Key: keys.session, Kind: domain.KindSession, BusinessKey: event.SessionRef, Tenant: event.Tenant, Origin: originConformance},
	}
	if !keys.visitor.IsZero() {
		hubs = append(hubs, vault.Hub{Key: keys.visitor, Kind: domain.KindVisitor, BusinessKey: event.VisitorRef, Tenant: event.Tenant, Origin: originConformance})
	}
	if !keys.page.IsZero() {
		hubs = append(hubs, vault.Hub{Key: keys.page, Kind: domain.KindPage, BusinessKey: event.PageURL, Tenant: event.Tenant, Origin: originConformance})
	}

	for _, hub := range hubs {
		created, err := s.vault.CreateHubIfAbsent(ctx, hub, originConformance)
		if err != nil {
			return fmt.Errorf("create %s hub: %w", hub.Kind, err)
		}
		if created {
			result.HubsCreated++
		}
	}
	return nil
}

func (s *Service) writeLinks(ctx context.Context, event staging.Event, keys entityKeys, result *Result) error {
	type linkSpec struct {
		kind         domain.LinkKind
		participants []domain.HashKey
	}
	specs := []linkSpec{
		{domain.LinkEventInSession, []domain.HashKey{keys.event, keys.session}},
	}
	if !keys.visitor.IsZero() {
		specs = append(specs, linkSpec{domain.LinkSessionForVisitor, []domain.HashKey{keys.session, keys.visitor}})
	}
	if !keys.page.IsZero() {
		specs = append(specs, linkSpec{domain.LinkEventOnPage, []domain.HashKey{keys.event, keys.page}})
	}

	for _, spec := range specs {
		key, err := identity.DeriveLinkKey(event.Tenant, spec.kind, spec.participants...)
		if err != nil {
			return fmt.Errorf("derive %s link key: %w", spec.kind, err)
		}
		created, err := s.vault.CreateLinkIfAbsent(ctx, vault.Link{
			Key:          key,
			Kind:         spec.kind,
			Participants: spec.participants,
			Tenant:       event.Tenant,
			Origin:       originConformance,
		}, originConformance)
		if err != nil {
			return fmt.Errorf("create %s link: %w", spec.kind, err)
		}
		if created {
			result.LinksCreated++
		}
	}
	return nil
}

// writeSatellites projects the event's descriptive attributes onto the hubs
// it mentions. Every payload is a pure function of the staging row, so a
// replay fingerprints identically and writes no version.
func (s *Service) writeSatellites(ctx context.Context, event staging.Event, keys entityKeys, asOf time.Time, result *Result) error {
	type satSpec struct {
		owner   domain.HashKey
		kind    domain.SatelliteKind
		payload document.Document
	}
	specs := []satSpec{
		{keys.event, domain.SatEventDetail, eventDetail(event)},
		{keys.session, domain.SatSessionActivity, sessionActivity(event)},
	}
	if !keys.visitor.IsZero() {
		specs = append(specs, satSpec{keys.visitor, domain.SatVisitorProfile, visitorProfile(event)})
	}
	if !keys.page.IsZero() {
		specs = append(specs, satSpec{keys.page, domain.SatPageInfo, pageInfo(event)})
	}

	for _, spec := range specs {
		written, err := s.vault.UpsertSatellite(ctx, event.Tenant, spec.owner, spec.kind, spec.payload, asOf, originConformance)
		if err != nil {
			return fmt.Errorf("upsert %s satellite: %w", spec.kind, err)
		}
		if written {
			result.Versions++
		}
	}
	return nil
}

func eventDetail(event staging.Event) document.Document {
	doc := document.Document{
		"type":          event.EventType,
		"session":       event.SessionRef,
		"quality_score": event.QualityScore,
		"status":        string(event.Status),
		"payload":       map[string]any(event.Payload),
	}
	if !event.OccurredAt.IsZero() {
		doc["occurred_at"] = event.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	if event.PageURL != "" {
		doc["page"] = event.PageURL
	}
	return doc
}

func sessionActivity(event staging.Event) document.Document {
	doc := document.Document{
		"last_event_type": event.EventType,
	}
	if !event.OccurredAt.IsZero() {
		doc["last_activity_at"] = event.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	if event.VisitorRef != "" {
		doc["visitor"] = event.VisitorRef
	}
	return doc
}

func visitorProfile(event staging.Event) document.Document {
	doc := document.Document{}
	if event.DeviceClass != "" {
		doc["device_class"] = event.DeviceClass
	}
	if event.AgentFamily != "" {
		doc["agent_family"] = event.AgentFamily
	}
	if !event.OccurredAt.IsZero() {
		doc["last_seen_at"] = event.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func pageInfo(event staging.Event) document.Document {
	return document.Document{
		"url": event.PageURL,
	}
}
