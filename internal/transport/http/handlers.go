package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"tributary/internal/identity"
	"tributary/internal/ingest"
	"tributary/internal/platform/metrics"
	"tributary/internal/status"
	"tributary/internal/vault"
	"tributary/pkg/document"
	"tributary/pkg/domain"
	"tributary/pkg/requestcontext"
)

// IngestService is the landing stage surface the API exposes.
type IngestService interface {
	Ingest(ctx context.Context, tenant domain.TenantID, payload document.Document, meta ingest.Metadata) (uuid.UUID, error)
	Quarantined(ctx context.Context, tenant domain.TenantID, maxRetries, limit int) ([]ingest.RawEvent, error)
}

// EntityReader is the temporal store read surface.
type EntityReader interface {
	ReadCurrent(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind) (document.Document, error)
	ReadHistory(ctx context.Context, tenant domain.TenantID, owner domain.HashKey, kind domain.SatelliteKind, cursor string, limit int) (vault.HistoryPage, error)
}

// StatusService reports per-tenant pipeline progress.
type StatusService interface {
	Pipeline(ctx context.Context, tenant domain.TenantID, window time.Duration) (status.Report, error)
}

// Handler holds the API's service dependencies.
type Handler struct {
	ingest     IngestService
	entities   EntityReader
	status     StatusService
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxRetries int
}

// NewHandler builds the API handler. maxRetries is the pipeline retry budget
// used to decide which ERROR rows count as quarantined.
func NewHandler(ingestSvc IngestService, entities EntityReader, statusSvc StatusService, m *metrics.Metrics, logger *slog.Logger, maxRetries int) *Handler {
	return &Handler{
		ingest:     ingestSvc,
		entities:   entities,
		status:     statusSvc,
		metrics:    m,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

type ingestResponse struct {
	ID string `json:"id"`
}

// handleIngestEvent lands one raw payload. Acceptance means durability, not
// validity: any JSON object is taken in and judged asynchronously.
func (h *Handler) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := requestcontext.Tenant(ctx)

	var payload document.Document
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		badRequest(w, "body must be a JSON object")
		return
	}

	meta := ingest.Metadata{
		SourceIP:    requestcontext.ClientIP(ctx),
		AgentString: requestcontext.UserAgent(ctx),
	}
	if batch := r.Header.Get("X-Batch-ID"); batch != "" {
		id, err := uuid.Parse(batch)
		if err != nil {
			badRequest(w, "X-Batch-ID must be a UUID")
			return
		}
		meta.BatchID = id
	}

	id, err := h.ingest.Ingest(ctx, tenant, payload, meta)
	if err != nil {
		h.logger.ErrorContext(ctx, "event ingestion failed",
			"request_id", chimw.GetReqID(ctx),
			"tenant", tenant,
			"error", err,
		)
		writeError(w, err)
		return
	}

	h.metrics.IncEventsAccepted(tenant.String())
	writeJSON(w, http.StatusAccepted, ingestResponse{ID: id.String()})
}

type satelliteResponse struct {
	OwnerKey string            `json:"owner_key"`
	Kind     string            `json:"kind"`
	Payload  document.Document `json:"payload"`
}

func (h *Handler) handleCurrentSatellite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := requestcontext.Tenant(ctx)

	owner, satKind, ok := h.resolveOwner(w, r, tenant)
	if !ok {
		return
	}

	payload, err := h.entities.ReadCurrent(ctx, tenant, owner, satKind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, satelliteResponse{
		OwnerKey: owner.String(),
		Kind:     string(satKind),
		Payload:  payload,
	})
}

type versionResponse struct {
	LoadTime    time.Time         `json:"load_time"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Payload     document.Document `json:"payload"`
}

type historyResponse struct {
	OwnerKey   string            `json:"owner_key"`
	Kind       string            `json:"kind"`
	Versions   []versionResponse `json:"versions"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func (h *Handler) handleSatelliteHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := requestcontext.Tenant(ctx)

	owner, satKind, ok := h.resolveOwner(w, r, tenant)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	page, err := h.entities.ReadHistory(ctx, tenant, owner, satKind, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	versions := make([]versionResponse, 0, len(page.Versions))
	for _, v := range page.Versions {
		versions = append(versions, versionResponse{
			LoadTime:    v.LoadTime,
			EndTime:     v.EndTime,
			Fingerprint: v.Fingerprint,
			Payload:     v.Payload,
		})
	}
	writeJSON(w, http.StatusOK, historyResponse{
		OwnerKey:   owner.String(),
		Kind:       string(satKind),
		Versions:   versions,
		NextCursor: page.NextCursor,
	})
}

// resolveOwner derives the hub key from the path's kind and business key.
// Derivation is pure, so unknown entities simply read as not found.
func (h *Handler) resolveOwner(w http.ResponseWriter, r *http.Request, tenant domain.TenantID) (domain.HashKey, domain.SatelliteKind, bool) {
	kind := domain.EntityKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		badRequest(w, "unknown entity kind")
		return domain.HashKey{}, "", false
	}
	satKind := domain.SatelliteKind(chi.URLParam(r, "satKind"))
	if !satKind.Valid() {
		badRequest(w, "unknown satellite kind")
		return domain.HashKey{}, "", false
	}
	businessKey := chi.URLParam(r, "businessKey")

	owner, err := identity.Derive(tenant, businessKey, kind)
	if err != nil {
		badRequest(w, "cannot derive entity key")
		return domain.HashKey{}, "", false
	}
	return owner, satKind, true
}

type statusResponse struct {
	Tenant  string         `json:"tenant"`
	Window  string         `json:"window"`
	Raw     map[string]int `json:"raw"`
	Staging map[string]int `json:"staging"`
}

func (h *Handler) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := requestcontext.Tenant(ctx)

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(w, "window must be a positive duration")
			return
		}
		window = d
	}

	report, err := h.status.Pipeline(ctx, tenant, window)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{
		Tenant:  report.Tenant.String(),
		Window:  report.Window.String(),
		Raw:     make(map[string]int, len(report.Raw)),
		Staging: make(map[string]int, len(report.Staging)),
	}
	for st, n := range report.Raw {
		resp.Raw[string(st)] = n
	}
	for st, n := range report.Staging {
		resp.Staging[string(st)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

type quarantineRow struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	ReceivedAt time.Time `json:"received_at"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
}

func (h *Handler) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := requestcontext.Tenant(ctx)

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.ingest.Quarantined(ctx, tenant, h.maxRetries, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]quarantineRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, quarantineRow{
			ID:         row.ID.String(),
			BatchID:    row.BatchID.String(),
			ReceivedAt: row.ReceivedAt,
			RetryCount: row.RetryCount,
			LastError:  row.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}
