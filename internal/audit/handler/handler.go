// Package handler exposes the audit service over HTTP. Customer-facing routes
// live under /v1; internal routes live under /v1/internal behind the admin
// gate and are the only way to read the unredacted stream.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronicle/internal/audit"
	"chronicle/internal/audit/service"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/platform/middleware/admin"
	"chronicle/pkg/platform/middleware/metadata"

	derrors "chronicle/pkg/domain-errors"
)

// Service defines the audit operations the transport layer needs.
type Service interface {
	Write(ctx context.Context, req audit.WriteRequest) (uuid.UUID, error)
	RecordSignal(ctx context.Context, subjectKey, variantKey string, payload map[string]any) (audit.Signal, bool, error)
	QueryCustomer(ctx context.Context, f audit.Filter) ([]audit.CustomerRecord, error)
	QueryInternal(ctx context.Context, f audit.Filter) ([]audit.InternalRecord, error)
	GetCorrelated(ctx context.Context, correlationID uuid.UUID) (*service.CorrelatedPair, error)
	AuditCorrelation(ctx context.Context) (*audit.CorrelationReport, error)
	AuditIntegrity(ctx context.Context) (*audit.IntegrityReport, error)
}

// Handler handles audit endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
	gate    *admin.Gate
}

// New creates an audit Handler. The gate may be nil when internal routes are
// not registered.
func New(svc Service, logger *slog.Logger, gate *admin.Gate) *Handler {
	return &Handler{service: svc, logger: logger, gate: gate}
}

// Register mounts the customer-facing routes.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(metadata.Middleware)
	router.Post("/records", h.handleWrite)
	router.Get("/records", h.handleQueryCustomer)
	router.Post("/signals", h.handleRecordSignal)

	r.Mount("/v1", router)
}

// RegisterInternal mounts the admin-gated routes.
func (h *Handler) RegisterInternal(r chi.Router) {
	router := chi.NewRouter()
	router.Use(metadata.Middleware)
	router.Use(h.gate.Require)
	router.Get("/records", h.handleQueryInternal)
	router.Get("/records/{correlationID}", h.handleGetCorrelated)
	router.Get("/correlation", h.handleAuditCorrelation)
	router.Get("/integrity", h.handleAuditIntegrity)

	r.Mount("/v1/internal", router)
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[writeRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	correlationID, err := h.service.Write(ctx, req.toDomain())
	if err != nil {
		if derrors.HasCode(err, derrors.CodeBadRequest) || derrors.HasCode(err, derrors.CodeContentPolicy) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "audit write failed", "error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, writeResponse{CorrelationID: correlationID})
}

func (h *Handler) handleQueryCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.QueryCustomer(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "customer query failed", "error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, customerListResponse{
		Records: records,
		Count:   len(records),
		Limit:   filter.Clamped().Limit,
		Offset:  filter.Clamped().Offset,
	})
}

func (h *Handler) handleRecordSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[signalRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	signal, wasNew, err := h.service.RecordSignal(ctx, req.SubjectKey, req.VariantKey, req.Payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if wasNew {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, signalResponse{Signal: signal, WasNew: wasNew})
}

func (h *Handler) handleQueryInternal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.QueryInternal(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "internal query failed", "error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, internalListResponse{
		Records: records,
		Count:   len(records),
		Limit:   filter.Clamped().Limit,
		Offset:  filter.Clamped().Offset,
	})
}

func (h *Handler) handleGetCorrelated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	correlationID, err := uuid.Parse(chi.URLParam(r, "correlationID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeBadRequest, "invalid correlation id"))
		return
	}

	pair, err := h.service.GetCorrelated(ctx, correlationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleAuditCorrelation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.service.AuditCorrelation(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "correlation audit failed", "error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAuditIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.service.AuditIntegrity(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "integrity audit failed", "error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}
