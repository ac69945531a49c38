package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/ingestion/models"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/httputil"
	"fiscaldoc/pkg/requestcontext"
)

// Service defines the interface for ingestion operations.
type Service interface {
	Ingest(ctx context.Context, req models.Request) (*docmodels.Document, error)
	IngestBatch(ctx context.Context, reqs []models.Request) ([]models.Result, error)
	Get(ctx context.Context, organizationID string, id uuid.UUID) (*docmodels.Document, error)
}

// Handler wires ingestion endpoints to the orchestrator.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an ingestion handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts ingestion endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/organizations/{orgID}", func(r chi.Router) {
		r.Post("/documents", h.HandleIngest)
		r.Post("/documents:batch", h.HandleIngestBatch)
		r.Get("/documents/{documentID}", h.HandleGet)
	})
}

// HandleIngest handles POST /v1/organizations/{orgID}/documents. The document
// is returned with 201 whether it COMPLETED or FAILED; its status says which.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	orgID := chi.URLParam(r, "orgID")

	req, ok := httputil.DecodeAndPrepare[IngestRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	doc, err := h.service.Ingest(ctx, req.toDomain(orgID))
	if err != nil {
		h.logger.ErrorContext(ctx, "document ingestion failed",
			"request_id", requestID,
			"organization_id", orgID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "document ingested",
		"request_id", requestID,
		"organization_id", orgID,
		"document_id", doc.ID,
		"status", doc.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromDocument(doc))
}

// HandleIngestBatch handles POST /v1/organizations/{orgID}/documents:batch.
// Per-document errors are reported in place; the batch itself succeeds.
func (h *Handler) HandleIngestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	orgID := chi.URLParam(r, "orgID")

	req, ok := httputil.DecodeAndPrepare[BatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	reqs := make([]models.Request, len(req.Documents))
	for i := range req.Documents {
		reqs[i] = req.Documents[i].toDomain(orgID)
	}

	results, err := h.service.IngestBatch(ctx, reqs)
	if err != nil {
		h.logger.WarnContext(ctx, "batch ingestion rejected",
			"request_id", requestID,
			"organization_id", orgID,
			"size", len(reqs),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "batch ingested",
		"request_id", requestID,
		"organization_id", orgID,
		"size", len(reqs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromResults(results))
}

// HandleGet handles GET /v1/organizations/{orgID}/documents/{documentID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := chi.URLParam(r, "orgID")

	id, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "document id must be a UUID"))
		return
	}

	doc, err := h.service.Get(ctx, orgID, id)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "document lookup failed",
				"request_id", requestcontext.RequestID(ctx),
				"document_id", id,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDocument(doc))
}
