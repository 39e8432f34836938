package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/manifest"
	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/watch"
)

// Guard is the part of the guard service the API serves.
type Guard interface {
	Compare(ctx context.Context, root string, w manifest.Warner) (*models.DriftReport, error)
	Baseline(ctx context.Context, root string) (*models.Manifest, error)
}

// StatusSource reports the state of a running monitor.
type StatusSource interface {
	Status() watch.Status
}

// Handler holds API route handlers for one monitored root.
type Handler struct {
	svc    Guard
	status StatusSource
	root   string
	warner manifest.Warner
}

// NewHandler creates a new Handler. warner receives per-file warnings from
// on-demand comparisons and may be nil.
func NewHandler(svc Guard, status StatusSource, root string, warner manifest.Warner) *Handler {
	return &Handler{svc: svc, status: status, root: root, warner: warner}
}

// Status handles GET /api/status.
//
//	@Summary		Monitor state and last cycle
//	@Tags			monitor
//	@Produce		json
//	@Success		200	{object}	watch.Status
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

// Baseline handles GET /api/baseline.
//
//	@Summary		Stored baseline summary, optionally with a page of entries
//	@Tags			baseline
//	@Produce		json
//	@Param			entries	query		bool	false	"Include entries"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	BaselineResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/baseline [get]
func (h *Handler) Baseline(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Baseline(r.Context(), h.root)
	if err != nil {
		h.fail(w, "baseline", err)
		return
	}
	sum := m.Summary()
	resp := BaselineResponse{
		Root:       m.Root,
		TakenAt:    m.TakenAt,
		Files:      sum.Files,
		Unreadable: sum.Unreadable,
		TotalBytes: sum.TotalBytes,
	}

	q := r.URL.Query()
	if include, _ := strconv.ParseBool(q.Get("entries")); include {
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		resp.Entries = page(m.Records(), limit, offset)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Compare handles POST /api/compare.
//
//	@Summary		Compare the tree against the baseline now
//	@Tags			baseline
//	@Produce		json
//	@Success		200	{object}	CompareResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/compare [post]
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Compare(r.Context(), h.root, h.warner)
	if err != nil {
		h.fail(w, "compare", err)
		return
	}
	writeJSON(w, http.StatusOK, CompareResponse{Drift: !rep.Empty(), Report: rep})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	switch {
	case errors.Is(err, apperr.ErrBaselineNotFound):
		writeJSON(w, http.StatusNotFound, errResponse{Error: apperr.ErrBaselineNotFound.Error(), Kind: string(kind)})
	case kind == apperr.KindInput:
		writeJSON(w, http.StatusUnprocessableEntity, errResponse{Error: err.Error(), Kind: string(kind)})
	default:
		slog.Error("api: "+op+" failed", slog.String("root", h.root), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

const defaultPageSize = 100

func page(records []models.FileRecord, limit, offset int) []models.FileRecord {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []models.FileRecord{}
	}
	end := min(offset+limit, len(records))
	return records[offset:end]
}
