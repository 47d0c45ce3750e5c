package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bargom/errledger/internal/api/types"
	"github.com/bargom/errledger/internal/query"
)

func (h *Handler) rankParams(r *http.Request) (types.RankParams, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return types.RankParams{}, err
	}
	p := types.RankParams{Limit: limit, ErrorType: r.URL.Query().Get("errorType")}
	return p, h.validate.Struct(p)
}

// TopExecutions handles GET /executions/top.
func (h *Handler) TopExecutions(w http.ResponseWriter, r *http.Request) {
	p, err := h.rankParams(r)
	if err != nil {
		h.respondValidationError(w, err)
		return
	}
	items, err := h.query.TopExecutions(r.Context(), p.Limit, p.ErrorType)
	if err != nil {
		h.respondInternal(w, r, err)
		return
	}
	if items == nil {
		items = []query.ExecutionData{}
	}
	h.respondJSON(w, http.StatusOK, types.ExecutionsResponse{Success: true, Executions: items})
}

// ExecutionDetail handles GET /executions/detail.
func (h *Handler) ExecutionDetail(w http.ResponseWriter, r *http.Request) {
	p := types.DetailParams{Order: r.URL.Query().Get("order"), ErrorType: r.URL.Query().Get("errorType")}
	if err := h.validate.Struct(p); err != nil {
		h.respondValidationError(w, err)
		return
	}
	order, err := query.ParseSortOrder(p.Order)
	if err != nil {
		h.respondValidationError(w, err)
		return
	}
	d, err := h.query.ExecutionDetail(r.Context(), order, p.ErrorType)
	if err != nil {
		h.respondInternal(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, types.DetailFrom(d))
}

// ExecutionErrors handles GET /executions/{id}/errors.
func (h *Handler) ExecutionErrors(w http.ResponseWriter, r *http.Request) {
	d, err := h.query.ExecutionErrors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondInternal(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, types.DetailFrom(d))
}

// TopErrorCodes handles GET /errors/top.
func (h *Handler) TopErrorCodes(w http.ResponseWriter, r *http.Request) {
	p, err := h.rankParams(r)
	if err != nil {
		h.respondValidationError(w, err)
		return
	}
	items, err := h.query.TopErrorCodes(r.Context(), p.Limit, p.ErrorType)
	if err != nil {
		h.respondInternal(w, r, err)
		return
	}
	if items == nil {
		items = []query.ErrorCodeData{}
	}
	h.respondJSON(w, http.StatusOK, types.ErrorCodesResponse{Success: true, ErrorCodes: items})
}
