package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bargom/errledger/internal/api/types"
	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/internal/resume"
)

// FailExecution handles POST /executions/{id}/fail.
func (h *Handler) FailExecution(w http.ResponseWriter, r *http.Request) {
	if h.failer == nil {
		h.respondError(w, http.StatusNotImplemented, "failing executions is disabled")
		return
	}
	var req types.FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	err := h.failer.FailPaused(r.Context(), id, req.Reason)
	switch {
	case errors.Is(err, errorstore.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "execution not found")
	case errors.Is(err, resume.ErrNotPaused):
		h.respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.respondInternal(w, r, err)
	default:
		h.respondJSON(w, http.StatusOK, types.Response{Success: true})
	}
}
