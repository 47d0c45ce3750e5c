// Package handlers contains HTTP request handlers for the API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bargom/errledger/internal/api/types"
	"github.com/bargom/errledger/internal/query"
	"github.com/bargom/errledger/pkg/logging"
)

// Failer fails paused executions on operator request.
type Failer interface {
	FailPaused(ctx context.Context, executionID, reason string) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	query     *query.Facade
	submitter Submitter
	failer    Failer
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates a Handler. submitter and failer may be nil, which
// disables event intake and the fail endpoint.
func NewHandler(facade *query.Facade, submitter Submitter, failer Failer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(f.Name[:1]) + f.Name[1:]
		}
		return name
	})
	return &Handler{
		query:     facade,
		submitter: submitter,
		failer:    failer,
		validate:  v,
		logger:    logging.Component(logger, "api"),
	}
}

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a failure envelope.
func (h *Handler) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, types.ErrorResponse(message, nil))
}

// respondInternal logs err and answers 500 without leaking it.
func (h *Handler) respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	h.respondError(w, http.StatusInternalServerError, "internal error")
}

// respondValidationError writes a 400 carrying per-field messages.
func (h *Handler) respondValidationError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make(map[string]string, len(validationErrs))
		for _, e := range validationErrs {
			details[e.Field()] = formatValidationError(e)
		}
		h.respondJSON(w, http.StatusBadRequest, types.ErrorResponse("validation failed", details))
		return
	}
	h.respondError(w, http.StatusBadRequest, err.Error())
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max", "lte":
		return "must be at most " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "alphanum":
		return "must be alphanumeric"
	default:
		return "is invalid"
	}
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
