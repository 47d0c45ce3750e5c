package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bargom/errledger/internal/api/types"
	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/internal/queue"
)

const maxEventBytes = 1 << 20

// Submitter accepts an event for application.
type Submitter interface {
	Submit(ctx context.Context, ev ingest.Event) (types.EventAccepted, error)
}

// Applier applies an event synchronously.
type Applier interface {
	Ingest(ctx context.Context, ev ingest.Event) (ingest.Result, error)
}

// DirectSubmitter applies events in the request.
type DirectSubmitter struct {
	applier Applier
}

// NewDirectSubmitter creates a DirectSubmitter.
func NewDirectSubmitter(a Applier) *DirectSubmitter {
	return &DirectSubmitter{applier: a}
}

// Submit implements Submitter.
func (s *DirectSubmitter) Submit(ctx context.Context, ev ingest.Event) (types.EventAccepted, error) {
	res, err := s.applier.Ingest(ctx, ev)
	if err != nil {
		return types.EventAccepted{EventID: ev.ID(), Duplicate: res.Duplicate}, err
	}
	return types.EventAccepted{EventID: ev.ID(), Result: &res}, nil
}

// QueueSubmitter hands events to the queue.
type QueueSubmitter struct {
	producer *queue.Producer
}

// NewQueueSubmitter creates a QueueSubmitter.
func NewQueueSubmitter(p *queue.Producer) *QueueSubmitter {
	return &QueueSubmitter{producer: p}
}

// Submit implements Submitter.
func (s *QueueSubmitter) Submit(ctx context.Context, ev ingest.Event) (types.EventAccepted, error) {
	id, err := s.producer.Enqueue(ctx, ev)
	if err != nil {
		return types.EventAccepted{EventID: id, Duplicate: errors.Is(err, ingest.ErrDuplicateEvent)}, err
	}
	return types.EventAccepted{EventID: id, Queued: true}, nil
}

// SubmitEvent handles POST /events.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		h.respondError(w, http.StatusNotImplemented, "event intake is disabled")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}
	ev, err := ingest.Parse(body)
	if err != nil {
		h.respondEventError(w, r, err)
		return
	}

	acc, err := h.submitter.Submit(r.Context(), ev)
	switch {
	case errors.Is(err, ingest.ErrDuplicateEvent):
		acc.Duplicate = true
		h.respondJSON(w, http.StatusOK, types.Response{Success: true, Event: &acc})
	case err != nil:
		h.respondEventError(w, r, err)
	case acc.Queued:
		h.respondJSON(w, http.StatusAccepted, types.Response{Success: true, Event: &acc})
	default:
		h.respondJSON(w, http.StatusOK, types.Response{Success: true, Event: &acc})
	}
}

func (h *Handler) respondEventError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		h.respondJSON(w, http.StatusBadRequest, types.ErrorResponse("invalid event", verr.Fields))
		return
	}
	h.respondInternal(w, r, err)
}
