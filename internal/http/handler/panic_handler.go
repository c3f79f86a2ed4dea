package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
)

type PanicHandler struct {
	escalations *service.EscalationController
	logger      *slog.Logger
}

func NewPanicHandler(escalations *service.EscalationController, logger *slog.Logger) *PanicHandler {
	return &PanicHandler{escalations: escalations, logger: logger}
}

type startPanicRequest struct {
	CountdownSeconds int `json:"countdown_seconds"`
}

func (h *PanicHandler) Start(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req startPanicRequest
	// An empty body selects the default countdown.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		badRequest(w, r, err)
		return
	}
	// Bound the seconds before converting so large values cannot wrap.
	if req.CountdownSeconds < 0 || int64(req.CountdownSeconds) > int64(h.escalations.MaxCountdown()/time.Second) {
		writeServiceError(w, r, h.logger, service.ErrInvalidCountdown)
		return
	}
	e, err := h.escalations.StartCountdown(r.Context(), owner, time.Duration(req.CountdownSeconds)*time.Second)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "panic.countdown_started", "escalation_id", e.ID, "owner_id", owner)
	response.JSON(w, r, http.StatusCreated, e)
}

// List returns the caller's escalations, optionally filtered by ?state=.
func (h *PanicHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var state domain.EscalationState
	if raw := r.URL.Query().Get("state"); raw != "" {
		if state, ok = domain.ParseEscalationState(raw); !ok {
			response.InvalidField(w, r, response.CodeBadRequest, "state", "unknown escalation state")
			return
		}
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	escalations, err := h.escalations.ListEscalations(r.Context(), owner, state, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if escalations == nil {
		escalations = []domain.PanicEscalation{}
	}
	response.JSON(w, r, http.StatusOK, escalations)
}

// owned loads an escalation and checks that the caller started it.
func (h *PanicHandler) owned(w http.ResponseWriter, r *http.Request, hideForeign bool) (*domain.PanicEscalation, bool) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return nil, false
	}
	e, err := h.escalations.GetEscalation(r.Context(), strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return nil, false
	}
	if e.OwnerID != owner {
		if hideForeign {
			writeServiceError(w, r, h.logger, service.ErrEscalationNotFound)
		} else {
			writeServiceError(w, r, h.logger, service.ErrNotOwner)
		}
		return nil, false
	}
	return e, true
}

func (h *PanicHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.owned(w, r, true)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, e)
}

func (h *PanicHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	e, ok := h.owned(w, r, false)
	if !ok {
		return
	}
	if err := h.escalations.CancelCountdown(r.Context(), e.ID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	current, err := h.escalations.GetEscalation(r.Context(), e.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "panic.countdown_cancelled", "escalation_id", e.ID, "state", current.State)
	response.JSON(w, r, http.StatusOK, current)
}

func (h *PanicHandler) Send(w http.ResponseWriter, r *http.Request) {
	e, ok := h.owned(w, r, false)
	if !ok {
		return
	}
	fired, err := h.escalations.Fire(r.Context(), e.ID)
	if errors.Is(err, service.ErrNoEmergencyContacts) {
		response.Error(w, r, response.CodeNoEmergencyContacts, err.Error(), fired)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "panic.sent", "escalation_id", e.ID, "action_taken", fired.ActionTaken)
	response.JSON(w, r, http.StatusOK, fired)
}
