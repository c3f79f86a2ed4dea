package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
	"github.com/sandeepkv93/guardian-location-service/internal/watch"
)

type ShareHandler struct {
	sessions  *service.SessionManager
	hub       *watch.Hub
	directory *service.ContactDirectory
	logger    *slog.Logger
}

func NewShareHandler(sessions *service.SessionManager, hub *watch.Hub, directory *service.ContactDirectory, logger *slog.Logger) *ShareHandler {
	return &ShareHandler{sessions: sessions, hub: hub, directory: directory, logger: logger}
}

type startShareRequest struct {
	Recipients []string `json:"recipients"`
	Duration   string   `json:"duration"`
}

// shareView adds fetch health to the owner's view of a session.
type shareView struct {
	*domain.SharingSession
	DurationLabel string                 `json:"duration_label"`
	Health        *service.SessionHealth `json:"health,omitempty"`
}

func (h *ShareHandler) view(s *domain.SharingSession, owner bool) shareView {
	v := shareView{SharingSession: s, DurationLabel: domain.ShareDurationLabel(s.Duration)}
	if owner && s.State == domain.SessionActive {
		if health, err := h.sessions.SessionHealth(s.ID); err == nil {
			v.Health = &health
		}
	}
	return v
}

func (h *ShareHandler) Start(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req startShareRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	d, ok := domain.ParseShareDuration(req.Duration)
	if !ok {
		writeServiceError(w, r, h.logger, service.ErrInvalidDuration)
		return
	}
	s, err := h.sessions.StartSession(r.Context(), owner, req.Recipients, d)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "share.started", "session_id", s.ID, "owner_id", owner, "recipients", len(s.Recipients))
	response.JSON(w, r, http.StatusCreated, h.view(s, true))
}

func (h *ShareHandler) Active(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	s, err := h.sessions.ActiveSessionForOwner(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(s, true))
}

// visible loads a session the caller owns or receives through a linked
// contact. Other callers get NOT_FOUND so share ids stay undisclosed.
func (h *ShareHandler) visible(w http.ResponseWriter, r *http.Request) (*domain.SharingSession, bool, bool) {
	caller, ok := requireOwner(w, r)
	if !ok {
		return nil, false, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	s, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return nil, false, false
	}
	if s.OwnerID == caller {
		return s, true, true
	}
	recipient, err := h.directory.IsRecipient(r.Context(), s, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return nil, false, false
	}
	if !recipient {
		writeServiceError(w, r, h.logger, service.ErrSessionNotFound)
		return nil, false, false
	}
	return s, false, true
}

// List returns the caller's share history, newest first.
func (h *ShareHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListSessions(r.Context(), owner, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	views := make([]shareView, 0, len(sessions))
	for i := range sessions {
		views = append(views, h.view(&sessions[i], true))
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *ShareHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, isOwner, ok := h.visible(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(s, isOwner))
}

func (h *ShareHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := h.sessions.CancelSession(r.Context(), id, owner); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	s, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "share.cancelled", "session_id", id, "owner_id", owner)
	response.JSON(w, r, http.StatusOK, h.view(s, true))
}

func (h *ShareHandler) Watch(w http.ResponseWriter, r *http.Request) {
	sub := h.hub.Subscribe(strings.TrimSpace(chi.URLParam(r, "id")))
	s, _, ok := h.visible(w, r)
	if !ok {
		sub.Close()
		return
	}
	h.hub.Serve(w, r, sub, *s)
}
