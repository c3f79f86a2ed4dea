package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
)

type ContactHandler struct {
	contacts *service.ContactService
	logger   *slog.Logger
}

func NewContactHandler(contacts *service.ContactService, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{contacts: contacts, logger: logger}
}

type addContactRequest struct {
	Name      string `json:"name"`
	Channel   string `json:"channel"`
	Address   string `json:"address"`
	UserID    string `json:"user_id"`
	IsPrimary bool   `json:"is_primary"`
}

// patchContactRequest leaves absent fields unchanged.
type patchContactRequest struct {
	Name    *string `json:"name"`
	Channel *string `json:"channel"`
	Address *string `json:"address"`
	UserID  *string `json:"user_id"`
}

func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	contacts, err := h.contacts.List(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if contacts == nil {
		contacts = []domain.EmergencyContact{}
	}
	response.JSON(w, r, http.StatusOK, contacts)
}

func (h *ContactHandler) Add(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req addContactRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	c, err := h.contacts.Add(r.Context(), owner, service.ContactInput{
		Name:      req.Name,
		Channel:   domain.ContactChannel(strings.ToLower(strings.TrimSpace(req.Channel))),
		Address:   req.Address,
		UserID:    req.UserID,
		IsPrimary: req.IsPrimary,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, c)
}

func (h *ContactHandler) Patch(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req patchContactRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	patch := service.ContactPatch{Name: req.Name, Address: req.Address, UserID: req.UserID}
	if req.Channel != nil {
		ch := domain.ContactChannel(strings.ToLower(strings.TrimSpace(*req.Channel)))
		patch.Channel = &ch
	}
	c, err := h.contacts.Update(r.Context(), owner, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, c)
}

func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := h.contacts.Delete(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContactHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := h.contacts.SetPrimary(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"primary_contact_id": chi.URLParam(r, "id")})
}
