package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/location"
)

type LocationHandler struct {
	reports *location.ReportedProvider
	logger  *slog.Logger
}

func NewLocationHandler(reports *location.ReportedProvider, logger *slog.Logger) *LocationHandler {
	return &LocationHandler{reports: reports, logger: logger}
}

type reportLocationRequest struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	RecordedAt     *time.Time `json:"recorded_at"`
}

func (h *LocationHandler) Report(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req reportLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Latitude == nil {
		response.InvalidField(w, r, response.CodeInvalidPosition, "latitude", "is required")
		return
	}
	if req.Longitude == nil {
		response.InvalidField(w, r, response.CodeInvalidPosition, "longitude", "is required")
		return
	}
	pos := domain.Position{Latitude: *req.Latitude, Longitude: *req.Longitude, AccuracyMeters: req.AccuracyMeters}
	if req.RecordedAt != nil {
		pos.RecordedAt = req.RecordedAt.UTC()
	}
	if err := h.reports.Report(r.Context(), owner, pos); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type permissionRequest struct {
	Granted *bool `json:"granted"`
}

func (h *LocationHandler) Permission(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Granted == nil {
		response.InvalidField(w, r, response.CodeBadRequest, "granted", "is required")
		return
	}
	if err := h.reports.SetPermission(r.Context(), owner, *req.Granted); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"granted": *req.Granted})
}
