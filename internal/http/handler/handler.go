package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sandeepkv93/guardian-location-service/internal/http/middleware"
	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/location"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
)

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

const maxListLimit = 100

// queryLimit reads the optional limit query parameter.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		response.InvalidField(w, r, response.CodeBadRequest, "limit", fmt.Sprintf("must be an integer in [1, %d]", maxListLimit))
		return 0, false
	}
	return n, true
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, response.CodeUnauthorized, "missing subject", nil)
		return "", false
	}
	return owner, true
}

// errorCode maps service and provider errors onto response codes.
func errorCode(err error) (response.Code, bool) {
	switch {
	case errors.Is(err, service.ErrInvalidRecipients):
		return response.CodeInvalidRecipients, true
	case errors.Is(err, service.ErrInvalidDuration):
		return response.CodeInvalidDuration, true
	case errors.Is(err, service.ErrInvalidCountdown):
		return response.CodeInvalidCountdown, true
	case errors.Is(err, service.ErrInvalidContact):
		return response.CodeInvalidContact, true
	case errors.Is(err, service.ErrNotOwner):
		return response.CodeNotOwner, true
	case errors.Is(err, service.ErrSessionAlreadyActive):
		return response.CodeSessionAlreadyActive, true
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrEscalationNotFound),
		errors.Is(err, service.ErrContactNotFound):
		return response.CodeNotFound, true
	case errors.Is(err, service.ErrNoEmergencyContacts):
		return response.CodeNoEmergencyContacts, true
	case errors.Is(err, service.ErrManagerClosed):
		return response.CodeShuttingDown, true
	}
	return "", false
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var coordErr *location.CoordinateError
	if errors.As(err, &coordErr) {
		response.InvalidField(w, r, response.CodeInvalidPosition, coordErr.Field, coordErr.Message)
		return
	}
	if code, ok := errorCode(err); ok {
		response.Error(w, r, code, err.Error(), nil)
		return
	}
	logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	response.Error(w, r, response.CodeInternal, "internal error", nil)
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	response.Error(w, r, response.CodeBadRequest, fmt.Sprintf("invalid request body: %v", err), nil)
}
