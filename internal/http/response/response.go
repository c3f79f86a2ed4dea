package response

import (
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Code is the machine-readable error code clients switch on. Each code maps
// to exactly one HTTP status.
type Code string

const (
	CodeBadRequest           Code = "BAD_REQUEST"
	CodeInvalidRecipients    Code = "INVALID_RECIPIENTS"
	CodeInvalidDuration      Code = "INVALID_DURATION"
	CodeInvalidCountdown     Code = "INVALID_COUNTDOWN"
	CodeInvalidContact       Code = "INVALID_CONTACT"
	CodeInvalidPosition      Code = "INVALID_POSITION"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeNotOwner             Code = "NOT_OWNER"
	CodeNotFound             Code = "NOT_FOUND"
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"
	CodeNoEmergencyContacts  Code = "NO_EMERGENCY_CONTACTS"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeInternal             Code = "INTERNAL"
	CodeShuttingDown         Code = "SHUTTING_DOWN"
	CodeDependencyUnready    Code = "DEPENDENCY_UNREADY"
)

var statusByCode = map[Code]int{
	CodeBadRequest:           http.StatusBadRequest,
	CodeInvalidRecipients:    http.StatusBadRequest,
	CodeInvalidDuration:      http.StatusBadRequest,
	CodeInvalidCountdown:     http.StatusBadRequest,
	CodeInvalidContact:       http.StatusBadRequest,
	CodeInvalidPosition:      http.StatusBadRequest,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeNotOwner:             http.StatusForbidden,
	CodeNotFound:             http.StatusNotFound,
	CodeSessionAlreadyActive: http.StatusConflict,
	CodeNoEmergencyContacts:  http.StatusUnprocessableEntity,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeInternal:             http.StatusInternalServerError,
	CodeShuttingDown:         http.StatusServiceUnavailable,
	CodeDependencyUnready:    http.StatusServiceUnavailable,
}

// Status returns the HTTP status sent with c. Unknown codes are server errors.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// FieldError names the request field a validation failure refers to.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Problem is the error half of the envelope. Details carries the resource
// the failure concerns, e.g. the fired escalation when nobody could be told.
type Problem struct {
	Code    Code         `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
	Details any          `json:"details,omitempty"`
}

type envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   *Problem `json:"error,omitempty"`
	Meta    meta     `json:"meta"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

// Error writes a failure envelope with the status bound to code.
func Error(w http.ResponseWriter, r *http.Request, code Code, message string, details any) {
	Fail(w, r, Problem{Code: code, Message: message, Details: details})
}

// InvalidField reports a single rejected request field.
func InvalidField(w http.ResponseWriter, r *http.Request, code Code, field, reason string) {
	Fail(w, r, Problem{
		Code:    code,
		Message: field + ": " + reason,
		Fields:  []FieldError{{Field: field, Reason: reason}},
	})
}

func Fail(w http.ResponseWriter, r *http.Request, p Problem) {
	write(w, p.Code.Status(), envelope{Success: false, Error: &p, Meta: buildMeta(r)})
}

// write disables caching: bodies carry live positions and alert state.
func write(w http.ResponseWriter, status int, env envelope) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
