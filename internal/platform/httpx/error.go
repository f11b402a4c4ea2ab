// Package httpx holds the JSON envelope shared by every handler and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

// Error is an API failure. Code is a stable snake_case identifier clients branch on.
type Error struct {
	Code       string
	Message    string
	Status     int
	Violations []FieldViolation
}

// FieldViolation is one rejected field, with Row set for CSV imports.
type FieldViolation struct {
	Row   int    `json:"row,omitempty"`
	Field string `json:"field"`
	Value string `json:"value,omitempty"`
	Error string `json:"error"`
}

type envelope struct {
	Error      string           `json:"error"`
	Message    string           `json:"message"`
	Status     int              `json:"status"`
	RequestID  string           `json:"request_id,omitempty"`
	TraceID    string           `json:"trace_id,omitempty"`
	Violations []FieldViolation `json:"violations,omitempty"`
}

// NewError builds an Error; status 0 means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, 80), Message: oneLine(message, 512), Status: status}
}

// WithViolations returns a copy carrying violations.
func (e Error) WithViolations(violations []FieldViolation) Error {
	e.Violations = append(e.Violations[:len(e.Violations):len(e.Violations)], violations...)
	return e
}

// WriteJSON encodes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes the envelope, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, envelope{
		Error:      err.Code,
		Message:    err.Message,
		Status:     status,
		RequestID:  oneLine(middleware.GetReqID(ctx), 80),
		TraceID:    oneLine(requestctx.TraceID(ctx), 64),
		Violations: err.Violations,
	})
}

func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
