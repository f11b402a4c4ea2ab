package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

func TestWriteError(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-7"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("invalid_input", "bad\nrow", http.StatusBadRequest).
		WithViolations([]FieldViolation{{Row: 3, Field: "price", Value: "-1", Error: "must be >= 0"}}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var body struct {
		Error      string           `json:"error"`
		Message    string           `json:"message"`
		Status     int              `json:"status"`
		RequestID  string           `json:"request_id"`
		TraceID    string           `json:"trace_id"`
		Violations []FieldViolation `json:"violations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "invalid_input" || body.Message != "bad row" || body.Status != 400 {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if body.RequestID != "req-42" || body.TraceID != "trace-7" {
		t.Fatalf("ids = %q %q", body.RequestID, body.TraceID)
	}
	if len(body.Violations) != 1 || body.Violations[0].Row != 3 {
		t.Fatalf("violations = %+v", body.Violations)
	}
}

func TestWriteError_OmitsEmptyFields(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("boom", strings.Repeat("x", 600), 0))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"request_id", "trace_id", "violations"} {
		if _, ok := body[key]; ok {
			t.Errorf("unexpected key %q", key)
		}
	}
	if msg, _ := body["message"].(string); len(msg) != 512 {
		t.Errorf("message length = %d", len(msg))
	}
}

func TestWithViolationsDoesNotAlias(t *testing.T) {
	base := NewError("invalid_input", "x", http.StatusBadRequest).WithViolations([]FieldViolation{{Field: "a"}})
	first := base.WithViolations([]FieldViolation{{Field: "b"}})
	second := base.WithViolations([]FieldViolation{{Field: "c"}})
	if first.Violations[1].Field != "b" || second.Violations[1].Field != "c" {
		t.Fatalf("violations aliased: %+v %+v", first.Violations, second.Violations)
	}
}
