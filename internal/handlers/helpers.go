package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderops/internal/platform/httpx"
	"github.com/hanko-field/orderops/internal/platform/requestctx"
	"github.com/hanko-field/orderops/internal/repositories"
	"github.com/hanko-field/orderops/internal/services"
)

const maxJSONBodySize = 1 << 20

var errEmptyBody = errors.New("request body is required")

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// decodeJSONBody reads at most limit bytes and rejects unknown trailing data.
func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return fmt.Errorf("request body exceeds %d bytes", limit)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" || trimmed == "all" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

// parseDateParam accepts RFC3339 timestamps or bare dates. A bare end date covers the whole day.
func parseDateParam(value string, endOfDay bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if day, err := time.Parse(time.DateOnly, value); err == nil {
		if endOfDay {
			return day.Add(24*time.Hour - time.Nanosecond).UTC(), nil
		}
		return day.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp or YYYY-MM-DD date")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	value := formatTime(*t)
	return &value
}

func actorFromRequest(r *http.Request) string {
	if actor := requestctx.Actor(r.Context()); actor != "" {
		return actor
	}
	return "system"
}

func toFieldViolations(violations []services.Violation) []httpx.FieldViolation {
	if len(violations) == 0 {
		return nil
	}
	out := make([]httpx.FieldViolation, 0, len(violations))
	for _, v := range violations {
		out = append(out, httpx.FieldViolation{Row: v.Row, Field: v.Field, Value: v.Value, Error: v.Error})
	}
	return out
}

// writeViolations reports a structured 400 when err carries violations.
func writeViolations(ctx context.Context, w http.ResponseWriter, code string, err error) bool {
	var violationErr *services.ViolationError
	if !errors.As(err, &violationErr) {
		return false
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusBadRequest).
		WithViolations(toFieldViolations(violationErr.Violations)))
	return true
}

// writeInternalError logs the cause and answers with a generic message.
func writeInternalError(ctx context.Context, w http.ResponseWriter, code string, err error) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		requestctx.Logger(ctx).Warn("dependency unavailable", zap.String("code", code), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable", http.StatusServiceUnavailable))
		return
	}
	requestctx.Logger(ctx).Error("request failed", zap.String("code", code), zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError(code, "internal server error", http.StatusInternalServerError))
}
