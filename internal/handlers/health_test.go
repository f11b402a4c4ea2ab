package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/services"
)

type stubSystemService struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := started.Add(90*time.Second + 250*time.Millisecond)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: started}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["version"] != "1.4.0" || body["environment"] != "staging" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["uptime"] != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %v", body["uptime"])
	}
}

func TestReadyzWithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	h := NewHealthHandlers()
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	generated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		status  string
		want    int
		failing []string
	}{
		{name: "degraded stays ready", status: domain.HealthStatusDegraded, want: http.StatusOK, failing: []string{"redis"}},
		{name: "critical failure", status: domain.HealthStatusError, want: http.StatusServiceUnavailable, failing: []string{"database", "redis"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checks := map[string]domain.SystemHealthCheck{
				"redis":  {Status: domain.HealthStatusError, Error: "dial tcp: refused", Latency: 12 * time.Millisecond},
				"pubsub": {Status: domain.HealthStatusOK},
			}
			if tc.status == domain.HealthStatusError {
				checks["database"] = domain.SystemHealthCheck{Status: domain.HealthStatusError, Critical: true, Error: "ping timeout"}
			}
			h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: domain.SystemHealthReport{
				Status:      tc.status,
				Checks:      checks,
				Version:     "1.4.0",
				Uptime:      time.Hour,
				GeneratedAt: generated,
			}}))

			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			body := decodeBody(t, rr)
			failing := body["failing"].([]any)
			if len(failing) != len(tc.failing) {
				t.Fatalf("unexpected failing %v", failing)
			}
			for i, name := range tc.failing {
				if failing[i] != name {
					t.Fatalf("expected failing[%d]=%s, got %v", i, name, failing[i])
				}
			}
			redis := body["checks"].(map[string]any)["redis"].(map[string]any)
			if redis["latencyMs"].(float64) != 12 {
				t.Fatalf("unexpected redis check %v", redis)
			}
		})
	}
}

func TestReadyzReportError(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("boom")}))
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "health_unavailable" {
		t.Fatalf("unexpected body %v", body)
	}
}
