package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderops/internal/platform/httpx"
)

func TestRouterHealthz(t *testing.T) {
	router := NewRouter()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRouterNotFoundEnvelope(t *testing.T) {
	router := NewRouter()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "route_not_found" || body["status"].(float64) != http.StatusNotFound {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestRouterUnregisteredGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{"/api/v1/orders", "/api/v1/catalog/import", "/api/v1/internal/orders:batch"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", path, rr.Code)
		}
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("orderops_batch_items_total 1\n"))
	})
	router := NewRouter(WithMetricsHandler(metrics))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "orderops_batch_items_total") {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterAppliesGroupMiddlewares(t *testing.T) {
	deny := func(code string) func(http.Handler) http.Handler {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httpx.WriteError(r.Context(), w, httpx.NewError(code, code, http.StatusUnauthorized))
			})
		}
	}
	ok := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		r.Post("/orders:batch", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}

	router := NewRouter(
		WithOrderRoutes(ok),
		WithCatalogRoutes(ok),
		WithInternalRoutes(ok),
		WithAdminMiddlewares(deny("admin_denied")),
		WithInternalMiddlewares(deny("oidc_denied")),
	)

	cases := []struct {
		method string
		path   string
		code   string
	}{
		{http.MethodGet, "/api/v1/orders", "admin_denied"},
		{http.MethodGet, "/api/v1/catalog", "admin_denied"},
		{http.MethodPost, "/api/v1/internal/orders:batch", "oidc_denied"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.path, rr.Code)
		}
		if body := decodeBody(t, rr); body["error"] != tc.code {
			t.Fatalf("%s: expected %s, got %v", tc.path, tc.code, body["error"])
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("probes must bypass group middleware, got %d", rr.Code)
	}
}
