package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderops/internal/platform/httpx"
)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// RouteRegistrar mounts one route group.
type RouteRegistrar func(r chi.Router)

type middlewares = []func(http.Handler) http.Handler

type group struct {
	path     string
	name     string
	register RouteRegistrar
	use      middlewares
}

type routerConfig struct {
	basePath string
	global   middlewares
	health   *HealthHandlers
	metrics  http.Handler

	orders, catalog, internal RouteRegistrar
	admin, service            middlewares
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter serves the probes and /metrics at the root and, under /api/v1, the admin groups /orders and
// /catalog plus the service group /internal. A group without a registrar answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		global:   middlewares{middleware.RequestID, middleware.RealIP, middleware.Timeout(defaultTimeout)},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.global)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method "+req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	groups := []group{
		{path: "/orders", name: "orders", register: cfg.orders, use: cfg.admin},
		{path: "/catalog", name: "catalog", register: cfg.catalog, use: cfg.admin},
		{path: "/internal", name: "internal", register: cfg.internal, use: cfg.service},
	}
	r.Route(cfg.basePath, func(api chi.Router) {
		for _, g := range groups {
			api.Route(g.path, func(sub chi.Router) {
				useAll(sub, g.use)
				if g.register == nil {
					notImplemented(sub, g.name)
					return
				}
				g.register(sub)
			})
		}
	})
	return r
}

func useAll(r chi.Router, mws middlewares) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func notImplemented(r chi.Router, name string) {
	h := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
	r.HandleFunc("/", h)
	r.HandleFunc("/*", h)
}

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithMetricsHandler serves h on GET /metrics, outside the auth groups.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) { cfg.metrics = h }
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.orders = reg }
}

func WithCatalogRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.catalog = reg }
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.internal = reg }
}

// WithAdminMiddlewares guards /orders and /catalog, typically with the Firebase role gate.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.admin = append(cfg.admin, mw...) }
}

// WithInternalMiddlewares guards /internal, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.service = append(cfg.service, mw...) }
}
