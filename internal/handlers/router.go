package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
	corsMaxAge     = 600
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one mount point under the API prefix. Groups without a registrar answer 501.
type routeGroup struct {
	path     string
	register RouteRegistrar
}

// groups are mounted in this order.
var groupOrder = []string{"orders", "shop", "payments", "webhooks"}

var groupPaths = map[string]string{
	"orders":   "/orders",
	"shop":     "/shop/orders",
	"payments": "/payments",
	"webhooks": "/webhooks",
}

type routerConfig struct {
	chain   []func(http.Handler) http.Handler
	origins []string
	health  *HealthHandlers
	groups  map[string]routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi mux: request id, real ip and timeout first, then CORS when
// origins are configured, then caller middleware, then the probes and the API groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{groups: make(map[string]routeGroup, len(groupOrder))}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	if len(cfg.origins) > 0 {
		mux.Use(corsHandler(cfg.origins))
	}
	for _, mw := range cfg.chain {
		if mw != nil {
			mux.Use(mw)
		}
	}

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		routeError(w, r, "route_not_found", http.StatusNotFound, "no route for %s", r.URL.Path)
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		routeError(w, r, "method_not_allowed", http.StatusMethodNotAllowed, "method %s not allowed on %s", r.Method, r.URL.Path)
	})

	mux.Get("/healthz", cfg.health.Healthz)
	mux.Get("/readyz", cfg.health.Readyz)

	mux.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groupOrder {
			group, ok := cfg.groups[name]
			if !ok {
				group = routeGroup{path: groupPaths[name]}
			}
			api.Route(group.path, func(sub chi.Router) {
				if group.register == nil {
					notImplemented(sub, name)
					return
				}
				group.register(sub)
			})
		}
	})
	return mux
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Idempotent-Replay"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}).Handler
}

func routeError(w http.ResponseWriter, r *http.Request, code string, status int, format string, args ...any) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, fmt.Sprintf(format, args...), status))
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		routeError(w, req, "not_implemented", http.StatusNotImplemented, "%s routes not implemented", name)
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}

// WithMiddlewares appends global middleware, applied after the built-in chain.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.chain = append(cfg.chain, mw...)
	}
}

// WithAllowedOrigins enables CORS for browser clients on the given origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(cfg *routerConfig) {
		cfg.origins = append(cfg.origins, origins...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[name] = routeGroup{path: groupPaths[name], register: reg}
	}
}

// WithOrderRoutes mounts the customer order endpoints under /orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("orders", reg) }

// WithShopRoutes mounts the shop queue under /shop/orders.
func WithShopRoutes(reg RouteRegistrar) Option { return withGroup("shop", reg) }

// WithPaymentRoutes mounts the browser payment return under /payments.
func WithPaymentRoutes(reg RouteRegistrar) Option { return withGroup("payments", reg) }

// WithWebhookRoutes mounts gateway callbacks under /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup("webhooks", reg) }
