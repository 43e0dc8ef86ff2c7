package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loopmarket/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar mounts a feature's routes onto a router group.
type RouteRegistrar func(r chi.Router)

// routeGroup pairs a mount path with its registrar and group middleware.
type routeGroup struct {
	name       string
	path       string
	registrar  RouteRegistrar
	middleware []func(http.Handler) http.Handler
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

func newRouterConfig() *routerConfig {
	cfg := &routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: map[string]*routeGroup{},
	}
	for _, name := range []string{"public", "me", "recycling", "checkout", "orders", "webhooks", "internal"} {
		cfg.groups[name] = &routeGroup{name: name, path: "/" + name}
	}
	return cfg
}

// NewRouter assembles the chi router: health endpoints at the root,
// feature groups under /api/v1, and stub handlers for any group left
// unregistered so the surface stays predictable across deployments.
func NewRouter(opts ...Option) chi.Router {
	cfg := newRouterConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range []string{"public", "me", "recycling", "checkout", "orders", "webhooks", "internal"} {
			group := cfg.groups[name]
			api.Route(group.path, func(gr chi.Router) {
				for _, mw := range group.middleware {
					if mw != nil {
						gr.Use(mw)
					}
				}
				if group.registrar != nil {
					group.registrar(gr)
					return
				}
				mountStub(gr, group.name)
			})
		}
	})

	return r
}

// mountStub answers 501 for a feature group with no registrar, keeping
// the path space stable while a feature is dark.
func mountStub(r chi.Router, name string) {
	stub := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", stub)
	r.HandleFunc("/*", stub)
	r.NotFound(stub)
	r.MethodNotAllowed(stub)
}

func groupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if g, ok := cfg.groups[name]; ok {
			g.registrar = reg
		}
	}
}

// WithMiddlewares appends global middleware applied to every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithPublicRoutes mounts the unauthenticated catalogue endpoints.
func WithPublicRoutes(reg RouteRegistrar) Option { return groupRoutes("public", reg) }

// WithMeRoutes mounts the caller-scoped reward endpoints.
func WithMeRoutes(reg RouteRegistrar) Option { return groupRoutes("me", reg) }

// WithRecyclingRoutes mounts the recycling submission endpoints.
func WithRecyclingRoutes(reg RouteRegistrar) Option { return groupRoutes("recycling", reg) }

// WithCheckoutRoutes mounts the checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return groupRoutes("checkout", reg) }

// WithOrderRoutes mounts the order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return groupRoutes("orders", reg) }

// WithWebhookRoutes mounts the payment webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option { return groupRoutes("webhooks", reg) }

// WithInternalRoutes mounts the service-to-service endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return groupRoutes("internal", reg) }

// WithInternalMiddlewares guards the /internal group, typically with
// the HMAC validator.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		if g, ok := cfg.groups["internal"]; ok {
			g.middleware = append(g.middleware, mw...)
		}
	}
}
