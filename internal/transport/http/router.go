// Package httptransport assembles the chi router: middleware chain, public
// reads, the NAV feed, and the role-gated member/operator/governance
// surfaces.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	capacityhandler "fundgate/internal/capacity/handler"
	issuancehandler "fundgate/internal/issuance/handler"
	oraclehandler "fundgate/internal/oracle/handler"
	"fundgate/internal/platform/metrics"
	"fundgate/internal/platform/middleware"
	"fundgate/internal/platform/token"
	windowhandler "fundgate/internal/window/handler"
	"fundgate/pkg/platform/httputil"
)

type Handlers struct {
	Oracle   *oraclehandler.Handler
	Capacity *capacityhandler.Handler
	Window   *windowhandler.Handler
	Issuance *issuancehandler.Handler
}

type Router struct {
	handlers Handlers
	tokens   *token.Service
	logger   *slog.Logger
	httpM    *metrics.HTTP
	registry *prometheus.Registry
}

func NewRouter(handlers Handlers, tokens *token.Service, registry *prometheus.Registry, httpMetrics *metrics.HTTP, logger *slog.Logger) *Router {
	return &Router{
		handlers: handlers,
		tokens:   tokens,
		logger:   logger,
		httpM:    httpMetrics,
		registry: registry,
	}
}

func (rt *Router) Build() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestContext)
	if rt.httpM != nil {
		r.Use(rt.httpM.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if rt.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}

	// Public reads need no token.
	rt.handlers.Oracle.RegisterPublic(r)
	rt.handlers.Capacity.RegisterPublic(r)
	rt.handlers.Window.RegisterPublic(r)
	rt.handlers.Issuance.RegisterPublic(r)

	// NAV updates authenticate in-band with quorum signatures.
	rt.handlers.Oracle.RegisterFeed(r)

	r.Group(func(g chi.Router) {
		g.Use(middleware.RequireRole(rt.tokens, token.RoleMember, rt.logger))
		rt.handlers.Issuance.RegisterMember(g)
	})

	r.Group(func(g chi.Router) {
		g.Use(middleware.RequireRole(rt.tokens, token.RoleOperator, rt.logger))
		rt.handlers.Window.RegisterOperator(g)
	})

	r.Group(func(g chi.Router) {
		g.Use(middleware.RequireRole(rt.tokens, token.RoleGovernance, rt.logger))
		rt.handlers.Oracle.RegisterGovernance(g)
		rt.handlers.Capacity.RegisterGovernance(g)
		rt.handlers.Issuance.RegisterGovernance(g)
	})

	return r
}
