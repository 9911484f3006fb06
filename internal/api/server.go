// Package api serves the overlay engine over HTTP.
//
// Every response is JSON. Successful calls carry "success": true next to the
// result fields; failures carry "success": false and an "error" message.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/siterisk/internal/cache"
	"github.com/sells-group/siterisk/internal/config"
	"github.com/sells-group/siterisk/internal/metrics"
	"github.com/sells-group/siterisk/internal/overlay"
	"github.com/sells-group/siterisk/internal/polygon"
)

// Analyzer is the engine surface the handlers use. *overlay.Engine
// implements it.
type Analyzer interface {
	ListLayers(ctx context.Context) ([]string, error)
	DescribeLayer(ctx context.Context, layer string) (*overlay.LayerInfo, error)
	Analyze(ctx context.Context, poly *polygon.Polygon, layers []string) (*overlay.AnalysisResult, error)
	Overlay(ctx context.Context, poly *polygon.Polygon, layer string) overlay.LayerResult
	AreaSummary(ctx context.Context, poly *polygon.Polygon, layer, groupAttribute string) (*overlay.AreaSummary, error)
	Proximity(ctx context.Context, poly *polygon.Polygon, layer string, distanceM float64, nameAttribute string) (*overlay.ProximitySummary, error)
	Coverage(ctx context.Context, poly *polygon.Polygon, layers []string) (*overlay.CoverageSummary, error)
	Assess(ctx context.Context, poly *polygon.Polygon, opts overlay.AssessOptions) (*overlay.Assessment, error)
}

var _ Analyzer = (*overlay.Engine)(nil)

// Pinger checks datastore reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	analyzer Analyzer
	cfg      config.ServerConfig
	defaults config.DefaultsConfig
	cache    cache.Cache
	pinger   Pinger
}

// Option configures a Server.
type Option func(*Server)

// WithCache enables result caching.
func WithCache(c cache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithPinger makes /health report datastore reachability.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// NewServer creates a Server.
func NewServer(a Analyzer, cfg config.ServerConfig, defaults config.DefaultsConfig, opts ...Option) *Server {
	s := &Server{analyzer: a, cfg: cfg, defaults: defaults}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, "X-Cache"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	base := strings.TrimRight(s.cfg.BasePath, "/")
	if base == "" {
		r.Group(s.routes)
	} else {
		r.Route(base, s.routes)
	}
	return r
}

func (s *Server) routes(r chi.Router) {
	r.Use(rateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))

	if strings.TrimRight(s.cfg.BasePath, "/") != "" {
		r.Get("/health", s.handleHealth)
	}
	r.Get("/layers", s.handleListLayers)
	r.Get("/layers/{name}", s.handleDescribeLayer)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/analyze-polygon", s.handleAnalyze)
	r.Post("/area-summary", s.handleAreaSummary)
	r.Post("/alc-summary", s.handleALCSummary)
	r.Post("/proximity", s.handleProximity)
	r.Post("/renewables-proximity", s.handleRenewablesProximity)
	r.Post("/coverage", s.handleCoverage)
	r.Post("/flood-summary", s.handleCoverage)
	r.Post("/assessment", s.handleAssessment)
	r.Post("/find-points-in-polygon", s.handleFindPoints)
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

// NewHTTPServer wraps the handler in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	timeout := s.cfg.ReadHeaderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: timeout,
	}
}
