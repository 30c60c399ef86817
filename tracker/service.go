package tracker

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yunojuno/csp-plus/cache"
	"github.com/yunojuno/csp-plus/metrics"
	"github.com/yunojuno/csp-plus/policy"
	"github.com/yunojuno/csp-plus/report"
	"github.com/yunojuno/csp-plus/shield"
	"github.com/yunojuno/csp-plus/store"
)

// ReportPath is the violation report endpoint, referenced both by the
// router and by the report-uri directive rendered into the header.
const ReportPath = "/report-uri"

// Service wires the store, policy provider and report pipeline behind
// one router.
type Service struct {
	cfg      Config
	store    *store.Store
	provider *policy.Provider
	pipeline *report.Pipeline
	promoter *report.Promoter
	prom     *metrics.Prom
}

// New assembles a Service on an open database. A nil prom disables the
// /metrics endpoint and counts nothing.
func New(cfg Config, db *sql.DB, c cache.Cache, prom *metrics.Prom) (*Service, error) {
	st, err := store.New(db)
	if err != nil {
		return nil, err
	}

	var m metrics.Metrics = metrics.Noop{}
	if prom != nil {
		m = prom
	}

	builder := policy.NewBuilder(st, cfg.DefaultRules, cfg.DirectiveDowngrade)
	provider := policy.NewProvider(builder, c, cfg.CacheTTL, m)
	// every rule or blacklist mutation clears the cached policy
	st.OnChange(provider.Invalidate)

	return &Service{
		cfg:      cfg,
		store:    st,
		provider: provider,
		pipeline: report.NewPipeline(st, cfg.ReportThrottling, m),
		promoter: report.NewPromoter(st, m),
		prom:     prom,
	}, nil
}

// Store exposes the underlying store, mostly for tests.
func (s *Service) Store() *store.Store { return s.store }

// Provider exposes the policy provider.
func (s *Service) Provider() *policy.Provider { return s.provider }

// CSPConfig returns the middleware configuration matching the service,
// for embedding the tracker's middleware into a host application.
func (s *Service) CSPConfig() shield.CSPConfig {
	return shield.CSPConfig{
		Enabled:      s.cfg.Enabled,
		ReportOnly:   s.cfg.ReportOnly,
		ReportURI:    ReportPath,
		SamplingRate: s.cfg.ReportSampling,
		Policy:       s.provider.Get,
	}
}

// Router builds the full HTTP surface: the open report endpoint, the
// operator API behind Basic Auth, and the demo page carrying the CSP
// header the service itself issues.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Open by design: browsers POST violation reports with no
	// credentials. Body size and throttling are the only guards.
	r.Group(func(r chi.Router) {
		r.Use(shield.MaxBody(s.cfg.ReportMaxBytes))
		r.Post(ReportPath, s.pipeline.Handler())
	})

	// Demo page exercises the full middleware stack.
	r.Group(func(r chi.Router) {
		r.Use(shield.WithNonce)
		r.Use(shield.CSPHeader(s.CSPConfig()))
		r.Get("/demo", s.handleDemo)
	})

	// Operator surface.
	r.Group(func(r chi.Router) {
		r.Use(basicAuth(s.cfg.Auth))

		r.Get("/diagnostics", s.handleDiagnostics)

		r.Route("/api/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/enable", s.handleSetRulesEnabled(true))
			r.Post("/disable", s.handleSetRulesEnabled(false))
			r.Post("/strip", s.handleStripRules)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Route("/api/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Post("/{id}/promote", s.handlePromoteRule)
			r.Post("/{id}/blacklist", s.handlePromoteBlacklist)
			r.Delete("/{id}", s.handleDeleteReport)
		})

		r.Route("/api/blacklist", func(r chi.Router) {
			r.Get("/", s.handleListBlacklist)
			r.Post("/", s.handleAddBlacklist)
			r.Delete("/{id}", s.handleDeleteBlacklist)
		})

		if s.prom != nil {
			r.Method(http.MethodGet, "/metrics", s.prom.Handler())
		}
	})

	return r
}
