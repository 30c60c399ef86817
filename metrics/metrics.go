// Package metrics counts what the tracker does: report pipeline
// outcomes, policy rebuilds and cache traffic. The interface keeps the
// core packages free of a hard prometheus dependency; tests use Noop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records tracker events.
type Metrics interface {
	// IncReport counts an inbound report by terminal outcome
	// (stored, throttled, blacklisted, rejected, conflict).
	IncReport(outcome string)
	// IncPromotion counts an operator promotion by result
	// (rule, rule_duplicate, blacklist, blacklist_duplicate).
	IncPromotion(result string)
	IncPolicyRebuild()
	IncCacheHit()
	IncCacheMiss()
}

// Noop implements Metrics without recording anything.
type Noop struct{}

func (Noop) IncReport(string)    {}
func (Noop) IncPromotion(string) {}
func (Noop) IncPolicyRebuild()   {}
func (Noop) IncCacheHit()        {}
func (Noop) IncCacheMiss()       {}

// Prom implements Metrics backed by prometheus counters.
type Prom struct {
	reports    *prometheus.CounterVec
	promotions *prometheus.CounterVec
	rebuilds   prometheus.Counter
	cacheHits  prometheus.Counter
	cacheMiss  prometheus.Counter
	registry   *prometheus.Registry
}

// NewProm creates prometheus-backed metrics on a private registry.
func NewProm(namespace string) *Prom {
	p := &Prom{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Inbound CSP reports by terminal outcome",
		}, []string{"outcome"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Report promotions by result",
		}, []string{"result"}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_rebuilds_total",
			Help:      "Policy rebuilds after cache misses or invalidations",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_cache_hits_total",
			Help:      "Policy cache hits",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_cache_misses_total",
			Help:      "Policy cache misses",
		}),
		registry: prometheus.NewRegistry(),
	}
	p.registry.MustRegister(p.reports, p.promotions, p.rebuilds, p.cacheHits, p.cacheMiss)
	return p
}

func (p *Prom) IncReport(outcome string)   { p.reports.WithLabelValues(outcome).Inc() }
func (p *Prom) IncPromotion(result string) { p.promotions.WithLabelValues(result).Inc() }
func (p *Prom) IncPolicyRebuild()          { p.rebuilds.Inc() }
func (p *Prom) IncCacheHit()               { p.cacheHits.Inc() }
func (p *Prom) IncCacheMiss()              { p.cacheMiss.Inc() }

// Handler serves the registry in the prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
