package report

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/yunojuno/csp-plus/metrics"
	"github.com/yunojuno/csp-plus/store"
)

// Terminal outcomes of the ingestion pipeline, used as metric labels.
const (
	OutcomeStored      = "stored"      // accepted and persisted
	OutcomeThrottled   = "throttled"   // discarded unparsed
	OutcomeBlacklisted = "blacklisted" // accepted, silently discarded
	OutcomeRejected    = "rejected"    // client error
	OutcomeConflict    = "conflict"    // storage failure treated as benign duplicate
)

// RejectError carries the 400 reason back to the reporting client.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

// Pipeline validates, throttles, blacklist-filters and persists
// inbound violation reports.
type Pipeline struct {
	store    *store.Store
	throttle float64
	metrics  metrics.Metrics
	randFn   func() float64
}

// NewPipeline creates a Pipeline. throttle is the probability [0,1]
// that a report is discarded without being parsed; a nil m selects
// metrics.Noop.
func NewPipeline(s *store.Store, throttle float64, m metrics.Metrics) *Pipeline {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Pipeline{store: s, throttle: throttle, metrics: m, randFn: rand.Float64}
}

// Throttled draws the throttle decision for one inbound report. It is
// checked before the body is parsed so that attack traffic costs as
// little as possible.
func (p *Pipeline) Throttled() bool {
	if p.throttle <= 0 {
		return false
	}
	throttled := p.randFn() < p.throttle
	if throttled {
		p.metrics.IncReport(OutcomeThrottled)
	}
	return throttled
}

// Ingest runs the body through parse, validate, normalize, blacklist
// filter and upsert. The returned outcome is terminal; err is non-nil
// only for OutcomeRejected and is always a *RejectError.
func (p *Pipeline) Ingest(ctx context.Context, body []byte) (string, *store.Report, error) {
	data, err := Parse(body)
	if err != nil {
		p.metrics.IncReport(OutcomeRejected)
		return OutcomeRejected, nil, &RejectError{Reason: "Invalid CSP report - " + err.Error()}
	}

	if missing := data.Validate(); len(missing) > 0 {
		p.metrics.IncReport(OutcomeRejected)
		return OutcomeRejected, nil, &RejectError{
			Reason: "Invalid CSP report - report data is invalid: " + strings.Join(missing, ", "),
		}
	}

	data.Normalize()

	// Defensive: validation guarantees a directive, but a blacklisted or
	// somehow-empty report is discarded silently rather than erroring.
	if data.EffectiveDirective == "" {
		p.metrics.IncReport(OutcomeBlacklisted)
		return OutcomeBlacklisted, nil, nil
	}
	blacklisted, err := p.store.IsBlacklisted(ctx, data.EffectiveDirective, data.BlockedURI)
	if err != nil {
		slog.Error("blacklist check failed", "error", err)
		// fall through: a broken blacklist must not lose reports
	}
	if blacklisted {
		slog.Debug("ignoring blacklisted CSP report",
			"directive", data.EffectiveDirective, "blocked_uri", data.BlockedURI)
		p.metrics.IncReport(OutcomeBlacklisted)
		return OutcomeBlacklisted, nil, nil
	}

	stored, err := p.store.UpsertReport(ctx,
		data.EffectiveDirective, data.BlockedURI, data.DocumentURI, data.Disposition)
	if err != nil {
		// Uniqueness races and other storage hiccups are benign from the
		// browser's point of view; it will not retry on error anyway.
		slog.Error("error saving CSP report", "error", err)
		p.metrics.IncReport(OutcomeConflict)
		return OutcomeConflict, nil, nil
	}
	p.metrics.IncReport(OutcomeStored)
	return OutcomeStored, stored, nil
}
