package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yunojuno/csp-plus/csp"
	"github.com/yunojuno/csp-plus/metrics"
	"github.com/yunojuno/csp-plus/store"
)

// Promoter converts stored violation reports into permanent rules or
// blacklist entries.
type Promoter struct {
	store   *store.Store
	metrics metrics.Metrics
}

// NewPromoter creates a Promoter. A nil m selects metrics.Noop.
func NewPromoter(s *store.Store, m metrics.Metrics) *Promoter {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Promoter{store: s, metrics: m}
}

// PromoteRule converts the report into an enabled rule, deleting the
// report. A nil rule with a nil error means an equivalent rule already
// existed; the redundant report is deleted either way. Re-running a
// half-applied promotion is safe - the create conflicts again and the
// report is cleaned up.
func (p *Promoter) PromoteRule(ctx context.Context, reportID int64) (*store.Rule, error) {
	report, err := p.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("report %d not found", reportID)
	}

	value := csp.CleanValue(report.BlockedURI)
	rule, created, err := p.store.PromoteRule(ctx, report, value)
	if err != nil {
		return nil, err
	}
	if !created {
		slog.Debug("duplicate rule found, deleted violation report", "report_id", reportID)
		p.metrics.IncPromotion("rule_duplicate")
		return nil, nil
	}
	slog.Debug("rule created from violation report",
		"report_id", reportID, "directive", rule.Directive, "value", rule.Value)
	p.metrics.IncPromotion("rule")
	return rule, nil
}

// PromoteBlacklist converts the report into a blacklist entry, deleting
// the report whether or not the entry already existed. The returned
// bool is false for an existing entry.
func (p *Promoter) PromoteBlacklist(ctx context.Context, reportID int64) (bool, error) {
	report, err := p.store.GetReport(ctx, reportID)
	if err != nil {
		return false, err
	}
	if report == nil {
		return false, fmt.Errorf("report %d not found", reportID)
	}

	created, err := p.store.PromoteBlacklist(ctx, report)
	if err != nil {
		return false, err
	}
	if created {
		p.metrics.IncPromotion("blacklist")
	} else {
		p.metrics.IncPromotion("blacklist_duplicate")
	}
	return created, nil
}
