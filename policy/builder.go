// Package policy compiles the CSP from default rules plus the enabled
// rule store entries, memoizes the result behind a TTL cache, and
// renders it into the response header string.
package policy

import (
	"context"
	"log/slog"
	"sort"

	"github.com/yunojuno/csp-plus/csp"
	"github.com/yunojuno/csp-plus/store"
)

// Policy maps a directive to its deduped set of source expressions. It
// is a disposable projection of the rule store: losing it is always
// safe, the next read rebuilds it.
type Policy map[string][]string

// RuleSource supplies the enabled rules the policy is compiled from.
type RuleSource interface {
	EnabledRules(ctx context.Context) ([]store.Rule, error)
}

// Builder compiles a Policy from the static defaults and the rule
// store, applying the directive downgrade map on the way in.
type Builder struct {
	rules     RuleSource
	defaults  Policy
	downgrade map[string]string
}

// NewBuilder creates a Builder. defaults and downgrade are captured by
// reference but never mutated; each Build starts from a fresh copy.
func NewBuilder(rules RuleSource, defaults Policy, downgrade map[string]string) *Builder {
	return &Builder{rules: rules, defaults: defaults, downgrade: downgrade}
}

// Build compiles the current policy: defaults first, then every
// enabled rule, each directive downgraded if configured and dropped if
// unknown, each value list normalized and deduped.
func (b *Builder) Build(ctx context.Context) (Policy, error) {
	slog.Debug("building new CSP")
	policy := make(Policy, len(b.defaults))

	add := func(directive, value string) {
		if mapped, ok := b.downgrade[directive]; ok {
			slog.Debug("downgrading directive", "from", directive, "to", mapped)
			directive = mapped
		}
		if !csp.ValidDirective(directive) {
			slog.Debug("ignoring unknown directive", "directive", directive)
			return
		}
		policy[directive] = append(policy[directive], value)
	}

	for directive, values := range b.defaults {
		for _, v := range values {
			add(directive, v)
		}
	}

	rules, err := b.rules.EnabledRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		add(r.Directive, r.Value)
	}

	for directive, values := range policy {
		policy[directive] = Dedupe(values)
	}
	return policy, nil
}

// Dedupe normalizes each value and collapses the list to a sorted set.
// A 'none' that survives alongside other tokens is dropped: CSP treats
// 'none' combined with anything else as invalid.
func Dedupe(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[csp.CleanValue(v)] = struct{}{}
	}
	if len(set) > 1 {
		delete(set, "'none'")
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
