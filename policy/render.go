package policy

import (
	"sort"
	"strings"

	"github.com/yunojuno/csp-plus/csp"
)

// Render turns a policy into the literal header value. Directives are
// emitted in sorted order so output is stable; empty directives and
// any report-uri entry in the policy itself are skipped - the report
// directive comes from reportURI and is always appended last, when
// includeReport is set. A "nonce" placeholder value is replaced with
// 'nonce-<nonce>', or dropped when no nonce was generated for the
// request.
func Render(p Policy, nonce string, includeReport bool, reportURI string) string {
	directives := make([]string, 0, len(p))
	for d := range p {
		if d == csp.ReportURI {
			continue
		}
		directives = append(directives, d)
	}
	sort.Strings(directives)

	var fragments []string
	for _, d := range directives {
		values := make([]string, 0, len(p[d]))
		for _, v := range p[d] {
			if v == "nonce" || v == "'nonce'" {
				if nonce == "" {
					continue
				}
				v = "'nonce-" + nonce + "'"
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			continue
		}
		fragments = append(fragments, d+" "+strings.Join(values, " "))
	}

	if includeReport && reportURI != "" {
		fragments = append(fragments, csp.ReportURI+" "+reportURI)
	}
	return strings.TrimSpace(strings.Join(fragments, "; "))
}
