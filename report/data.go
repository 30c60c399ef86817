// Package report ingests the violation reports browsers POST to the
// report-uri endpoint and promotes stored reports into rules or
// blacklist entries. The endpoint is unauthenticated and internet
// facing: nothing a client sends may produce anything other than a
// 200, 201 or 400.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yunojuno/csp-plus/csp"
)

// maxURILen caps stored URI fields.
const maxURILen = 200

// Data is the inner "csp-report" object. Browser support is patchy at
// best - everything is optional on the wire, but without blocked-uri
// and one of the directive fields the report is useless.
type Data struct {
	BlockedURI         string `json:"blocked-uri"`
	EffectiveDirective string `json:"effective-directive"`
	ViolatedDirective  string `json:"violated-directive"`
	Disposition        string `json:"disposition"`
	DocumentURI        string `json:"document-uri"`
	OriginalPolicy     string `json:"original-policy"`
	Referrer           string `json:"referrer"`
	ScriptSample       string `json:"script-sample"`
	SourceFile         string `json:"source-file"`
	LineNumber         int64  `json:"line-number"`
	StatusCode         int    `json:"status-code"`
}

type payload struct {
	Report *Data `json:"csp-report"`
}

// Parse decodes a report-uri request body. It fails when the body is
// not JSON or lacks the top-level "csp-report" key.
func Parse(body []byte) (*Data, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("must contain valid JSON")
	}
	if p.Report == nil {
		return nil, fmt.Errorf("must contain 'csp-report'")
	}
	return p.Report, nil
}

// Validate checks the required fields, falling back from the missing
// effective-directive to the deprecated violated-directive. It returns
// the offending field names, empty when the data is usable.
func (d *Data) Validate() []string {
	var missing []string
	if d.BlockedURI == "" {
		missing = append(missing, "blocked-uri")
	}
	if d.EffectiveDirective == "" {
		if d.ViolatedDirective != "" {
			d.EffectiveDirective = d.ViolatedDirective
		} else {
			missing = append(missing, "effective-directive", "violated-directive")
		}
	}
	return missing
}

// Normalize strips query strings and fragments from the URI fields and
// truncates them to the storage length. Running it twice is a no-op.
func (d *Data) Normalize() {
	d.BlockedURI = normalizeURI(d.BlockedURI)
	d.DocumentURI = normalizeURI(d.DocumentURI)
}

func normalizeURI(uri string) string {
	uri = csp.StripFragment(csp.StripQuery(uri))
	if i := strings.Index(uri, "#"); i >= 0 {
		// no scheme, so StripFragment left it alone
		uri = uri[:i]
	}
	if len(uri) > maxURILen {
		uri = uri[:maxURILen]
	}
	return strings.TrimSuffix(uri, "/")
}
