package shield

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"

	"github.com/yunojuno/csp-plus/policy"
)

// Header names emitted by CSPHeader.
const (
	HeaderCSP           = "Content-Security-Policy"
	HeaderCSPReportOnly = "Content-Security-Policy-Report-Only"
)

// CSPConfig controls the CSPHeader middleware.
type CSPConfig struct {
	// Enabled gates the whole middleware; when false requests pass
	// through untouched.
	Enabled bool

	// ReportOnly selects the Report-Only header name so violations are
	// reported without being enforced.
	ReportOnly bool

	// ReportURI is the violation report endpoint appended as the
	// report-uri directive on sampled responses.
	ReportURI string

	// SamplingRate is the fraction of responses, 0..1, whose header
	// carries the report-uri directive.
	SamplingRate float64

	// Policy yields the current compiled policy, typically
	// (*policy.Provider).Get.
	Policy func(ctx context.Context) (policy.Policy, error)

	// RequestFilter decides per-request whether the header applies.
	// Nil means every request.
	RequestFilter func(r *http.Request) bool

	// ResponseFilter decides, once the response status and headers are
	// known, whether the header applies. Nil selects HTMLOnly.
	ResponseFilter func(status int, header http.Header) bool

	// randFn is swapped in tests to pin the sampling draw.
	randFn func() float64
}

// HTMLOnly applies the CSP header to HTML responses only.
func HTMLOnly(_ int, header http.Header) bool {
	return strings.Contains(header.Get("Content-Type"), "text/html")
}

// CSPHeader returns middleware that sets the Content-Security-Policy
// header (or its Report-Only variant) on matching responses. The header
// is rendered when the response commits, so the nonce it carries is the
// same one handlers obtained from Nonce.
func CSPHeader(cfg CSPConfig) func(http.Handler) http.Handler {
	if cfg.ResponseFilter == nil {
		cfg.ResponseFilter = HTMLOnly
	}
	if cfg.randFn == nil {
		cfg.randFn = rand.Float64
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || (cfg.RequestFilter != nil && !cfg.RequestFilter(r)) {
				next.ServeHTTP(w, r)
				return
			}
			cw := &cspWriter{ResponseWriter: w, cfg: &cfg, req: r}
			next.ServeHTTP(cw, r)
			cw.commit(http.StatusOK)
		})
	}
}

// cspWriter defers the CSP header until the response commits: the
// handler has set its own headers by then, so the response filter sees
// the final content type.
type cspWriter struct {
	http.ResponseWriter
	cfg       *CSPConfig
	req       *http.Request
	committed bool
}

func (cw *cspWriter) WriteHeader(status int) {
	cw.commit(status)
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *cspWriter) Write(b []byte) (int, error) {
	cw.commit(http.StatusOK)
	return cw.ResponseWriter.Write(b)
}

func (cw *cspWriter) commit(status int) {
	if cw.committed {
		return
	}
	cw.committed = true
	if !cw.cfg.ResponseFilter(status, cw.Header()) {
		return
	}

	p, err := cw.cfg.Policy(cw.req.Context())
	if err != nil {
		// a response without a CSP header beats a 500
		slog.Error("CSP policy unavailable, header omitted", "error", err)
		return
	}

	sampled := cw.cfg.ReportURI != "" && cw.cfg.randFn() < cw.cfg.SamplingRate
	value := policy.Render(p, Nonce(cw.req.Context()), sampled, cw.cfg.ReportURI)
	if value == "" {
		return
	}

	name := HeaderCSP
	if cw.cfg.ReportOnly {
		name = HeaderCSPReportOnly
	}
	cw.Header().Set(name, value)
}
