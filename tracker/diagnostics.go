package tracker

import (
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/yunojuno/csp-plus/policy"
	"github.com/yunojuno/csp-plus/shield"
)

// handleDiagnostics dumps the effective policy inputs and output as
// plain text, for eyeballing what the header will contain and why.
func (s *Service) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.store.EnabledRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	compiled, err := s.provider.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var b strings.Builder
	b.WriteString("=== CSP diagnostics ===\n\n")
	fmt.Fprintf(&b, "enabled: %v\nreport_only: %v\nsampling: %v\nthrottling: %v\n\n",
		s.cfg.Enabled, s.cfg.ReportOnly, s.cfg.ReportSampling, s.cfg.ReportThrottling)

	b.WriteString("Default rules:\n")
	for _, d := range sortedKeys(s.cfg.DefaultRules) {
		fmt.Fprintf(&b, "  %s: %s\n", d, strings.Join(s.cfg.DefaultRules[d], " "))
	}

	b.WriteString("\nExtra rules (enabled):\n")
	for _, rule := range enabled {
		fmt.Fprintf(&b, "  %s: %s\n", rule.Directive, rule.Value)
	}

	b.WriteString("\nDirective downgrades:\n")
	for _, d := range sortedKeys(s.cfg.DirectiveDowngrade) {
		fmt.Fprintf(&b, "  %s -> %s\n", d, s.cfg.DirectiveDowngrade[d])
	}

	b.WriteString("\nCompiled CSP:\n")
	rendered := policy.Render(compiled, "", true, ReportPath)
	for _, fragment := range strings.Split(rendered, "; ") {
		fmt.Fprintf(&b, "  %s\n", fragment)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(b.String()))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var demoTmpl = template.Must(template.New("demo").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>CSP tracker demo</title>
</head>
<body>
  <h1>CSP tracker demo</h1>
  <p>This page is served with the tracker's own CSP header.</p>
  <p>The inline script below carries the request nonce and should run;
  the image is loaded from a third-party host and should be blocked
  and reported.</p>
  <script nonce="{{.Nonce}}">document.title = "nonce ok";</script>
  <img src="https://via.placeholder.com/150" alt="likely blocked">
</body>
</html>
`))

// handleDemo serves an HTML page behind the nonce and CSP middleware,
// wired so a browser visiting it exercises the whole loop: header out,
// violation report back in.
func (s *Service) handleDemo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	demoTmpl.Execute(w, struct{ Nonce string }{Nonce: shield.Nonce(r.Context())})
}
