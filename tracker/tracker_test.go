package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/yunojuno/csp-plus/cache"
	"github.com/yunojuno/csp-plus/dbopen"
	"github.com/yunojuno/csp-plus/store"
)

func newService(t *testing.T, cfg Config) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t)
	svc, err := New(cfg, db, cache.NewMemory(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func postJSON(t *testing.T, handler http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

const sampleReport = `{"csp-report": {
	"blocked-uri": "https://cdn.example.com/app.js?v=1",
	"effective-directive": "script-src",
	"document-uri": "https://example.com/page",
	"disposition": "enforce"
}}`

func TestHealth(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()
	if w := get(t, r, "/health"); w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	svc := newService(t, DefaultConfig())
	r := svc.Router()

	w := postJSON(t, r, ReportPath, sampleReport)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = get(t, r, "/api/reports")
	var reports []store.Report
	if err := json.NewDecoder(w.Body).Decode(&reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if got := reports[0].BlockedURI; got != "https://cdn.example.com/app.js" {
		t.Errorf("blocked_uri = %q", got)
	}
}

func TestReportEndpointBadPayload(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()

	if w := postJSON(t, r, ReportPath, "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: expected 400, got %d", w.Code)
	}
	if w := postJSON(t, r, ReportPath, `{"nope": {}}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing csp-report: expected 400, got %d", w.Code)
	}
}

func TestDemoHeaderCarriesPageNonce(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()

	w := get(t, r, "/demo")
	if w.Code != http.StatusOK {
		t.Fatalf("demo = %d", w.Code)
	}
	header := w.Header().Get("Content-Security-Policy-Report-Only")
	if header == "" {
		t.Fatal("expected report-only CSP header on demo page")
	}
	if !strings.Contains(header, "report-uri "+ReportPath) {
		t.Errorf("expected report-uri directive in %q", header)
	}

	// script nonce in the page body must match the header
	body := w.Body.String()
	i := strings.Index(body, `nonce="`)
	if i < 0 {
		t.Fatal("demo page has no nonce attribute")
	}
	nonce := body[i+len(`nonce="`):]
	nonce = nonce[:strings.Index(nonce, `"`)]
	if nonce == "" {
		t.Fatal("empty nonce in demo page")
	}
	if !strings.Contains(header, "'nonce-"+nonce+"'") {
		t.Errorf("header %q does not carry page nonce %q", header, nonce)
	}
}

func TestEnforcingHeaderName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReportOnly = false
	r := newService(t, cfg).Router()

	w := get(t, r, "/demo")
	if got := w.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("expected enforcing CSP header")
	}
	if got := w.Header().Get("Content-Security-Policy-Report-Only"); got != "" {
		t.Errorf("unexpected report-only header %q", got)
	}
}

func TestRuleCreationRefreshesHeader(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()

	before := get(t, r, "/demo").Header().Get("Content-Security-Policy-Report-Only")
	if strings.Contains(before, "https://cdn.example.com") {
		t.Fatalf("premature value in %q", before)
	}

	w := postJSON(t, r, "/api/rules", `{"directive":"script-src","value":"https://cdn.example.com","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule = %d: %s", w.Code, w.Body.String())
	}

	// cache TTL is an hour; only invalidation can surface the rule now
	after := get(t, r, "/demo").Header().Get("Content-Security-Policy-Report-Only")
	if !strings.Contains(after, "https://cdn.example.com") {
		t.Errorf("expected new rule in refreshed header %q", after)
	}
}

func TestRuleLifecycle(t *testing.T) {
	svc := newService(t, DefaultConfig())
	r := svc.Router()

	w := postJSON(t, r, "/api/rules", `{"directive":"img-src","value":"https://img.example.com","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	var rule store.Rule
	json.NewDecoder(w.Body).Decode(&rule)

	// duplicate create reports the existing rule
	if w := postJSON(t, r, "/api/rules", `{"directive":"img-src","value":"https://img.example.com","enabled":true}`); w.Code != http.StatusOK {
		t.Errorf("duplicate create = %d, want 200", w.Code)
	}

	body, _ := json.Marshal(map[string][]int64{"ids": {rule.ID}})
	if w := postJSON(t, r, "/api/rules/disable", string(body)); w.Code != http.StatusOK {
		t.Errorf("disable = %d", w.Code)
	}
	rules, _ := svc.Store().EnabledRules(context.Background())
	if len(rules) != 0 {
		t.Errorf("expected no enabled rules after disable, got %d", len(rules))
	}

	if w := postJSON(t, r, "/api/rules/enable", string(body)); w.Code != http.StatusOK {
		t.Errorf("enable = %d", w.Code)
	}

	req := httptest.NewRequest("DELETE", "/api/rules/"+idStr(rule.ID), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
}

func TestCreateRuleRejectsUnknownDirective(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()
	w := postJSON(t, r, "/api/rules", `{"directive":"bogus-src","value":"x","enabled":true}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPromoteReportToRule(t *testing.T) {
	svc := newService(t, DefaultConfig())
	r := svc.Router()

	postJSON(t, r, ReportPath, sampleReport)
	reports, _ := svc.Store().ListReports(context.Background())
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}

	w := postJSON(t, r, "/api/reports/"+idStr(reports[0].ID)+"/promote", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("promote = %d: %s", w.Code, w.Body.String())
	}

	rules, _ := svc.Store().EnabledRules(context.Background())
	if len(rules) != 1 || rules[0].Value != "https://cdn.example.com/app.js" {
		t.Errorf("unexpected rules after promote: %+v", rules)
	}
	if left, _ := svc.Store().ListReports(context.Background()); len(left) != 0 {
		t.Errorf("report not deleted after promotion")
	}
}

func TestPromoteReportToBlacklist(t *testing.T) {
	svc := newService(t, DefaultConfig())
	r := svc.Router()

	postJSON(t, r, ReportPath, sampleReport)
	reports, _ := svc.Store().ListReports(context.Background())

	w := postJSON(t, r, "/api/reports/"+idStr(reports[0].ID)+"/blacklist", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("blacklist = %d: %s", w.Code, w.Body.String())
	}

	// the same violation is now filtered before storage
	if w := postJSON(t, r, ReportPath, sampleReport); w.Code != http.StatusOK {
		t.Errorf("blacklisted report = %d, want 200", w.Code)
	}
	if left, _ := svc.Store().ListReports(context.Background()); len(left) != 0 {
		t.Errorf("blacklisted report was stored")
	}
}

func TestPromoteMissingReport(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()
	if w := postJSON(t, r, "/api/reports/999/promote", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBlacklistCRUD(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()

	w := postJSON(t, r, "/api/blacklist", `{"directive":"script-src","blocked_uri":"https://ads.example.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d", w.Code)
	}
	var entry store.BlacklistEntry
	json.NewDecoder(w.Body).Decode(&entry)

	if w := postJSON(t, r, "/api/blacklist", `{"directive":"script-src","blocked_uri":"https://ads.example.com"}`); w.Code != http.StatusOK {
		t.Errorf("duplicate add = %d, want 200", w.Code)
	}

	w = get(t, r, "/api/blacklist")
	var entries []store.BlacklistEntry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}

	req := httptest.NewRequest("DELETE", "/api/blacklist/"+idStr(entry.ID), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
}

func TestDiagnostics(t *testing.T) {
	r := newService(t, DefaultConfig()).Router()
	w := get(t, r, "/diagnostics")
	if w.Code != http.StatusOK {
		t.Fatalf("diagnostics = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Default rules:", "Compiled CSP:", "script-src-elem -> script-src", "default-src"} {
		if !strings.Contains(body, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestOperatorAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Auth = AuthConfig{User: "ops", PasswordHash: string(hash)}
	r := newService(t, cfg).Router()

	if w := get(t, r, "/api/rules"); w.Code != http.StatusUnauthorized {
		t.Errorf("no creds = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/rules", nil)
	req.SetBasicAuth("ops", "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/rules", nil)
	req.SetBasicAuth("ops", "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("good creds = %d, want 200", w.Code)
	}

	// the report endpoint stays open
	if w := postJSON(t, r, ReportPath, sampleReport); w.Code != http.StatusCreated {
		t.Errorf("report with auth enabled = %d, want 201", w.Code)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"sampling too high", func(c *Config) { c.ReportSampling = 1.5 }, false},
		{"negative throttle", func(c *Config) { c.ReportThrottling = -0.1 }, false},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }, false},
		{"zero max bytes", func(c *Config) { c.ReportMaxBytes = 0 }, false},
		{"empty listen", func(c *Config) { c.Listen = "" }, false},
		{"user without hash", func(c *Config) { c.Auth.User = "ops" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	content := []byte("report_only: false\nreport_throttling: 0.25\nlisten: \":9000\"\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ReportOnly {
		t.Error("report_only not overridden")
	}
	if cfg.ReportThrottling != 0.25 {
		t.Errorf("report_throttling = %v", cfg.ReportThrottling)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	// absent keys keep their defaults
	if cfg.ReportSampling != 1.0 || cfg.CacheTTL != time.Hour {
		t.Errorf("defaults lost: sampling %v ttl %v", cfg.ReportSampling, cfg.CacheTTL)
	}
}

func idStr(id int64) string {
	return strconv.FormatInt(id, 10)
}
