package policy

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/yunojuno/csp-plus/cache"
	"github.com/yunojuno/csp-plus/store"
)

// fakeRules is a RuleSource returning a fixed rule list and counting
// calls - one call per policy build.
type fakeRules struct {
	rules []store.Rule
	calls int
}

func (f *fakeRules) EnabledRules(context.Context) ([]store.Rule, error) {
	f.calls++
	return f.rules, nil
}

func defaultRules() Policy {
	return Policy{
		"default-src": {"'none'"},
		"img-src":     {"'self'"},
		"script-src":  {"'self'"},
	}
}

func TestBuildMergesDefaultsAndRules(t *testing.T) {
	rules := &fakeRules{rules: []store.Rule{
		{Directive: "img-src", Value: "https://example.com"},
		{Directive: "script-src", Value: "self"},
	}}
	b := NewBuilder(rules, defaultRules(), nil)

	p, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := p["img-src"]; !reflect.DeepEqual(got, []string{"'self'", "https://example.com"}) {
		t.Fatalf("img-src = %v", got)
	}
	// "self" from the rule normalizes to 'self' and collapses into the default.
	if got := p["script-src"]; !reflect.DeepEqual(got, []string{"'self'"}) {
		t.Fatalf("script-src = %v", got)
	}
}

func TestBuildDowngradesDirectives(t *testing.T) {
	rules := &fakeRules{rules: []store.Rule{
		{Directive: "script-src-elem", Value: "https://cdn.example.com"},
	}}
	downgrade := map[string]string{"script-src-elem": "script-src"}
	b := NewBuilder(rules, Policy{}, downgrade)

	p, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p["script-src-elem"]; ok {
		t.Fatal("script-src-elem should have been downgraded")
	}
	if got := p["script-src"]; !reflect.DeepEqual(got, []string{"https://cdn.example.com"}) {
		t.Fatalf("script-src = %v", got)
	}
}

func TestBuildDropsUnknownDirectives(t *testing.T) {
	rules := &fakeRules{rules: []store.Rule{
		{Directive: "not-a-directive", Value: "https://example.com"},
	}}
	b := NewBuilder(rules, Policy{}, nil)

	p, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 0 {
		t.Fatalf("expected empty policy, got %v", p)
	}
}

func TestBuildDropsNoneWhenCombined(t *testing.T) {
	rules := &fakeRules{rules: []store.Rule{
		{Directive: "default-src", Value: "self"},
	}}
	b := NewBuilder(rules, defaultRules(), nil)

	p, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := p["default-src"]; !reflect.DeepEqual(got, []string{"'self'"}) {
		t.Fatalf("default-src = %v", got)
	}
}

func TestBuildDoesNotMutateDefaults(t *testing.T) {
	defaults := defaultRules()
	rules := &fakeRules{rules: []store.Rule{
		{Directive: "img-src", Value: "https://example.com"},
	}}
	b := NewBuilder(rules, defaults, nil)

	p1, _ := b.Build(context.Background())
	p1["img-src"] = append(p1["img-src"], "https://mutated.com")

	p2, _ := b.Build(context.Background())
	if got := p2["img-src"]; !reflect.DeepEqual(got, []string{"'self'", "https://example.com"}) {
		t.Fatalf("second build polluted by first: %v", got)
	}
	if !reflect.DeepEqual(defaults["img-src"], []string{"'self'"}) {
		t.Fatalf("defaults mutated: %v", defaults["img-src"])
	}
}

func TestDedupe(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{[]string{"'none'", "'self'"}, []string{"'self'"}},
		{[]string{"'none'"}, []string{"'none'"}},
		{[]string{"none"}, []string{"'none'"}},
		{[]string{"self", "'self'", "SELF"}, []string{"'self'"}},
		{[]string{"data", "https://a.com", "data:"}, []string{"data:", "https://a.com"}},
	}
	for _, c := range cases {
		if got := Dedupe(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("Dedupe(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRenderSkipsEmptyDirectives(t *testing.T) {
	if got := Render(Policy{"script-src": {}}, "", false, ""); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestRenderReportURILast(t *testing.T) {
	p := Policy{"script-src": {"'self'"}}
	got := Render(p, "", true, "/uri")
	if got != "script-src 'self'; report-uri /uri" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderExcludesReportWhenNotSampled(t *testing.T) {
	p := Policy{"script-src": {"'self'"}}
	if got := Render(p, "", false, "/uri"); got != "script-src 'self'" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderSkipsPolicyReportURIKey(t *testing.T) {
	p := Policy{
		"report-uri": {"/stale"},
		"script-src": {"'self'"},
	}
	if got := Render(p, "", true, "/uri"); got != "script-src 'self'; report-uri /uri" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderNonce(t *testing.T) {
	p := Policy{"script-src": {"'nonce'", "'self'"}}
	got := Render(p, "abc123", false, "")
	if got != "script-src 'nonce-abc123' 'self'" {
		t.Fatalf("got %q", got)
	}

	// Without a nonce the placeholder is dropped entirely.
	got = Render(p, "", false, "")
	if got != "script-src 'self'" {
		t.Fatalf("got %q", got)
	}

	// The unquoted placeholder form works too.
	p = Policy{"script-src": {"nonce"}}
	if got := Render(p, "abc", false, ""); got != "script-src 'nonce-abc'" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderStableOrder(t *testing.T) {
	p := Policy{
		"img-src":     {"'self'"},
		"default-src": {"'none'"},
		"script-src":  {"'self'"},
	}
	want := "default-src 'none'; img-src 'self'; script-src 'self'"
	for i := 0; i < 10; i++ {
		if got := Render(p, "", false, ""); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestProviderReadThrough(t *testing.T) {
	rules := &fakeRules{rules: []store.Rule{
		{Directive: "img-src", Value: "https://example.com"},
	}}
	b := NewBuilder(rules, defaultRules(), nil)
	p := NewProvider(b, cache.NewMemory(), time.Hour, nil)
	ctx := context.Background()

	// First read misses and rebuilds.
	got, err := p.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rules.calls != 1 {
		t.Fatalf("builds = %d, want 1", rules.calls)
	}
	if !reflect.DeepEqual(got["img-src"], []string{"'self'", "https://example.com"}) {
		t.Fatalf("img-src = %v", got["img-src"])
	}

	// Second read is served from cache.
	if _, err := p.Get(ctx); err != nil {
		t.Fatal(err)
	}
	if rules.calls != 1 {
		t.Fatalf("builds = %d, want 1 (cached)", rules.calls)
	}

	// Invalidation forces exactly one rebuild on the next read.
	p.Invalidate()
	if _, err := p.Get(ctx); err != nil {
		t.Fatal(err)
	}
	if rules.calls != 2 {
		t.Fatalf("builds = %d, want 2", rules.calls)
	}
	if _, err := p.Get(ctx); err != nil {
		t.Fatal(err)
	}
	if rules.calls != 2 {
		t.Fatalf("builds = %d, want 2 (cached again)", rules.calls)
	}
}

// brokenCache fails every operation; the provider must fall back to a
// rebuild on every read rather than erroring or looping.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (brokenCache) Delete(context.Context, string) error { return errors.New("cache down") }

func TestProviderCacheUnavailable(t *testing.T) {
	rules := &fakeRules{}
	b := NewBuilder(rules, defaultRules(), nil)
	p := NewProvider(b, brokenCache{}, time.Hour, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := p.Get(ctx); err != nil {
			t.Fatal(err)
		}
		if rules.calls != i {
			t.Fatalf("builds = %d, want %d", rules.calls, i)
		}
	}
	// Invalidate must not panic either.
	p.Invalidate()
}
