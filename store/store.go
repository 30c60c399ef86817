// Package store persists CSP rules, violation reports and the report
// blacklist in SQLite. It is the source of truth the cached policy is
// rebuilt from: every rule or blacklist mutation synchronously notifies
// the registered change listeners so the policy cache can be dropped.
package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Rule is a single (directive, value) pair contributing to the policy
// when enabled. The pair is unique.
type Rule struct {
	ID         int64     `json:"id"`
	Directive  string    `json:"directive"`
	Value      string    `json:"value"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Report is a stored CSP violation. Repeated identical violations
// increment RequestCount on the same row.
type Report struct {
	ID                 int64     `json:"id"`
	EffectiveDirective string    `json:"effective_directive"`
	BlockedURI         string    `json:"blocked_uri"`
	DocumentURI        string    `json:"document_uri"`
	Disposition        string    `json:"disposition"`
	RequestCount       int64     `json:"request_count"`
	CreatedAt          time.Time `json:"created_at"`
	LastUpdatedAt      time.Time `json:"last_updated_at"`
}

// BlacklistEntry suppresses reports whose blocked URI starts with
// BlockedURI for the given directive.
type BlacklistEntry struct {
	ID         int64  `json:"id"`
	Directive  string `json:"directive"`
	BlockedURI string `json:"blocked_uri"`
}

const schema = `
CREATE TABLE IF NOT EXISTS csp_rules (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    directive   TEXT NOT NULL,
    value       TEXT NOT NULL,
    enabled     INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    modified_at INTEGER NOT NULL,
    UNIQUE (directive, value)
);

CREATE TABLE IF NOT EXISTS csp_reports (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    effective_directive TEXT NOT NULL,
    blocked_uri         TEXT NOT NULL,
    document_uri        TEXT NOT NULL DEFAULT '',
    disposition         TEXT NOT NULL DEFAULT '',
    request_count       INTEGER NOT NULL DEFAULT 0,
    created_at          INTEGER NOT NULL,
    last_updated_at     INTEGER NOT NULL,
    UNIQUE (effective_directive, blocked_uri)
);

CREATE TABLE IF NOT EXISTS csp_blacklist (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    directive   TEXT NOT NULL,
    blocked_uri TEXT NOT NULL,
    UNIQUE (directive, blocked_uri)
);

CREATE INDEX IF NOT EXISTS idx_csp_rules_enabled     ON csp_rules(enabled);
CREATE INDEX IF NOT EXISTS idx_csp_reports_updated   ON csp_reports(last_updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_csp_blacklist_directive ON csp_blacklist(directive);
`

// Store wraps the SQLite database holding rules, reports and blacklist
// entries.
type Store struct {
	db        *sql.DB
	listeners []func()
}

// New creates a Store on db and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB { return s.db }

// OnChange registers fn to be called synchronously after every rule or
// blacklist mutation. Used to invalidate the cached policy.
func (s *Store) OnChange(fn func()) {
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify() {
	for _, fn := range s.listeners {
		fn()
	}
}

func scanRule(row interface{ Scan(...any) error }) (*Rule, error) {
	var r Rule
	var enabled int64
	var created, modified int64
	if err := row.Scan(&r.ID, &r.Directive, &r.Value, &enabled, &created, &modified); err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.ModifiedAt = time.Unix(modified, 0).UTC()
	return &r, nil
}

func scanReport(row interface{ Scan(...any) error }) (*Report, error) {
	var r Report
	var created, updated int64
	if err := row.Scan(
		&r.ID, &r.EffectiveDirective, &r.BlockedURI, &r.DocumentURI,
		&r.Disposition, &r.RequestCount, &created, &updated,
	); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.LastUpdatedAt = time.Unix(updated, 0).UTC()
	return &r, nil
}
