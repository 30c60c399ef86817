package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yunojuno/csp-plus/dbopen"
)

// AddBlacklist inserts a blacklist entry. The returned bool is false
// when the (directive, blocked_uri) pair already exists.
func (s *Store) AddBlacklist(ctx context.Context, directive, blockedURI string) (*BlacklistEntry, bool, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`INSERT OR IGNORE INTO csp_blacklist (directive, blocked_uri) VALUES (?, ?)`,
		directive, blockedURI,
	)
	if err != nil {
		return nil, false, fmt.Errorf("store: add blacklist: %w", err)
	}
	n, _ := res.RowsAffected()
	var entry BlacklistEntry
	row := s.db.QueryRowContext(ctx,
		`SELECT id, directive, blocked_uri FROM csp_blacklist WHERE directive = ? AND blocked_uri = ?`,
		directive, blockedURI,
	)
	if err := row.Scan(&entry.ID, &entry.Directive, &entry.BlockedURI); err != nil {
		return nil, false, fmt.Errorf("store: add blacklist: %w", err)
	}
	if n > 0 {
		s.notify()
	}
	return &entry, n > 0, nil
}

// ListBlacklist returns every blacklist entry ordered by (directive, blocked_uri).
func (s *Store) ListBlacklist(ctx context.Context) ([]BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, directive, blocked_uri FROM csp_blacklist ORDER BY directive, blocked_uri`)
	if err != nil {
		return nil, fmt.Errorf("store: list blacklist: %w", err)
	}
	defer rows.Close()
	var entries []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.ID, &e.Directive, &e.BlockedURI); err != nil {
			return nil, fmt.Errorf("store: list blacklist: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBlacklist removes a blacklist entry by id.
func (s *Store) DeleteBlacklist(ctx context.Context, id int64) error {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM csp_blacklist WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete blacklist: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify()
	}
	return nil
}

// IsBlacklisted reports whether blockedURI prefix-matches any blacklist
// entry for directive.
func (s *Store) IsBlacklisted(ctx context.Context, directive, blockedURI string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM csp_blacklist
		 WHERE directive = ? AND substr(?, 1, length(blocked_uri)) = blocked_uri
		 LIMIT 1`,
		directive, blockedURI,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: blacklist check: %w", err)
	}
	return true, nil
}
