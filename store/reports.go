package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yunojuno/csp-plus/dbopen"
)

const reportCols = "id, effective_directive, blocked_uri, document_uri, disposition, request_count, created_at, last_updated_at"

// UpsertReport records a violation. The first report for a given
// (effective_directive, blocked_uri) pair creates a row with
// request_count 1; repeats increment the count and refresh
// document_uri, disposition and last_updated_at. The increment happens
// inside the database so concurrent writers never lose counts.
func (s *Store) UpsertReport(ctx context.Context, directive, blockedURI, documentURI, disposition string) (*Report, error) {
	now := time.Now().Unix()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO csp_reports
		 (effective_directive, blocked_uri, document_uri, disposition, request_count, created_at, last_updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (effective_directive, blocked_uri) DO UPDATE SET
		     request_count   = request_count + 1,
		     document_uri    = excluded.document_uri,
		     disposition     = excluded.disposition,
		     last_updated_at = excluded.last_updated_at`,
		directive, blockedURI, documentURI, disposition, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("store: upsert report: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM csp_reports WHERE effective_directive = ? AND blocked_uri = ?`,
		directive, blockedURI,
	)
	report, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("store: upsert report: %w", err)
	}
	return report, nil
}

// GetReport fetches a report by id. Missing rows return (nil, nil).
func (s *Store) GetReport(ctx context.Context, id int64) (*Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM csp_reports WHERE id = ?`, id)
	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get report: %w", err)
	}
	return report, nil
}

// ListReports returns all reports, most recently updated first.
func (s *Store) ListReports(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportCols+` FROM csp_reports ORDER BY last_updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	defer rows.Close()
	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list reports: %w", err)
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// DeleteReport removes a report by id.
func (s *Store) DeleteReport(ctx context.Context, id int64) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM csp_reports WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete report: %w", err)
	}
	return nil
}

// PromoteRule converts a report into a rule with the given (already
// normalized) value, deleting the source report in the same
// transaction. When an equivalent rule already exists the report is
// still deleted and (nil, false) is returned so the caller can flag the
// duplicate.
func (s *Store) PromoteRule(ctx context.Context, report *Report, value string) (*Rule, bool, error) {
	var created bool
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO csp_rules (directive, value, enabled, created_at, modified_at)
			 VALUES (?, ?, 1, ?, ?)`,
			report.EffectiveDirective, value, now, now,
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		created = n > 0
		_, err = tx.ExecContext(ctx, `DELETE FROM csp_reports WHERE id = ?`, report.ID)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: promote rule: %w", err)
	}
	if !created {
		return nil, false, nil
	}
	rule, err := s.getRuleByPair(ctx, report.EffectiveDirective, value)
	if err != nil {
		return nil, false, err
	}
	s.notify()
	return rule, true, nil
}

// PromoteBlacklist converts a report into a blacklist entry, deleting
// the source report whether or not the entry already existed.
func (s *Store) PromoteBlacklist(ctx context.Context, report *Report) (bool, error) {
	var created bool
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO csp_blacklist (directive, blocked_uri) VALUES (?, ?)`,
			report.EffectiveDirective, report.BlockedURI,
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		created = n > 0
		_, err = tx.ExecContext(ctx, `DELETE FROM csp_reports WHERE id = ?`, report.ID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: promote blacklist: %w", err)
	}
	if created {
		s.notify()
	}
	return created, nil
}
