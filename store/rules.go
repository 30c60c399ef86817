package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yunojuno/csp-plus/csp"
	"github.com/yunojuno/csp-plus/dbopen"
)

const ruleCols = "id, directive, value, enabled, created_at, modified_at"

// CreateRule inserts a new rule. The returned bool is false when an
// equivalent (directive, value) rule already exists, in which case the
// existing rule is returned untouched.
func (s *Store) CreateRule(ctx context.Context, directive, value string, enabled bool) (*Rule, bool, error) {
	now := time.Now().Unix()
	res, err := dbopen.Exec(ctx, s.db,
		`INSERT OR IGNORE INTO csp_rules (directive, value, enabled, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?)`,
		directive, value, boolInt(enabled), now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("store: create rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("store: create rule: %w", err)
	}
	rule, err := s.getRuleByPair(ctx, directive, value)
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		s.notify()
	}
	return rule, n > 0, nil
}

func (s *Store) getRuleByPair(ctx context.Context, directive, value string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM csp_rules WHERE directive = ? AND value = ?`,
		directive, value,
	)
	rule, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("store: get rule: %w", err)
	}
	return rule, nil
}

// GetRule fetches a rule by id. Missing rows return (nil, nil).
func (s *Store) GetRule(ctx context.Context, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM csp_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get rule: %w", err)
	}
	return rule, nil
}

// ListRules returns every rule ordered by (directive, value).
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleCols+` FROM csp_rules ORDER BY directive, value`)
}

// EnabledRules returns the enabled rules ordered by (directive, value).
func (s *Store) EnabledRules(ctx context.Context) ([]Rule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleCols+` FROM csp_rules WHERE enabled = 1 ORDER BY directive, value`)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list rules: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// SetRulesEnabled toggles the enabled flag on the given rules in bulk
// and returns the number of rows updated.
func (s *Store) SetRulesEnabled(ctx context.Context, ids []int64, enabled bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, boolInt(enabled), time.Now().Unix())
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := dbopen.Exec(ctx, s.db,
		`UPDATE csp_rules SET enabled = ?, modified_at = ? WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("store: toggle rules: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify()
	}
	return n, nil
}

// DeleteRule removes a rule by id.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM csp_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify()
	}
	return nil
}

// StripResult summarises a StripRulePaths run.
type StripResult struct {
	Stripped int `json:"stripped"`
	Ignored  int `json:"ignored"`
	Deleted  int `json:"deleted"`
}

// StripRulePaths reduces each selected rule's value to scheme://host.
// Rules whose stripped value collides with an existing rule are deleted
// as duplicates; unchanged rules are ignored.
func (s *Store) StripRulePaths(ctx context.Context, ids []int64) (StripResult, error) {
	var result StripResult
	for _, id := range ids {
		rule, err := s.GetRule(ctx, id)
		if err != nil {
			return result, err
		}
		if rule == nil {
			continue
		}
		stripped := csp.StripPath(rule.Value)
		if stripped == rule.Value {
			result.Ignored++
			continue
		}
		err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`UPDATE OR IGNORE csp_rules SET value = ?, modified_at = ? WHERE id = ?`,
				stripped, time.Now().Unix(), rule.ID,
			)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				// stripping collided with an existing rule - drop the duplicate
				if _, err := tx.ExecContext(ctx, `DELETE FROM csp_rules WHERE id = ?`, rule.ID); err != nil {
					return err
				}
				result.Deleted++
				return nil
			}
			result.Stripped++
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("store: strip rule %d: %w", id, err)
		}
		slog.Debug("stripped rule path", "rule_id", rule.ID, "value", stripped)
	}
	if result.Stripped+result.Deleted > 0 {
		s.notify()
	}
	return result, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
