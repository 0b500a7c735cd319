package storage

import (
	"context"
	"database/sql"
)

// migrateV002 adds privacy exclusion rules and seeds the defaults. Metadata
// for a matching domain is never written.
func migrateV002(ctx context.Context, tx *sql.Tx) error {
	err := execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS exclusions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_type  TEXT NOT NULL CHECK (rule_type IN ('domain', 'regex')),
			rule_value TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			is_default BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(rule_type, rule_value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exclusions_rule ON exclusions(rule_type, rule_value)`,
	})
	if err != nil {
		return err
	}
	return seedDefaultExclusions(ctx, tx)
}

// seedDefaultExclusions inserts the curated denylist. Uses INSERT OR IGNORE
// so re-running is safe.
func seedDefaultExclusions(ctx context.Context, tx *sql.Tx) error {
	type rule struct {
		RuleType  string
		RuleValue string
		Reason    string
	}

	defaults := []rule{
		{"domain", "chase.com", "Banking - financial privacy"},
		{"domain", "bankofamerica.com", "Banking - financial privacy"},
		{"domain", "paypal.com", "Payment - financial privacy"},
		{"domain", "1password.com", "Password manager - credential privacy"},
		{"domain", "bitwarden.com", "Password manager - credential privacy"},
		{"domain", "accounts.google.com", "Auth provider - credential privacy"},
		{"domain", "login.microsoftonline.com", "Auth provider - credential privacy"},
		{"domain", "mychart.com", "Healthcare - HIPAA privacy"},
		{"domain", "irs.gov", "Tax - financial privacy"},
		{"regex", `.*\.xxx$`, "Adult content exclusion"},
	}

	const insertSQL = `INSERT OR IGNORE INTO exclusions (rule_type, rule_value, reason, is_default) VALUES (?, ?, ?, 1)`

	for _, r := range defaults {
		if _, err := tx.ExecContext(ctx, insertSQL, r.RuleType, r.RuleValue, r.Reason); err != nil {
			return err
		}
	}

	return nil
}
