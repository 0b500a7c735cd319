package storage

import (
	"context"
	"database/sql"
)

// migrateV001 creates the metadata table. Timestamps are epoch
// milliseconds. One row exists per distinct (url, referrer_url,
// search_term); absent parts are stored as ''.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			id              TEXT PRIMARY KEY,
			url             TEXT NOT NULL,
			referrer_url    TEXT NOT NULL DEFAULT '',
			search_term     TEXT NOT NULL DEFAULT '',
			domain          TEXT NOT NULL DEFAULT '',
			document_type   TEXT NOT NULL DEFAULT 'regular'
			                CHECK (document_type IN ('regular', 'media')),
			total_view_time INTEGER NOT NULL DEFAULT 0 CHECK (total_view_time >= 0),
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			UNIQUE(url, referrer_url, search_term)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_metadata_updated_at ON metadata(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_domain     ON metadata(domain)`,
	})
}
