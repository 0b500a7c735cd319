package storage

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationRunner_FreshDB(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	err := runner.Run(context.Background())
	require.NoError(t, err)

	for _, table := range []string{"metadata", "exclusions", "schema_migrations"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	v, err := runner.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigrationRunner_IndexesCreated(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	expectedIndexes := []string{
		"idx_metadata_updated_at",
		"idx_metadata_domain",
		"idx_exclusions_rule",
	}
	for _, idx := range expectedIndexes {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		require.NoError(t, err, "index %s should exist", idx)
		assert.Equal(t, idx, name)
	}
}

func TestMigrationRunner_DefaultExclusions(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	var domainCount, regexCount int
	err := db.QueryRow("SELECT COUNT(*) FROM exclusions WHERE rule_type = 'domain' AND is_default = 1").Scan(&domainCount)
	require.NoError(t, err)
	assert.Equal(t, 9, domainCount)

	err = db.QueryRow("SELECT COUNT(*) FROM exclusions WHERE rule_type = 'regex' AND is_default = 1").Scan(&regexCount)
	require.NoError(t, err)
	assert.Equal(t, 1, regexCount)
}

func TestMigrationRunner_Idempotent(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	require.NoError(t, runner.Run(context.Background()))
	require.NoError(t, runner.Run(context.Background()))

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "each migration is recorded once")

	err = db.QueryRow("SELECT COUNT(*) FROM exclusions WHERE is_default = 1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 10, count, "exclusions should not be duplicated on re-run")
}

func TestMigrationRunner_SchemaMigrationsTracking(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	rows, err := db.Query("SELECT version, name FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var version int
		var name string
		require.NoError(t, rows.Scan(&version, &name))
		got = append(got, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"metadata", "exclusions"}, got)
}

func TestMigrationRunner_WALMode(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	var journalMode string
	err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	require.NoError(t, err)
	// In-memory databases report "memory"; WAL only applies to files.
	assert.Contains(t, []string{"wal", "memory"}, journalMode)
}

func TestMigrationRunner_MetadataConstraints(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	_, err := db.Exec(`
		INSERT INTO metadata (id, url, document_type, created_at, updated_at)
		VALUES ('a', 'https://a.test', 'video', 1, 1)
	`)
	assert.Error(t, err, "document_type is restricted")

	_, err = db.Exec(`
		INSERT INTO metadata (id, url, total_view_time, created_at, updated_at)
		VALUES ('b', 'https://a.test', -1, 1, 1)
	`)
	assert.Error(t, err, "view time cannot be negative")

	_, err = db.Exec(`INSERT INTO metadata (id, url, created_at, updated_at) VALUES ('c', 'https://a.test', 1, 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO metadata (id, url, created_at, updated_at) VALUES ('d', 'https://a.test', 1, 1)`)
	assert.Error(t, err, "one row per key")
}
