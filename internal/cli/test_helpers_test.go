package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/runnerr0/tabtrail/internal/metadata"
	"github.com/runnerr0/tabtrail/internal/storage"
	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.Bytes()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return string(<-done)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// setupTestStore creates a migrated in-memory store stamped by clock.
func setupTestStore(t *testing.T, clock *testClock) (*storage.SQLiteStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run(context.Background()))

	store, err := storage.NewSQLiteStore(db, storage.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, db
}

// seedRow records viewMs of view time for url at the given time.
func seedRow(t *testing.T, store *storage.SQLiteStore, clock *testClock, at time.Time, url string, viewMs int64) {
	t.Helper()
	clock.Set(at)
	err := store.NoteObservation(context.Background(), metadata.Key{URL: url}, metadata.ViewTimeObservation{ViewTime: viewMs})
	require.NoError(t, err)
}
