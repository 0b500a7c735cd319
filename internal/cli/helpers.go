package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/runnerr0/tabtrail/internal/config"
	"github.com/runnerr0/tabtrail/internal/logging"
	"github.com/runnerr0/tabtrail/internal/metadata"
	"github.com/runnerr0/tabtrail/internal/storage"
)

const defaultRetentionDays = 30

type metadataReader interface {
	GetSince(ctx context.Context, cutoffMs int64) ([]metadata.Row, error)
}

type statsReader interface {
	GetStats(ctx context.Context) (*storage.Stats, error)
}

type pruneStore interface {
	CountOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

// runtime is everything a command needs once config is loaded and the
// database is open.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	store  *storage.SQLiteStore
	dbPath string

	logCloser io.Closer
}

// loadConfig reads --config if given, otherwise the default config file,
// creating it on first use.
func loadConfig(g *GlobalFlags) (*config.Config, error) {
	if g != nil && g.Config != "" {
		return config.Load(g.Config)
	}
	return config.LoadOrCreate()
}

// openRuntime loads config, sets up logging, and opens the migrated store.
// The config denylist is merged into the store's exclusion rules.
func openRuntime(ctx context.Context, g *GlobalFlags, opts ...storage.StoreOption) (*runtime, error) {
	if g == nil {
		g = &GlobalFlags{}
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dataDir, err := config.ExpandPath(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.Open(cfg.Logging, dataDir, g.Verbose)
	if err != nil {
		return nil, err
	}

	dbPath := g.DB
	if dbPath == "" {
		if dbPath, err = cfg.DatabasePath(); err != nil {
			logCloser.Close()
			return nil, err
		}
	}

	store, db, err := openStore(ctx, dbPath, cfg.Storage.SQLiteJournalMode, opts...)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	if err := store.AddExclusions(ctx, cfg.Tracking.Denylist(), "config denylist"); err != nil {
		store.Close()
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("apply denylist: %w", err)
	}

	logger.Debug("database ready", slog.String("component", "cli"), slog.String("path", dbPath))

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		dbPath:    dbPath,
		logCloser: logCloser,
	}, nil
}

// Close releases the store, the database, and the log file.
func (r *runtime) Close() {
	r.store.Close()
	r.db.Close()
	r.logCloser.Close()
}

// openStore opens the SQLite database at dbPath, runs migrations, and
// returns a ready-to-use store and the underlying *sql.DB.
func openStore(ctx context.Context, dbPath, journalMode string, opts ...storage.StoreOption) (*storage.SQLiteStore, *sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_busy_timeout=5000"
	if journalMode != "" {
		dsn += "&_journal_mode=" + strings.ToUpper(journalMode)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	runner := storage.NewMigrationRunner(db)
	if err := runner.Run(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewSQLiteStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	return store, db, nil
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	var unit time.Duration
	switch suffix {
	case 'd':
		unit = 24 * time.Hour
	case 'h':
		unit = time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	case 'm':
		unit = time.Minute
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}

	if time.Duration(n) > math.MaxInt64/unit {
		return 0, fmt.Errorf("invalid duration: %q is too long", s)
	}
	return time.Duration(n) * unit, nil
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatViewTime renders accumulated view time compactly, e.g. "1h02m" or "45s".
func formatViewTime(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
