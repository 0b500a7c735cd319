package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/runnerr0/tabtrail/internal/metadata"
)

// ErrUnknownObservation is returned for an observation variant the store
// does not know how to persist.
var ErrUnknownObservation = errors.New("unknown observation")

// Store defines the metadata persistence operations.
type Store interface {
	NoteObservation(ctx context.Context, key metadata.Key, obs metadata.Observation) error
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
	CountOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
	GetSince(ctx context.Context, cutoffMs int64) ([]metadata.Row, error)
	GetStats(ctx context.Context) (*Stats, error)
	AddExclusions(ctx context.Context, domains []string, reason string) error
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	// Prepared statements
	noteDocumentType *sql.Stmt
	noteViewTime     *sql.Stmt
	deleteOlder      *sql.Stmt
	countOlder       *sql.Stmt
	insertExclusion  *sql.Stmt

	// Cached exclusion rules, loaded at init and extended by AddExclusions.
	mu               sync.RWMutex
	domainExclusions map[string]bool
	regexExclusions  []*regexp.Regexp

	// Per-domain verdicts, purged whenever the rules change.
	verdicts *lru.Cache[string, bool]
}

const exclusionCacheSize = 4096

// StoreOption configures a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithClock overrides the clock used to stamp rows.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB, opts ...StoreOption) (*SQLiteStore, error) {
	verdicts, err := lru.New[string, bool](exclusionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("exclusion cache: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now, domainExclusions: make(map[string]bool), verdicts: verdicts}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	if err := s.loadExclusions(); err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.noteDocumentType, err = s.db.Prepare(`
		INSERT INTO metadata (id, url, referrer_url, search_term, domain, document_type, total_view_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (url, referrer_url, search_term) DO UPDATE SET
			document_type = excluded.document_type,
			updated_at    = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	s.noteViewTime, err = s.db.Prepare(`
		INSERT INTO metadata (id, url, referrer_url, search_term, domain, document_type, total_view_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'regular', ?, ?, ?)
		ON CONFLICT (url, referrer_url, search_term) DO UPDATE SET
			total_view_time = total_view_time + excluded.total_view_time,
			updated_at      = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	s.deleteOlder, err = s.db.Prepare(`DELETE FROM metadata WHERE updated_at < ?`)
	if err != nil {
		return err
	}

	s.countOlder, err = s.db.Prepare(`SELECT COUNT(*) FROM metadata WHERE updated_at < ?`)
	if err != nil {
		return err
	}

	s.insertExclusion, err = s.db.Prepare(`
		INSERT OR IGNORE INTO exclusions (rule_type, rule_value, reason) VALUES ('domain', ?, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

// loadExclusions loads domain and regex exclusion rules from the database.
func (s *SQLiteStore) loadExclusions() error {
	rows, err := s.db.Query("SELECT rule_type, rule_value FROM exclusions")
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for rows.Next() {
		var ruleType, ruleValue string
		if err := rows.Scan(&ruleType, &ruleValue); err != nil {
			return err
		}
		switch ruleType {
		case "domain":
			s.domainExclusions[ruleValue] = true
		case "regex":
			re, err := regexp.Compile(ruleValue)
			if err != nil {
				continue // skip invalid regex
			}
			s.regexExclusions = append(s.regexExclusions, re)
		}
	}

	return rows.Err()
}

// isExcluded checks if a domain is blocked by exclusion rules. A domain
// rule also covers its subdomains.
func (s *SQLiteStore) isExcluded(domain string) bool {
	if v, ok := s.verdicts.Get(domain); ok {
		return v
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.matchRules(domain)
	s.verdicts.Add(domain, v)
	return v
}

// matchRules evaluates domain against the rules. Callers hold mu.
func (s *SQLiteStore) matchRules(domain string) bool {
	for d := strings.ToLower(domain); d != ""; {
		if s.domainExclusions[d] {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	for _, re := range s.regexExclusions {
		if re.MatchString(domain) {
			return true
		}
	}
	return false
}

// AddExclusions persists extra domain exclusion rules and applies them to
// subsequent writes.
func (s *SQLiteStore) AddExclusions(ctx context.Context, domains []string, reason string) error {
	for _, d := range domains {
		if d == "" {
			continue
		}
		if _, err := s.insertExclusion.ExecContext(ctx, d, reason); err != nil {
			return fmt.Errorf("insert exclusion %s: %w", d, err)
		}
		s.mu.Lock()
		s.domainExclusions[strings.ToLower(d)] = true
		s.verdicts.Purge()
		s.mu.Unlock()
	}
	return nil
}

// NoteObservation folds obs into the row for key, creating the row on first
// use. A document type replaces the stored one; a view time is added to the
// running total. Keys on excluded domains are silently skipped.
func (s *SQLiteStore) NoteObservation(ctx context.Context, key metadata.Key, obs metadata.Observation) error {
	domain := key.Domain()
	if s.isExcluded(domain) {
		return nil
	}

	now := s.now().UnixMilli()
	id := uuid.NewString()

	switch o := obs.(type) {
	case metadata.DocumentTypeObservation:
		_, err := s.noteDocumentType.ExecContext(ctx,
			id, key.URL, key.ReferrerURL, key.SearchTerm, domain, o.DocumentType.String(), now, now,
		)
		if err != nil {
			return fmt.Errorf("note document type: %w", err)
		}
	case metadata.ViewTimeObservation:
		if o.ViewTime < 0 {
			return fmt.Errorf("note view time: negative duration %d", o.ViewTime)
		}
		_, err := s.noteViewTime.ExecContext(ctx,
			id, key.URL, key.ReferrerURL, key.SearchTerm, domain, o.ViewTime, now, now,
		)
		if err != nil {
			return fmt.Errorf("note view time: %w", err)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownObservation, obs)
	}

	return nil
}

// DeleteOlderThan deletes rows whose last observation predates cutoffMs.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := s.deleteOlder.ExecContext(ctx, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete metadata: %w", err)
	}
	return res.RowsAffected()
}

// CountOlderThan counts the rows DeleteOlderThan would remove.
func (s *SQLiteStore) CountOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	var n int64
	if err := s.countOlder.QueryRowContext(ctx, cutoffMs).Scan(&n); err != nil {
		return 0, fmt.Errorf("count metadata: %w", err)
	}
	return n, nil
}

// GetSince returns rows updated at or after cutoffMs, most recent first.
func (s *SQLiteStore) GetSince(ctx context.Context, cutoffMs int64) ([]metadata.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, referrer_url, search_term, document_type, total_view_time, created_at, updated_at
		FROM metadata
		WHERE updated_at >= ?
		ORDER BY updated_at DESC, url ASC
	`, cutoffMs)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	result := []metadata.Row{}
	for rows.Next() {
		var (
			r                    metadata.Row
			docType              string
			createdMs, updatedMs int64
		)
		if err := rows.Scan(
			&r.ID, &r.Key.URL, &r.Key.ReferrerURL, &r.Key.SearchTerm,
			&docType, &r.TotalViewTime, &createdMs, &updatedMs,
		); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		if r.DocumentType, err = metadata.ParseDocumentType(docType); err != nil {
			return nil, fmt.Errorf("row %s: %w", r.ID, err)
		}
		r.CreatedAt = time.UnixMilli(createdMs)
		r.UpdatedAt = time.UnixMilli(updatedMs)
		result = append(result, r)
	}

	return result, rows.Err()
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	var viewMs, oldestMs, newestMs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(total_view_time), MIN(updated_at), MAX(updated_at),
		       COALESCE(SUM(document_type = 'media'), 0)
		FROM metadata
	`).Scan(&stats.TotalRows, &viewMs, &oldestMs, &newestMs, &stats.MediaRows)
	if err != nil {
		return nil, fmt.Errorf("aggregate metadata: %w", err)
	}

	// MIN/MAX are NULL on an empty table.
	if stats.TotalRows > 0 {
		stats.TotalViewTime = time.Duration(viewMs.Int64) * time.Millisecond
		stats.OldestUpdate = time.UnixMilli(oldestMs.Int64)
		stats.NewestUpdate = time.UnixMilli(newestMs.Int64)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, COUNT(*), SUM(total_view_time) AS view
		FROM metadata
		GROUP BY domain
		ORDER BY view DESC, domain ASC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("top domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d  DomainViewTime
			ms int64
		)
		if err := rows.Scan(&d.Domain, &d.Rows, &ms); err != nil {
			return nil, err
		}
		d.ViewTime = time.Duration(ms) * time.Millisecond
		stats.TopDomains = append(stats.TopDomains, d)
	}

	return stats, rows.Err()
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.noteDocumentType, s.noteViewTime, s.deleteOlder,
		s.countOlder, s.insertExclusion,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
