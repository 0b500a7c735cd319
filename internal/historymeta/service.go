// Package historymeta decides when a tab's browsing metadata must be
// recorded and records it: Middleware watches browser actions, Service
// turns them into observations on a single serialized lane.
package historymeta

import (
	"context"
	"log/slog"
	"time"

	"github.com/runnerr0/tabtrail/internal/browser"
	"github.com/runnerr0/tabtrail/internal/lane"
	"github.com/runnerr0/tabtrail/internal/metadata"
)

// Storage persists observations. Implementations must tolerate calls from a
// goroutine other than the one that created them.
type Storage interface {
	NoteObservation(ctx context.Context, key metadata.Key, obs metadata.Observation) error
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

// Service aggregates metadata observations for open tabs.
//
// lastUpdated maps tab id to the time (epoch ms) a view-time observation
// was last recorded for it. It is read and written only by work items on
// the bookkeeping lane. Storage calls run on a second lane so the
// bookkeeping lane never waits on I/O.
type Service struct {
	storage Storage
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	bookkeeping *lane.Lane
	writes      *lane.Lane
	lastUpdated map[string]int64
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService starts a service writing to storage. Call Close to stop it.
func NewService(storage Storage, opts ...Option) *Service {
	s := &Service{
		storage:     storage,
		logger:      slog.Default(),
		now:         time.Now,
		lastUpdated: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "historymeta"))

	s.bookkeeping = s.newLane("bookkeeping")
	s.writes = s.newLane("writes")
	return s
}

func (s *Service) newLane(name string) *lane.Lane {
	return lane.New(name,
		lane.WithLogger(s.logger),
		lane.OnPanic(func(any) { s.metrics.lanePanicked(name) }),
	)
}

// CreateMetadata returns the metadata key for tab's current page and
// records the page's document type against it.
//
// The tab's existing key is reused while its URL is unchanged, so repeated
// calls for the same page yield the same key. Otherwise a new key is built
// from the tab's URL and search terms, with referrer's URL as the referrer.
// The document type write happens asynchronously.
func (s *Service) CreateMetadata(tab browser.TabSession, referrer *browser.TabSession) metadata.Key {
	var key metadata.Key
	if tab.MetadataKey != nil && tab.MetadataKey.URL == tab.URL {
		key = *tab.MetadataKey
	} else {
		key = metadata.Key{URL: tab.URL, SearchTerm: tab.SearchTerms}
		if referrer != nil {
			key.ReferrerURL = referrer.URL
		}
	}

	// Private tabs are never tracked, whatever the config says.
	if tab.Private {
		return key
	}

	docType := metadata.DocumentRegular
	if tab.MediaSessionActive {
		docType = metadata.DocumentMedia
	}
	s.noteObservation(key, metadata.DocumentTypeObservation{DocumentType: docType})
	return key
}

// UpdateMetadata closes tab's current view-time window and records its
// length against key. It returns immediately; the work runs on the
// bookkeeping lane.
//
// A tab that was never accessed is ignored. An update whose access time is
// older than the last one recorded for the tab is dropped.
func (s *Service) UpdateMetadata(key metadata.Key, tab browser.TabSession) {
	if tab.LastAccess == 0 || tab.Private {
		return
	}

	// The window closes now, before any access stamp the same action causes.
	tabID, lastAccess, now := tab.ID, tab.LastAccess, s.now().UnixMilli()
	s.bookkeeping.Submit(func() {
		if s.lastUpdated[tabID] > lastAccess {
			s.metrics.staleUpdate()
			s.logger.Debug("dropping stale view time update",
				slog.String("tab_id", tabID),
				slog.Int64("last_access", lastAccess),
				slog.Int64("last_updated", s.lastUpdated[tabID]),
			)
			return
		}

		viewTime := now - lastAccess
		if viewTime < 0 {
			viewTime = 0
		}
		s.noteObservation(key, metadata.ViewTimeObservation{ViewTime: viewTime})
		s.lastUpdated[tabID] = now
	})
}

// Cleanup deletes stored metadata not updated since olderThanMs (epoch ms).
// It returns immediately.
func (s *Service) Cleanup(olderThanMs int64) {
	s.writes.Submit(func() {
		n, err := s.storage.DeleteOlderThan(context.Background(), olderThanMs)
		if err != nil {
			s.metrics.writeFailed("delete_older_than")
			s.logger.Error("metadata cleanup failed",
				slog.String("op", "delete_older_than"),
				slog.Int64("cutoff_ms", olderThanMs),
				slog.Any("err", err),
			)
			return
		}
		s.metrics.rowsCleaned(n)
		s.logger.Info("metadata cleanup finished",
			slog.Int64("cutoff_ms", olderThanMs),
			slog.Int64("deleted", n),
		)
	})
}

// Sync waits until all work submitted before the call, including the
// storage writes it triggers, has finished.
func (s *Service) Sync() {
	s.bookkeeping.Sync()
	s.writes.Sync()
}

// Close finishes all queued work and stops the service.
func (s *Service) Close() {
	s.bookkeeping.Close()
	s.writes.Close()
}

// noteObservation hands a write to the write lane. Failures are logged and
// the observation is dropped.
func (s *Service) noteObservation(key metadata.Key, obs metadata.Observation) {
	s.writes.Submit(func() {
		if err := s.storage.NoteObservation(context.Background(), key, obs); err != nil {
			s.metrics.writeFailed("note_observation")
			s.logger.Error("dropping observation after storage failure",
				slog.String("op", "note_observation"),
				slog.String("url", key.URL),
				slog.String("kind", obs.Kind()),
				slog.Any("err", err),
			)
			return
		}
		s.metrics.observationRecorded(obs.Kind())
	})
}
