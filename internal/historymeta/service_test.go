package historymeta

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/runnerr0/tabtrail/internal/browser"
	"github.com/runnerr0/tabtrail/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles ---

type note struct {
	Key metadata.Key
	Obs metadata.Observation
}

type fakeStorage struct {
	mu      sync.Mutex
	notes   []note
	cutoffs []int64
	deleted int64
	err     error
}

func (f *fakeStorage) NoteObservation(_ context.Context, key metadata.Key, obs metadata.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, note{Key: key, Obs: obs})
	return nil
}

func (f *fakeStorage) DeleteOlderThan(_ context.Context, cutoffMs int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.cutoffs = append(f.cutoffs, cutoffMs)
	return f.deleted, nil
}

func (f *fakeStorage) recorded() []note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]note(nil), f.notes...)
}

func (f *fakeStorage) viewTimes() []int64 {
	var out []int64
	for _, n := range f.recorded() {
		if vt, ok := n.Obs.(metadata.ViewTimeObservation); ok {
			out = append(out, vt.ViewTime)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, st Storage, clock *fakeClock, opts ...Option) (*Service, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	base := []Option{WithClock(clock.Now), WithLogger(discardLogger()), WithMetrics(m)}
	s := NewService(st, append(base, opts...)...)
	t.Cleanup(s.Close)
	return s, m
}

// seedLastUpdated writes a bookkeeping entry from inside the lane.
func seedLastUpdated(s *Service, tabID string, ms int64) {
	done := make(chan struct{})
	s.bookkeeping.Submit(func() {
		s.lastUpdated[tabID] = ms
		close(done)
	})
	<-done
}

// lastUpdatedFor reads a bookkeeping entry from inside the lane.
func lastUpdatedFor(s *Service, tabID string) (int64, bool) {
	var (
		v  int64
		ok bool
	)
	done := make(chan struct{})
	s.bookkeeping.Submit(func() {
		v, ok = s.lastUpdated[tabID]
		close(done)
	})
	<-done
	return v, ok
}

// --- CreateMetadata ---

func TestCreateMetadata_ReusesKeyWhileURLUnchanged(t *testing.T) {
	st := &fakeStorage{}
	s, _ := newTestService(t, st, &fakeClock{})

	tab := browser.TabSession{ID: "t1", URL: "https://a.test"}
	k1 := s.CreateMetadata(tab, nil)
	tab.MetadataKey = &k1
	k2 := s.CreateMetadata(tab, nil)

	assert.Equal(t, k1, k2)
	assert.Equal(t, "https://a.test", k1.URL)

	s.Sync()
	assert.Len(t, st.recorded(), 2, "a document type is recorded on every call")
}

func TestCreateMetadata_NewKeyAfterNavigation(t *testing.T) {
	s, _ := newTestService(t, &fakeStorage{}, &fakeClock{})

	tab := browser.TabSession{ID: "t1", URL: "https://a.test"}
	k1 := s.CreateMetadata(tab, nil)
	tab.MetadataKey = &k1
	tab.URL = "https://b.test"
	k2 := s.CreateMetadata(tab, nil)

	assert.NotEqual(t, k1, k2)
	assert.Equal(t, "https://b.test", k2.URL)
}

func TestCreateMetadata_ReferrerAndSearchTerm(t *testing.T) {
	s, _ := newTestService(t, &fakeStorage{}, &fakeClock{})

	parent := browser.TabSession{ID: "p", URL: "https://search.test/?q=cats"}
	tab := browser.TabSession{ID: "t1", URL: "https://cats.test", SearchTerms: "cats"}

	key := s.CreateMetadata(tab, &parent)
	assert.Equal(t, metadata.Key{
		URL:         "https://cats.test",
		ReferrerURL: "https://search.test/?q=cats",
		SearchTerm:  "cats",
	}, key)
}

func TestCreateMetadata_DocumentType(t *testing.T) {
	st := &fakeStorage{}
	s, m := newTestService(t, st, &fakeClock{})

	s.CreateMetadata(browser.TabSession{ID: "t1", URL: "https://a.test"}, nil)
	s.CreateMetadata(browser.TabSession{ID: "t2", URL: "https://v.test", MediaSessionActive: true}, nil)
	s.Sync()

	notes := st.recorded()
	require.Len(t, notes, 2)
	assert.Equal(t, metadata.DocumentTypeObservation{DocumentType: metadata.DocumentRegular}, notes[0].Obs)
	assert.Equal(t, metadata.DocumentTypeObservation{DocumentType: metadata.DocumentMedia}, notes[1].Obs)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.observations.WithLabelValues("document_type")))
}

func TestCreateMetadata_PrivateTabRecordsNothing(t *testing.T) {
	st := &fakeStorage{}
	s, _ := newTestService(t, st, &fakeClock{})

	key := s.CreateMetadata(browser.TabSession{ID: "t1", URL: "https://a.test", Private: true}, nil)
	s.Sync()

	assert.Equal(t, "https://a.test", key.URL)
	assert.Empty(t, st.recorded())
}

// --- UpdateMetadata ---

func TestUpdateMetadata_NeverAccessedIsNoop(t *testing.T) {
	st := &fakeStorage{}
	s, _ := newTestService(t, st, &fakeClock{ms: 5000})

	s.UpdateMetadata(metadata.Key{URL: "https://a.test"}, browser.TabSession{ID: "t1", LastAccess: 0})
	s.Sync()

	assert.Empty(t, st.recorded())
	_, ok := lastUpdatedFor(s, "t1")
	assert.False(t, ok, "bookkeeping must stay untouched")
}

func TestUpdateMetadata_MonotonicGuard(t *testing.T) {
	st := &fakeStorage{}
	clock := &fakeClock{ms: 2000}
	s, m := newTestService(t, st, clock)
	key := metadata.Key{URL: "https://a.test"}

	seedLastUpdated(s, "t1", 1000)

	s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 500})
	s.Sync()
	assert.Empty(t, st.recorded(), "an access older than the last update is rejected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleRejected))

	s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 1500})
	s.Sync()

	notes := st.recorded()
	require.Len(t, notes, 1)
	assert.Equal(t, key, notes[0].Key)
	assert.Equal(t, metadata.ViewTimeObservation{ViewTime: 500}, notes[0].Obs)

	v, ok := lastUpdatedFor(s, "t1")
	require.True(t, ok)
	assert.Equal(t, int64(2000), v)
}

func TestUpdateMetadata_DuplicateTriggersRecordOnce(t *testing.T) {
	st := &fakeStorage{}
	s, _ := newTestService(t, st, &fakeClock{ms: 900})
	key := metadata.Key{URL: "https://a.test"}
	tab := browser.TabSession{ID: "t1", LastAccess: 100}

	// Deselect and remove both close the same window.
	s.UpdateMetadata(key, tab)
	s.UpdateMetadata(key, tab)
	s.Sync()

	assert.Equal(t, []int64{800}, st.viewTimes())
}

func TestUpdateMetadata_NewWindowAfterReselect(t *testing.T) {
	st := &fakeStorage{}
	clock := &fakeClock{ms: 900}
	s, _ := newTestService(t, st, clock)
	key := metadata.Key{URL: "https://a.test"}

	s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 100})
	s.Sync()

	clock.Set(2000)
	s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 1200})
	s.Sync()

	assert.Equal(t, []int64{800, 800}, st.viewTimes())
}

func TestUpdateMetadata_WindowOpenedAtCloseTimeIsNotStale(t *testing.T) {
	st := &fakeStorage{}
	clock := &fakeClock{ms: 900}
	s, _ := newTestService(t, st, clock)
	key := metadata.Key{URL: "https://a.test"}

	// The next window starts at the same millisecond the previous one closed.
	s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 100})
	clock.Set(1500)
	s.Sync()
	s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 900})
	s.Sync()

	// Both windows end at the clock reading taken when each close was requested.
	assert.Equal(t, []int64{800, 600}, st.viewTimes())
}

func TestUpdateMetadata_TabsAreIndependent(t *testing.T) {
	st := &fakeStorage{}
	s, _ := newTestService(t, st, &fakeClock{ms: 1000})
	key := metadata.Key{URL: "https://a.test"}

	s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 400})
	s.UpdateMetadata(key, browser.TabSession{ID: "t2", LastAccess: 600})
	s.Sync()

	assert.ElementsMatch(t, []int64{600, 400}, st.viewTimes())
}

func TestUpdateMetadata_PrivateTabIgnored(t *testing.T) {
	st := &fakeStorage{}
	s, _ := newTestService(t, st, &fakeClock{ms: 1000})

	s.UpdateMetadata(metadata.Key{URL: "https://a.test"}, browser.TabSession{ID: "t1", LastAccess: 10, Private: true})
	s.Sync()

	assert.Empty(t, st.recorded())
}

func TestUpdateMetadata_ConcurrentCallersSingleWindow(t *testing.T) {
	st := &fakeStorage{}
	s, _ := newTestService(t, st, &fakeClock{ms: 1000})
	key := metadata.Key{URL: "https://a.test"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateMetadata(key, browser.TabSession{ID: "t1", LastAccess: 250})
		}()
	}
	wg.Wait()
	s.Sync()

	assert.Equal(t, []int64{750}, st.viewTimes())
}

// --- storage failures ---

func TestStorageFailureIsLoggedAndDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	st := &fakeStorage{err: errors.New("disk full")}
	s, m := newTestService(t, st, &fakeClock{ms: 1000}, WithLogger(logger))

	s.UpdateMetadata(metadata.Key{URL: "https://a.test"}, browser.TabSession{ID: "t1", LastAccess: 10})
	s.Sync()

	assert.Contains(t, buf.String(), "dropping observation after storage failure")
	assert.Contains(t, buf.String(), "disk full")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeFailures.WithLabelValues("note_observation")))

	// Bookkeeping still advances; the window is closed even if the write was lost.
	v, ok := lastUpdatedFor(s, "t1")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), v)
}

// --- Cleanup ---

func TestCleanup_DeletesThroughStorage(t *testing.T) {
	st := &fakeStorage{deleted: 4}
	s, m := newTestService(t, st, &fakeClock{})

	s.Cleanup(12345)
	s.Sync()

	st.mu.Lock()
	assert.Equal(t, []int64{12345}, st.cutoffs)
	st.mu.Unlock()
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cleanupRows))
}

func TestCleanup_FailureIsCounted(t *testing.T) {
	st := &fakeStorage{err: errors.New("locked")}
	s, m := newTestService(t, st, &fakeClock{})

	s.Cleanup(1)
	s.Sync()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeFailures.WithLabelValues("delete_older_than")))
}

func TestCloseDrainsPendingWrites(t *testing.T) {
	st := &fakeStorage{}
	s := NewService(st, WithClock((&fakeClock{ms: 100}).Now), WithLogger(discardLogger()))

	for i := 0; i < 10; i++ {
		s.UpdateMetadata(metadata.Key{URL: "https://a.test"}, browser.TabSession{ID: string(rune('a' + i)), LastAccess: 50})
	}
	s.Close()

	assert.Len(t, st.viewTimes(), 10)
}

type panickingStorage struct{ fakeStorage }

func (p *panickingStorage) NoteObservation(ctx context.Context, key metadata.Key, obs metadata.Observation) error {
	if key.URL == "https://boom.test" {
		panic("driver bug")
	}
	return p.fakeStorage.NoteObservation(ctx, key, obs)
}

func TestLanePanicIsContained(t *testing.T) {
	st := &panickingStorage{}
	s, m := newTestService(t, st, &fakeClock{})

	s.CreateMetadata(browser.TabSession{ID: "t1", URL: "https://boom.test"}, nil)
	s.CreateMetadata(browser.TabSession{ID: "t2", URL: "https://fine.test"}, nil)
	s.Sync()

	require.Len(t, st.recorded(), 1)
	assert.Equal(t, "https://fine.test", st.recorded()[0].Key.URL)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lanePanics.WithLabelValues("writes")))
}
