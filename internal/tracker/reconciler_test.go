package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/tabtime/internal/browser"
	"github.com/runnerr0/tabtime/internal/history"
	"github.com/runnerr0/tabtime/internal/storage"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = epoch.Add(d)
}

var epoch = time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory storage.Store.
type memStore struct {
	mu       sync.Mutex
	entries  []storage.HistoryEntry
	writeErr error
}

func (m *memStore) ReadHistory(ctx context.Context) ([]storage.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.HistoryEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStore) WriteHistory(ctx context.Context, entries []storage.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.entries = make([]storage.HistoryEntry, len(entries))
	copy(m.entries, entries)
	return nil
}

func (m *memStore) snapshot() []storage.HistoryEntry {
	entries, _ := m.ReadHistory(context.Background())
	return entries
}

type fixture struct {
	rec     *Reconciler
	browser *browser.Registry
	store   *memStore
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: epoch}
	store := &memStore{}
	reg := browser.NewRegistry()
	adapter := history.NewAdapter(store, history.Options{Location: time.UTC, Serialize: true})
	rec := New(reg, adapter, Options{Clock: clock.Now})
	return &fixture{rec: rec, browser: reg, store: store, clock: clock}
}

func TestScenario_URLChangeThenClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 1, URL: "https://a.com"})
	f.rec.TabCreated(ctx, 1, "https://a.com")
	f.browser.Activate(1)
	f.rec.TabActivated(ctx, 1)
	assert.Empty(t, f.store.snapshot(), "activation of the first tab flushes nothing")

	f.clock.Set(5000 * time.Millisecond)
	f.browser.Put(browser.Tab{ID: 1, URL: "https://b.com", Title: "B"})
	f.rec.TabUpdated(ctx, 1, true, "https://b.com", "", "loading")

	entries := f.store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://a.com", entries[0].URL)
	assert.Equal(t, "5 sec", entries[0].TimeSpent)

	f.clock.Set(12000 * time.Millisecond)
	f.browser.Remove(1)
	f.rec.TabRemoved(ctx, 1)

	entries = f.store.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "https://b.com", entries[1].URL)
	assert.Equal(t, "B", entries[1].Title, "title of the new page comes from the mirror")
	assert.Equal(t, "7 sec", entries[1].TimeSpent)

	_, tracked := f.rec.Table().Get(1)
	assert.False(t, tracked)
}

func TestScenario_ActivationSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 10, URL: "https://a.com", Title: "A"})
	f.browser.Put(browser.Tab{ID: 20, URL: "https://b.com", Title: "B"})
	f.rec.TabActivated(ctx, 10)

	f.clock.Set(65 * time.Second)
	f.rec.TabActivated(ctx, 20)

	entries := f.store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://a.com", entries[0].URL)
	assert.Equal(t, "A", entries[0].Title)
	assert.Equal(t, "1 min 5 sec", entries[0].TimeSpent)

	b, ok := f.rec.Table().Get(20)
	require.True(t, ok)
	assert.True(t, b.IsActive)
	assert.Equal(t, epoch.Add(65*time.Second), b.StartTime)

	a, ok := f.rec.Table().Get(10)
	require.True(t, ok, "outgoing tab stays tracked")
	assert.False(t, a.IsActive)
	assert.Equal(t, "https://a.com", a.LastURL, "successful lookup refreshes the cache")
}

func TestActivation_OutgoingSegmentIsNotCountedTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 1, URL: "https://a.com"})
	f.browser.Put(browser.Tab{ID: 2, URL: "https://b.com"})
	f.rec.TabActivated(ctx, 1)

	f.clock.Set(10 * time.Second)
	f.rec.TabActivated(ctx, 2)

	f.clock.Set(13 * time.Second)
	f.browser.Remove(1)
	f.rec.TabRemoved(ctx, 1)

	entries := f.store.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "10 sec", entries[0].TimeSpent)
	assert.Equal(t, "3 sec", entries[1].TimeSpent)
}

func TestActivation_AtMostOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, id := range []int{1, 2, 3, 2, 5, 1, 1, 4} {
		f.clock.Set(time.Duration(i) * time.Second)
		f.rec.TabActivated(ctx, id)

		active := 0
		for _, s := range f.rec.Table().Snapshot() {
			if s.IsActive {
				active++
				assert.Equal(t, id, s.TabID)
			}
		}
		assert.Equal(t, 1, active)
	}
}

func TestActivation_ShortSegmentNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 1, URL: "https://a.com"})
	f.rec.TabActivated(ctx, 1)
	f.clock.Set(999 * time.Millisecond)
	f.rec.TabActivated(ctx, 2)

	assert.Empty(t, f.store.snapshot())
}

func TestFlush_FloorsToWholeSeconds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 1, URL: "https://a.com"})
	f.rec.TabActivated(ctx, 1)
	f.clock.Set(2999 * time.Millisecond)
	f.rec.TabActivated(ctx, 2)

	entries := f.store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "2 sec", entries[0].TimeSpent)
}

func TestFlush_NonHTTPURLDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 1, URL: "chrome://settings"})
	f.rec.TabActivated(ctx, 1)
	f.clock.Set(30 * time.Second)
	f.rec.TabActivated(ctx, 2)

	assert.Empty(t, f.store.snapshot())
}

func TestFlush_ClosedTabWithoutCacheDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabActivated(ctx, 1)
	f.clock.Set(30 * time.Second)
	f.rec.TabRemoved(ctx, 1)

	assert.Empty(t, f.store.snapshot())
	_, tracked := f.rec.Table().Get(1)
	assert.False(t, tracked)
}

func TestFlush_StorageFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.writeErr = errors.New("quota exceeded")

	f.browser.Put(browser.Tab{ID: 1, URL: "https://a.com"})
	f.browser.Put(browser.Tab{ID: 2, URL: "https://b.com"})
	f.rec.TabActivated(ctx, 1)
	f.clock.Set(5 * time.Second)
	f.rec.TabActivated(ctx, 2)

	active, ok := f.rec.Table().FindActive()
	require.True(t, ok)
	assert.Equal(t, 2, active.TabID)
	assert.Equal(t, []int{1, 2}, f.rec.Table().AllIDs())
}

func TestURLChange_UntrackedTabCreatedWithoutFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Set(time.Minute)
	f.rec.TabUpdated(ctx, 3, true, "https://c.com", "", "loading")

	assert.Empty(t, f.store.snapshot())
	s, ok := f.rec.Table().Get(3)
	require.True(t, ok)
	assert.False(t, s.IsActive)
	assert.Equal(t, epoch.Add(time.Minute), s.StartTime)
	assert.Equal(t, "https://c.com", s.LastURL)
}

func TestURLChange_EachNavigationIsItsOwnSegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 1, URL: "https://a.com"})
	f.rec.TabCreated(ctx, 1, "https://a.com")
	f.clock.Set(4 * time.Second)
	f.rec.TabUpdated(ctx, 1, true, "https://a.com", "", "loading")
	f.clock.Set(9 * time.Second)
	f.rec.TabUpdated(ctx, 1, true, "https://a.com", "", "loading")

	entries := f.store.snapshot()
	require.Len(t, entries, 2, "different segment starts are separate entries")
	assert.Equal(t, "4 sec", entries[0].TimeSpent)
	assert.Equal(t, "5 sec", entries[1].TimeSpent)
}

func TestLoadComplete_Backstop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabUpdated(ctx, 4, false, "about:blank", "", LoadComplete)
	_, ok := f.rec.Table().Get(4)
	assert.False(t, ok, "non-http pages are not seeded")

	f.rec.TabUpdated(ctx, 4, false, "https://d.com", "", "loading")
	_, ok = f.rec.Table().Get(4)
	assert.False(t, ok, "only completed loads seed tracking")

	f.rec.TabUpdated(ctx, 4, false, "https://d.com", "", LoadComplete)
	s, ok := f.rec.Table().Get(4)
	require.True(t, ok)
	assert.False(t, s.IsActive)
	assert.Empty(t, f.store.snapshot())
}

func TestLoadComplete_DoesNotResetTrackedTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabCreated(ctx, 4, "https://d.com")
	f.clock.Set(10 * time.Second)
	f.rec.TabUpdated(ctx, 4, false, "https://d.com", "", LoadComplete)

	s, _ := f.rec.Table().Get(4)
	assert.Equal(t, epoch, s.StartTime)
}

func TestTabCreated_AfterActivationKeepsSegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabActivated(ctx, 8)
	f.clock.Set(3 * time.Second)
	f.rec.TabCreated(ctx, 8, "https://late.com")

	s, ok := f.rec.Table().Get(8)
	require.True(t, ok)
	assert.True(t, s.IsActive)
	assert.Equal(t, epoch, s.StartTime)
	assert.Equal(t, "https://late.com", s.LastURL)
}

func TestRemoval_UntrackedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.rec.TabRemoved(context.Background(), 99)
	assert.Empty(t, f.store.snapshot())
}

func TestPageLoaded_SeedsUntrackedTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.PageLoaded(ctx, 6, "https://restored.com", "Restored")

	s, ok := f.rec.Table().Get(6)
	require.True(t, ok)
	assert.False(t, s.IsActive)
	assert.Equal(t, "Restored", s.LastTitle)
	assert.Empty(t, f.store.snapshot())
}

func TestPageLoaded_FocusedTabBecomesOnlyActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabActivated(ctx, 1)
	f.browser.Put(browser.Tab{ID: 6, URL: "https://restored.com"})
	f.browser.Activate(6)

	f.clock.Set(20 * time.Second)
	f.rec.PageLoaded(ctx, 6, "https://restored.com", "Restored")

	active, ok := f.rec.Table().FindActive()
	require.True(t, ok)
	assert.Equal(t, 6, active.TabID)
	assert.Empty(t, f.store.snapshot(), "page observer never flushes")
}

func TestPageLoaded_TrackedTabUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabCreated(ctx, 6, "https://a.com")
	f.clock.Set(5 * time.Second)
	f.rec.PageLoaded(ctx, 6, "https://other.com", "Other")

	s, _ := f.rec.Table().Get(6)
	assert.Equal(t, epoch, s.StartTime)
	assert.Equal(t, "https://a.com", s.LastURL)
}

func TestSweep_AddsUntrackedHTTPTabs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Replace([]browser.Tab{
		{ID: 1, URL: "https://c.com", Title: "C"},
		{ID: 2, URL: "chrome://newtab"},
	})
	f.clock.Set(2 * time.Minute)

	require.NoError(t, f.rec.Sweep(ctx))

	s, ok := f.rec.Table().Get(1)
	require.True(t, ok)
	assert.False(t, s.IsActive)
	assert.Equal(t, epoch.Add(2*time.Minute), s.StartTime)
	assert.Equal(t, "C", s.LastTitle)

	_, ok = f.rec.Table().Get(2)
	assert.False(t, ok)
	assert.Empty(t, f.store.snapshot(), "sweep never flushes")
}

func TestSweep_RecomputesActiveFromGroundTruth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabActivated(ctx, 1)
	f.browser.Replace([]browser.Tab{
		{ID: 1, URL: "https://a.com"},
		{ID: 2, URL: "https://b.com", Active: true},
	})

	require.NoError(t, f.rec.Sweep(ctx))

	active, ok := f.rec.Table().FindActive()
	require.True(t, ok)
	assert.Equal(t, 2, active.TabID)
	s1, _ := f.rec.Table().Get(1)
	assert.False(t, s1.IsActive)
}

func TestSweep_NoFocusLeavesFlagsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabActivated(ctx, 1)
	f.browser.Replace([]browser.Tab{{ID: 1, URL: "https://a.com"}})

	require.NoError(t, f.rec.Sweep(ctx))

	active, ok := f.rec.Table().FindActive()
	require.True(t, ok)
	assert.Equal(t, 1, active.TabID)
}

func TestSweep_DoesNotResetTrackedTabs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabCreated(ctx, 1, "https://a.com")
	f.browser.Replace([]browser.Tab{{ID: 1, URL: "https://a.com"}})
	f.clock.Set(time.Minute)

	require.NoError(t, f.rec.Sweep(ctx))

	s, _ := f.rec.Table().Get(1)
	assert.Equal(t, epoch, s.StartTime)
}

func TestSweep_QueryFailureReturned(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.rec.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShutdown_FlushesEveryTrackedTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id, u := range map[int]string{1: "https://a.com", 2: "https://b.com", 3: "https://c.com"} {
		f.browser.Put(browser.Tab{ID: id, URL: u})
		f.rec.TabCreated(ctx, id, u)
	}
	f.rec.TabActivated(ctx, 2)

	f.clock.Set(30 * time.Second)
	require.NoError(t, f.rec.Shutdown(ctx))

	entries := f.store.snapshot()
	require.Len(t, entries, 3)
	urls := map[string]string{}
	for _, e := range entries {
		urls[e.URL] = e.TimeSpent
	}
	assert.Equal(t, map[string]string{
		"https://a.com": "30 sec",
		"https://b.com": "30 sec",
		"https://c.com": "30 sec",
	}, urls)

	f.clock.Set(31 * time.Second)
	require.NoError(t, f.rec.Shutdown(ctx))
	entries = f.store.snapshot()
	require.Len(t, entries, 6, "second shutdown only flushes the new one-second segments")
	for _, e := range entries[3:] {
		assert.Equal(t, "1 sec", e.TimeSpent)
	}
}

func TestShutdown_ReturnsStorageError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.writeErr = errors.New("disk full")

	f.browser.Put(browser.Tab{ID: 1, URL: "https://a.com"})
	f.rec.TabCreated(ctx, 1, "https://a.com")
	f.clock.Set(5 * time.Second)

	err := f.rec.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_SweepsImmediatelyAndStops(t *testing.T) {
	f := newFixture(t)
	f.browser.Replace([]browser.Tab{{ID: 1, URL: "https://a.com"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.rec.Run(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := f.rec.Table().Get(1)
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTabUpdated_TitleRefreshesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabCreated(ctx, 5, "https://e.com")
	f.rec.TabUpdated(ctx, 5, false, "https://e.com", "Example", LoadComplete)

	f.clock.Set(3 * time.Second)
	f.rec.TabRemoved(ctx, 5)

	entries := f.store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "Example", entries[0].Title)
	assert.Equal(t, "3 sec", entries[0].TimeSpent)
}

func TestActivation_SeedsCacheFromBrowser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 7, URL: "https://old.com", Title: "Old"})
	f.browser.Activate(7)
	f.rec.TabActivated(ctx, 7)

	s, ok := f.rec.Table().Get(7)
	require.True(t, ok)
	assert.Equal(t, "https://old.com", s.LastURL)
	assert.Equal(t, "Old", s.LastTitle)
}

func TestURLChange_ActivationOnlyTabKeepsOldURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 7, URL: "https://old.com", Title: "Old"})
	f.browser.Activate(7)
	f.rec.TabActivated(ctx, 7)

	f.clock.Set(30 * time.Second)
	f.browser.Put(browser.Tab{ID: 7, URL: "https://new.com", Title: "New"})
	f.rec.TabUpdated(ctx, 7, true, "https://new.com", "", "loading")

	entries := f.store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://old.com", entries[0].URL)
	assert.Equal(t, "Old", entries[0].Title)
	assert.Equal(t, "30 sec", entries[0].TimeSpent)

	s, _ := f.rec.Table().Get(7)
	assert.Equal(t, "https://new.com", s.LastURL)
	assert.Equal(t, "New", s.LastTitle)
}

func TestURLChange_UnknownPreviousURLDropsSegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.TabActivated(ctx, 8)
	f.clock.Set(20 * time.Second)
	f.browser.Put(browser.Tab{ID: 8, URL: "https://new.com", Title: "New"})
	f.rec.TabUpdated(ctx, 8, true, "https://new.com", "", "loading")

	assert.Empty(t, f.store.snapshot(), "time on an unknown page is not charged to the new one")
	s, ok := f.rec.Table().Get(8)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(20*time.Second), s.StartTime)
	assert.Equal(t, "https://new.com", s.LastURL)
}

func TestActivation_ClosedTabUsesURLSeenAtActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 7, URL: "https://old.com", Title: "Old"})
	f.rec.TabActivated(ctx, 7)

	f.clock.Set(40 * time.Second)
	f.browser.Remove(7)
	f.rec.TabRemoved(ctx, 7)

	entries := f.store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://old.com", entries[0].URL)
	assert.Equal(t, "40 sec", entries[0].TimeSpent)
}

func TestTabCreated_EmptyURLSeedsFromBrowser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.browser.Put(browser.Tab{ID: 9, URL: "https://seen.com", Title: "Seen"})
	f.rec.TabCreated(ctx, 9, "")

	s, ok := f.rec.Table().Get(9)
	require.True(t, ok)
	assert.Equal(t, "https://seen.com", s.LastURL)
	assert.Equal(t, "Seen", s.LastTitle)
}
