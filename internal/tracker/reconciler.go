// Package tracker turns browser tab lifecycle events into timed segments
// and flushes closed segments to history.
//
// Each tab moves between three states: untracked, tracked-inactive and
// tracked-active. Transitions run one at a time under the reconciler's
// lock; browser queries and history writes happen inside that critical
// section, so no two handlers interleave.
package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/tabtime/internal/browser"
	"github.com/runnerr0/tabtime/internal/history"
)

// LoadComplete is the tab status reported once a page finishes loading.
const LoadComplete = "complete"

// DefaultSweepInterval is how often Run reconciles against ground truth.
const DefaultSweepInterval = 60 * time.Second

// Browser answers questions about the browser's open tabs.
type Browser interface {
	QueryTab(ctx context.Context, tabID int) (browser.Tab, error)
	QueryAllTabs(ctx context.Context) ([]browser.Tab, error)
	QueryFocusedTab(ctx context.Context) (tabID int, ok bool, err error)
}

// HistoryWriter persists flushed segments.
type HistoryWriter interface {
	AppendOrMerge(ctx context.Context, seg history.Segment) (history.Result, error)
}

// Options configures a Reconciler. Zero values select the defaults.
type Options struct {
	Logger *slog.Logger
	Clock  func() time.Time
	// MinSegment is the shortest segment worth persisting. Defaults to 1s.
	MinSegment time.Duration
}

// Reconciler owns the tab table and applies lifecycle events to it.
type Reconciler struct {
	table      *Table
	browser    Browser
	history    HistoryWriter
	logger     *slog.Logger
	now        func() time.Time
	minSegment time.Duration

	mu       sync.Mutex
	sweeping atomic.Bool
}

// New creates a Reconciler with an empty table.
func New(b Browser, h HistoryWriter, opts Options) *Reconciler {
	r := &Reconciler{
		table:      NewTable(),
		browser:    b,
		history:    h,
		logger:     opts.Logger,
		now:        opts.Clock,
		minSegment: opts.MinSegment,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.minSegment < time.Second {
		r.minSegment = time.Second
	}
	return r
}

// Table exposes the session table for read-only inspection.
func (r *Reconciler) Table() *Table {
	return r.table
}

// TabCreated starts tracking a new tab as inactive. A tab already tracked
// (its activation arrived first) keeps its running segment.
func (r *Reconciler) TabCreated(ctx context.Context, tabID int, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	title := ""
	if !history.IsTrackableURL(url) {
		url, title = r.lookup(ctx, tabID)
	}
	if r.table.Update(tabID, func(s *TabSession) {
		if s.LastURL == "" {
			s.LastURL, s.LastTitle = url, title
		}
		s.LastUpdated = now
	}) {
		r.logger.Debug("tab created after first observation", "tab_id", tabID, "url", url)
		return
	}

	r.table.Upsert(TabSession{
		TabID:       tabID,
		StartTime:   now,
		LastUpdated: now,
		LastURL:     url,
		LastTitle:   title,
	})
	r.logger.Debug("tab created", "tab_id", tabID, "url", url)
}

// TabActivated closes the outgoing active tab's segment and starts a fresh
// active segment for tabID. The outgoing tab stays tracked, inactive, with
// a new segment starting now.
func (r *Reconciler) TabActivated(ctx context.Context, tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if prev, ok := r.table.FindActive(); ok {
		r.table.Update(prev.TabID, func(s *TabSession) {
			s.StartTime = now
			s.IsActive = false
			s.LastUpdated = now
		})
		r.endSegment(ctx, prev, now, "") //nolint:errcheck
	}

	s, tracked := r.table.Get(tabID)
	url, title := s.LastURL, s.LastTitle
	if url == "" {
		// The mirror still knows the URL here; a later removal or
		// navigation flush cannot ask it for the old one.
		url, title = r.lookup(ctx, tabID)
	}
	if tracked {
		r.table.Update(tabID, func(s *TabSession) {
			s.StartTime = now
			s.IsActive = true
			s.LastUpdated = now
			s.LastURL, s.LastTitle = url, title
		})
	} else {
		r.table.Upsert(TabSession{
			TabID:       tabID,
			StartTime:   now,
			IsActive:    true,
			LastUpdated: now,
			LastURL:     url,
			LastTitle:   title,
		})
	}
	r.logger.Debug("tab activated", "tab_id", tabID, "url", url)
}

// TabUpdated handles navigation and load-status changes. A URL change
// flushes the segment spent on the previous URL; a completed load seeds
// tracking for an http(s) tab no other event reported. A title, when
// given, refreshes the cached one.
func (r *Reconciler) TabUpdated(ctx context.Context, tabID int, urlChanged bool, url, title, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if urlChanged {
		if title == "" {
			title = r.titleFor(ctx, tabID, url)
		}
		if s, ok := r.table.Get(tabID); ok {
			// Querying the tab now would already report the new URL, so
			// only the cached URL can name the page being left.
			if s.LastURL != "" {
				r.endSegment(ctx, s, now, s.LastURL) //nolint:errcheck
			} else {
				r.logger.Debug("segment dropped, previous url unknown", "tab_id", tabID)
			}
			r.table.Update(tabID, func(s *TabSession) {
				s.StartTime = now
				s.LastUpdated = now
				if url != "" {
					s.LastURL = url
					s.LastTitle = title
				}
			})
		} else {
			r.table.Upsert(TabSession{
				TabID:       tabID,
				StartTime:   now,
				LastUpdated: now,
				LastURL:     url,
				LastTitle:   title,
			})
		}
		r.logger.Debug("tab url changed", "tab_id", tabID, "url", url)
	} else {
		r.table.Update(tabID, func(s *TabSession) {
			if s.LastURL == "" && history.IsTrackableURL(url) {
				s.LastURL = url
			}
			if title != "" {
				s.LastTitle = title
			}
		})
	}

	if status == LoadComplete && history.IsTrackableURL(url) {
		if _, ok := r.table.Get(tabID); !ok {
			r.table.Upsert(TabSession{
				TabID:       tabID,
				StartTime:   now,
				LastUpdated: now,
				LastURL:     url,
				LastTitle:   title,
			})
			r.logger.Debug("loaded tab tracked", "tab_id", tabID, "url", url)
		}
	}
}

// TabRemoved flushes the tab's final segment and stops tracking it.
func (r *Reconciler) TabRemoved(ctx context.Context, tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.table.Get(tabID)
	if !ok {
		return
	}
	r.endSegment(ctx, s, r.now(), "") //nolint:errcheck
	r.table.Remove(tabID)
	r.logger.Debug("tab removed", "tab_id", tabID)
}

// PageLoaded seeds tracking for a tab whose native events were missed, such
// as one restored with the session. It never flushes.
func (r *Reconciler) PageLoaded(ctx context.Context, tabID int, url, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.Get(tabID); ok {
		return
	}

	now := r.now()
	r.table.Upsert(TabSession{
		TabID:       tabID,
		StartTime:   now,
		LastUpdated: now,
		LastURL:     url,
		LastTitle:   title,
	})
	r.logger.Debug("page observer reported new tab", "tab_id", tabID, "url", url)

	focused, ok, err := r.browser.QueryFocusedTab(ctx)
	if err != nil {
		r.logger.Warn("query focused tab", "tab_id", tabID, "err", err)
		return
	}
	if ok && focused == tabID {
		r.table.SetActive(tabID)
		r.logger.Debug("reported tab is active", "tab_id", tabID)
	}
}

// Shutdown flushes every tracked segment concurrently and waits for all of
// them. Flushed sessions restart their segment so a later flush does not
// count the same time twice. The first storage error, if any, is returned
// after every flush has finished.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	sessions := r.table.Snapshot()

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			return r.endSegment(ctx, s, now, "")
		})
	}
	err := g.Wait()

	for _, s := range sessions {
		r.table.Update(s.TabID, func(s *TabSession) {
			s.StartTime = now
			s.LastUpdated = now
		})
	}
	r.logger.Info("flushed all tabs for shutdown", "tabs", len(sessions))
	return err
}

// Sweep reconciles the table against the browser's tab list: untracked
// http(s) tabs are seeded as inactive, and the focused tab, when tracked,
// becomes the only active one. It never flushes. A sweep requested while
// another is running is skipped.
func (r *Reconciler) Sweep(ctx context.Context) error {
	if !r.sweeping.CompareAndSwap(false, true) {
		r.logger.Debug("sweep already running, skipped")
		return nil
	}
	defer r.sweeping.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	tabs, err := r.browser.QueryAllTabs(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	added := 0
	for _, tab := range tabs {
		if !history.IsTrackableURL(tab.URL) {
			continue
		}
		if _, ok := r.table.Get(tab.ID); ok {
			continue
		}
		r.table.Upsert(TabSession{
			TabID:       tab.ID,
			StartTime:   now,
			LastUpdated: now,
			LastURL:     tab.URL,
			LastTitle:   tab.Title,
		})
		added++
		r.logger.Debug("sweep found untracked tab", "tab_id", tab.ID, "url", tab.URL)
	}

	focused, ok, err := r.browser.QueryFocusedTab(ctx)
	if err != nil {
		return err
	}
	if ok {
		r.table.SetActive(focused)
	}

	r.logger.Debug("sweep complete", "tabs", len(tabs), "added", added, "tracked", r.table.Len())
	return nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.runSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runSweep(ctx)
		}
	}
}

func (r *Reconciler) runSweep(ctx context.Context) {
	if err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("sweep failed", "err", err)
	}
}

// endSegment closes the segment s started and persists it. urlHint, when
// set, names the URL the segment was spent on; otherwise the tab is queried
// and the session's cached URL is the fallback. Only storage failures are
// returned; short segments and unusable URLs are dropped silently.
func (r *Reconciler) endSegment(ctx context.Context, s TabSession, end time.Time, urlHint string) error {
	elapsed := end.Sub(s.StartTime)
	if elapsed < r.minSegment {
		return nil
	}
	seconds := int64(elapsed / time.Second)

	url, title := r.resolve(ctx, s, urlHint)
	if !history.IsTrackableURL(url) {
		r.logger.Debug("segment dropped, no usable url", "tab_id", s.TabID, "url", url)
		return nil
	}
	if title == "" {
		title = "Unknown"
	}

	res, err := r.history.AppendOrMerge(ctx, history.Segment{
		URL:     url,
		Title:   title,
		Start:   s.StartTime,
		Seconds: seconds,
	})
	if err != nil {
		r.logger.Warn("flush failed", "tab_id", s.TabID, "url", url, "err", err)
		return err
	}

	r.logger.Info("segment flushed",
		"tab_id", s.TabID, "url", url, "seconds", seconds,
		"time_spent", res.TimeSpent, "merged", res.Merged)
	return nil
}

// resolve picks the URL and title a segment is attributed to.
func (r *Reconciler) resolve(ctx context.Context, s TabSession, urlHint string) (url, title string) {
	if urlHint != "" {
		return urlHint, s.LastTitle
	}

	tab, err := r.browser.QueryTab(ctx, s.TabID)
	if err != nil {
		if errors.Is(err, browser.ErrTabNotFound) {
			r.logger.Debug("tab gone, using cached url", "tab_id", s.TabID)
		} else {
			r.logger.Warn("query tab", "tab_id", s.TabID, "err", err)
		}
		return s.LastURL, s.LastTitle
	}
	if tab.URL == "" {
		return s.LastURL, s.LastTitle
	}

	if history.IsTrackableURL(tab.URL) {
		r.table.Update(s.TabID, func(cached *TabSession) {
			cached.LastURL = tab.URL
			cached.LastTitle = tab.Title
		})
	}
	return tab.URL, tab.Title
}

// lookup returns the mirror's URL and title for tabID when it has an
// http(s) URL, and empty strings otherwise.
func (r *Reconciler) lookup(ctx context.Context, tabID int) (url, title string) {
	tab, err := r.browser.QueryTab(ctx, tabID)
	if err != nil || !history.IsTrackableURL(tab.URL) {
		return "", ""
	}
	return tab.URL, tab.Title
}

// titleFor returns the mirror's title for tabID if the mirror already shows
// url in that tab.
func (r *Reconciler) titleFor(ctx context.Context, tabID int, url string) string {
	tab, err := r.browser.QueryTab(ctx, tabID)
	if err != nil || tab.URL != url {
		return ""
	}
	return tab.Title
}

// Tracked returns the number of tabs currently being timed.
func (r *Reconciler) Tracked() int {
	return r.table.Len()
}
