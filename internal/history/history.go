// Package history persists flushed tab segments as time-spent entries.
//
// Every write is a full read-modify-write of the stored list. With
// Options.Serialize set, writes from concurrent flushes are queued behind a
// mutex; without it two flushes can both read before either writes and the
// later write drops the earlier append.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/runnerr0/tabtime/internal/duration"
	"github.com/runnerr0/tabtime/internal/storage"
)

const (
	// DefaultLimit caps the persisted list; the oldest entries go first.
	DefaultLimit = 1000

	// DefaultTimeLayout mirrors the browser's en-US toLocaleString output.
	DefaultTimeLayout = "1/2/2006, 3:04:05 PM"
)

// ErrInvalidSegment is returned for segments that must never be persisted:
// shorter than a second, or without an http(s) URL.
var ErrInvalidSegment = errors.New("invalid segment")

// Segment is a closed interval of time a tab spent on one URL.
type Segment struct {
	URL     string
	Title   string
	Start   time.Time
	Seconds int64
}

// Result describes what AppendOrMerge did with a segment.
type Result struct {
	Merged    bool
	TimeSpent string
	Evicted   int
}

// Options configures an Adapter. Zero values select the defaults.
type Options struct {
	Limit      int
	TimeLayout string
	Location   *time.Location
	Serialize  bool
	Logger     *slog.Logger
}

// Adapter appends or merges segments into the persisted history list.
type Adapter struct {
	store     storage.Store
	limit     int
	layout    string
	loc       *time.Location
	serialize bool
	logger    *slog.Logger

	mu sync.Mutex
}

// NewAdapter wraps store with the merge, cap and formatting rules.
func NewAdapter(store storage.Store, opts Options) *Adapter {
	a := &Adapter{
		store:     store,
		limit:     opts.Limit,
		layout:    opts.TimeLayout,
		loc:       opts.Location,
		serialize: opts.Serialize,
		logger:    opts.Logger,
	}
	if a.limit <= 0 {
		a.limit = DefaultLimit
	}
	if a.layout == "" {
		a.layout = DefaultTimeLayout
	}
	if a.loc == nil {
		a.loc = time.Local
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a
}

// IsTrackableURL reports whether url has an http or https scheme.
func IsTrackableURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// FormatVisitedAt renders a segment start the way entries store it.
func (a *Adapter) FormatVisitedAt(t time.Time) string {
	return t.In(a.loc).Format(a.layout)
}

// ParseVisitedAt parses a stored visitedAt back into a time.
func (a *Adapter) ParseVisitedAt(s string) (time.Time, error) {
	return time.ParseInLocation(a.layout, s, a.loc)
}

// AppendOrMerge adds seg to the stored list. An existing entry with the same
// URL and visitedAt absorbs the duration instead of gaining a duplicate row.
func (a *Adapter) AppendOrMerge(ctx context.Context, seg Segment) (Result, error) {
	if seg.Seconds < 1 {
		return Result{}, fmt.Errorf("%w: duration %ds", ErrInvalidSegment, seg.Seconds)
	}
	if !IsTrackableURL(seg.URL) {
		return Result{}, fmt.Errorf("%w: url %q", ErrInvalidSegment, seg.URL)
	}

	if a.serialize {
		a.mu.Lock()
		defer a.mu.Unlock()
	}

	entries, err := a.store.ReadHistory(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read history: %w", err)
	}

	visitedAt := a.FormatVisitedAt(seg.Start)
	res := Result{}

	idx := -1
	for i, e := range entries {
		if e.URL == seg.URL && e.VisitedAt == visitedAt {
			idx = i
			break
		}
	}

	if idx >= 0 {
		total := duration.Parse(entries[idx].TimeSpent) + seg.Seconds
		entries[idx].TimeSpent = duration.Format(total)
		res.Merged = true
		res.TimeSpent = entries[idx].TimeSpent
	} else {
		res.TimeSpent = duration.Format(seg.Seconds)
		entries = append(entries, storage.HistoryEntry{
			URL:       seg.URL,
			Title:     seg.Title,
			VisitedAt: visitedAt,
			TimeSpent: res.TimeSpent,
		})
	}

	if over := len(entries) - a.limit; over > 0 {
		entries = entries[over:]
		res.Evicted = over
	}

	if err := a.store.WriteHistory(ctx, entries); err != nil {
		return Result{}, fmt.Errorf("write history: %w", err)
	}

	a.logger.Debug("history updated",
		"url", seg.URL, "visited_at", visitedAt, "time_spent", res.TimeSpent,
		"merged", res.Merged, "evicted", res.Evicted)
	return res, nil
}

// Entries returns the stored list in insertion order.
func (a *Adapter) Entries(ctx context.Context) ([]storage.HistoryEntry, error) {
	entries, err := a.store.ReadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

// Clear empties the stored list.
func (a *Adapter) Clear(ctx context.Context) error {
	if a.serialize {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	if err := a.store.WriteHistory(ctx, []storage.HistoryEntry{}); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Prune removes entries visited before cutoff and reports how many went.
// Entries whose visitedAt cannot be parsed are kept. With dryRun set the
// stored list is left untouched.
func (a *Adapter) Prune(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	if a.serialize {
		a.mu.Lock()
		defer a.mu.Unlock()
	}

	entries, err := a.store.ReadHistory(ctx)
	if err != nil {
		return 0, fmt.Errorf("read history: %w", err)
	}

	kept := make([]storage.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		t, err := a.ParseVisitedAt(e.VisitedAt)
		if err == nil && t.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}

	removed := len(entries) - len(kept)
	if removed == 0 || dryRun {
		return removed, nil
	}
	if err := a.store.WriteHistory(ctx, kept); err != nil {
		return 0, fmt.Errorf("write history: %w", err)
	}
	a.logger.Debug("history pruned", "cutoff", cutoff, "removed", removed, "kept", len(kept))
	return removed, nil
}
