// Package browser mirrors the browser's authoritative tab list. The
// extension pushes full snapshots and individual lifecycle changes; the
// tracker queries the mirror the way an extension would query its host.
package browser

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTabNotFound is returned when a tab is not (or no longer) open.
var ErrTabNotFound = errors.New("tab not found")

// Tab is an open browser tab.
type Tab struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Registry is a concurrency-safe mirror of the open tabs.
type Registry struct {
	mu       sync.RWMutex
	tabs     map[int]Tab
	focused  int
	hasFocus bool
	syncedAt time.Time
}

// NewRegistry returns an empty mirror.
func NewRegistry() *Registry {
	return &Registry{tabs: make(map[int]Tab)}
}

// Replace swaps in a full snapshot. The first tab flagged active becomes the
// focused tab; with none flagged, no tab is focused.
func (r *Registry) Replace(tabs []Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tabs = make(map[int]Tab, len(tabs))
	r.hasFocus = false
	for _, t := range tabs {
		if t.Active && !r.hasFocus {
			r.focused, r.hasFocus = t.ID, true
		}
		t.Active = false
		r.tabs[t.ID] = t
	}
	r.syncedAt = time.Now()
}

// Put records a created or updated tab. Empty URL or title fields keep the
// previously known value.
func (r *Registry) Put(t Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.tabs[t.ID]; ok {
		if t.URL == "" {
			t.URL = prev.URL
		}
		if t.Title == "" {
			t.Title = prev.Title
		}
	}
	t.Active = false
	r.tabs[t.ID] = t
}

// Activate marks id as the focused tab, registering it if unknown.
func (r *Registry) Activate(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tabs[id]; !ok {
		r.tabs[id] = Tab{ID: id}
	}
	r.focused, r.hasFocus = id, true
}

// Remove forgets a closed tab.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tabs, id)
	if r.hasFocus && r.focused == id {
		r.hasFocus = false
	}
}

// SyncedAt reports when the last full snapshot arrived.
func (r *Registry) SyncedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.syncedAt
}

// QueryTab returns the tab with the given id or ErrTabNotFound.
func (r *Registry) QueryTab(ctx context.Context, id int) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tabs[id]
	if !ok {
		return Tab{}, ErrTabNotFound
	}
	t.Active = r.hasFocus && r.focused == id
	return t, nil
}

// QueryAllTabs returns every open tab ordered by id.
func (r *Registry) QueryAllTabs(ctx context.Context) ([]Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tab, 0, len(r.tabs))
	for id, t := range r.tabs {
		t.Active = r.hasFocus && r.focused == id
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// QueryFocusedTab returns the focused tab id; ok is false when no tab has focus.
func (r *Registry) QueryFocusedTab(ctx context.Context) (id int, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused, r.hasFocus, nil
}
