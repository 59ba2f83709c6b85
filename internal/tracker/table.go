package tracker

import (
	"sort"
	"sync"
	"time"
)

// TabSession is the tracker's view of one open tab.
type TabSession struct {
	TabID int
	// StartTime begins the current timed segment: creation, activation or
	// the last URL change, whichever reset it.
	StartTime time.Time
	// IsActive is true for at most one session in a Table.
	IsActive    bool
	LastUpdated time.Time
	// LastURL and LastTitle may be stale; they let a flush produce a record
	// after the tab is gone.
	LastURL   string
	LastTitle string
}

// Table maps tab ids to sessions. All methods are safe for concurrent use
// and hand out copies, so callers never alias stored sessions.
type Table struct {
	mu       sync.RWMutex
	sessions map[int]*TabSession
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{sessions: make(map[int]*TabSession)}
}

// Get returns the session for tabID.
func (t *Table) Get(tabID int) (TabSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[tabID]
	if !ok {
		return TabSession{}, false
	}
	return *s, true
}

// Upsert stores s under s.TabID. Storing an active session deactivates
// every other session.
func (t *Table) Upsert(s TabSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.IsActive {
		t.clearActiveLocked()
	}
	cp := s
	t.sessions[s.TabID] = &cp
}

// Update applies fn to the stored session for tabID and reports whether it
// existed. fn must not change TabID.
func (t *Table) Update(tabID int, fn func(s *TabSession)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[tabID]
	if !ok {
		return false
	}
	wasActive := s.IsActive
	fn(s)
	s.TabID = tabID
	if s.IsActive && !wasActive {
		t.clearActiveLocked()
		s.IsActive = true
	}
	return true
}

// Remove deletes the session for tabID.
func (t *Table) Remove(tabID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, tabID)
}

// FindActive returns the active session, if any.
func (t *Table) FindActive() (TabSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.sessions {
		if s.IsActive {
			return *s, true
		}
	}
	return TabSession{}, false
}

// SetActive makes tabID the only active session. It reports false, and
// changes nothing, when tabID is not tracked.
func (t *Table) SetActive(tabID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[tabID]
	if !ok {
		return false
	}
	t.clearActiveLocked()
	s.IsActive = true
	return true
}

// AllIDs returns the tracked tab ids in ascending order.
func (t *Table) AllIDs() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Snapshot returns copies of every session ordered by tab id.
func (t *Table) Snapshot() []TabSession {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TabSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Len returns the number of tracked tabs.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Table) clearActiveLocked() {
	for _, s := range t.sessions {
		s.IsActive = false
	}
}
