package history

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/runnerr0/tabtime/internal/duration"
	"github.com/runnerr0/tabtime/internal/storage"
)

// Range selects how far back history queries look.
type Range string

const (
	RangeDay   Range = "day"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
	RangeAll   Range = "all"
)

// ParseRange validates a user-supplied range name. Empty means RangeAll.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RangeAll, nil
	case RangeDay, RangeWeek, RangeMonth, RangeAll:
		return r, nil
	default:
		return "", fmt.Errorf("invalid range %q (use day, week, month, or all)", s)
	}
}

// Since returns the earliest visit time included by r, relative to now.
// ok is false for RangeAll.
func (r Range) Since(now time.Time) (since time.Time, ok bool) {
	switch r {
	case RangeDay:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
	case RangeWeek:
		return now.AddDate(0, 0, -7), true
	case RangeMonth:
		return now.AddDate(0, -1, 0), true
	default:
		return time.Time{}, false
	}
}

// FilterByRange keeps entries visited within r. Entries whose visitedAt
// cannot be parsed are dropped unless r is RangeAll.
func (a *Adapter) FilterByRange(entries []storage.HistoryEntry, r Range, now time.Time) []storage.HistoryEntry {
	since, ok := r.Since(now.In(a.loc))
	if !ok {
		return entries
	}

	out := make([]storage.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		t, err := a.ParseVisitedAt(e.VisitedAt)
		if err != nil {
			continue
		}
		if !t.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// Search keeps entries whose title or URL contains q, case-insensitively.
func Search(entries []storage.HistoryEntry, q string) []storage.HistoryEntry {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return entries
	}

	out := make([]storage.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Title), q) || strings.Contains(strings.ToLower(e.URL), q) {
			out = append(out, e)
		}
	}
	return out
}

// Newest returns a copy of entries with the most recent first.
func Newest(entries []storage.HistoryEntry) []storage.HistoryEntry {
	out := make([]storage.HistoryEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

// DomainTotal is the summed time spent on one host.
type DomainTotal struct {
	Domain  string
	Seconds int64
	Visits  int
}

// DomainTotals groups entries by URL host and sums their durations, largest
// total first.
func DomainTotals(entries []storage.HistoryEntry) []DomainTotal {
	byDomain := make(map[string]*DomainTotal)
	for _, e := range entries {
		d := Domain(e.URL)
		dt, ok := byDomain[d]
		if !ok {
			dt = &DomainTotal{Domain: d}
			byDomain[d] = dt
		}
		dt.Seconds += duration.Parse(e.TimeSpent)
		dt.Visits++
	}

	out := make([]DomainTotal, 0, len(byDomain))
	for _, dt := range byDomain {
		out = append(out, *dt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Domain extracts the hostname from rawURL, falling back to rawURL itself.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}

// ShortLabel renders seconds as "42s" under a minute, else rounded minutes.
func ShortLabel(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm", int64(math.Round(float64(seconds)/60)))
}
