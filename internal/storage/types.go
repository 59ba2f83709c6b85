package storage

import "time"

// DefaultHistoryKey is the logical key the history list is persisted under.
const DefaultHistoryKey = "userHistory"

// HistoryEntry is one persisted time-spent record. Field names match the
// JSON layout written by the browser extension so existing data loads as-is.
type HistoryEntry struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	VisitedAt string `json:"visitedAt"` // locale timestamp of segment start
	TimeSpent string `json:"timeSpent"` // formatted duration, e.g. "1 min 5 sec"
}

// Stats holds aggregate information about the persisted history.
type Stats struct {
	Entries           int
	UpdatedAt         time.Time
	DatabaseSizeBytes int64
}
