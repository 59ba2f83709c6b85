package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/runnerr0/tabtime/internal/duration"
	"github.com/runnerr0/tabtime/internal/history"
	"github.com/runnerr0/tabtime/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string `json:"version"`
	DatabasePath      string `json:"database_path"`
	DatabaseSizeBytes int64  `json:"database_size_bytes"`
	Entries           int    `json:"entries"`
	HistoryLimit      int    `json:"history_limit"`
	OldestVisit       string `json:"oldest_visit,omitempty"`
	NewestVisit       string `json:"newest_visit,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
	TotalTime         string `json:"total_time"`
	DaemonAddr        string `json:"daemon_addr"`
	DaemonRunning     bool   `json:"daemon_running"`
	Tracked           int    `json:"tracked,omitempty"`
}

// statusReport is everything the status command prints.
type statusReport struct {
	dbPath       string
	stats        *storage.Stats
	historyLimit int
	oldest       string
	newest       string
	totalSeconds int64
	daemonAddr   string
	daemon       daemonStatus
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	store, db, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	report, err := buildStatusReport(context.Background(), store, newAdapter(store, cfg, nil), dbPath, cfg.DaemonAddr())
	if err != nil {
		return err
	}
	report.historyLimit = cfg.Tracker.HistoryLimit
	return c.print(report)
}

// buildStatusReport gathers storage stats, the recorded range, and daemon state.
func buildStatusReport(ctx context.Context, store *storage.SQLiteStore, adapter *history.Adapter, dbPath, daemonAddr string) (*statusReport, error) {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	entries, err := adapter.Entries(ctx)
	if err != nil {
		return nil, err
	}

	report := &statusReport{
		dbPath:       dbPath,
		stats:        stats,
		historyLimit: history.DefaultLimit,
		daemonAddr:   daemonAddr,
		daemon:       checkDaemon(ctx, daemonAddr),
	}
	if len(entries) > 0 {
		report.oldest = entries[0].VisitedAt
		report.newest = entries[len(entries)-1].VisitedAt
	}
	for _, t := range history.DomainTotals(entries) {
		report.totalSeconds += t.Seconds
	}
	return report, nil
}

func (c *StatusCommand) print(r *statusReport) error {
	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(r)
	}
	return c.printStatusHuman(r)
}

func (c *StatusCommand) printStatusHuman(r *statusReport) error {
	fmt.Println(styleTitle.Render("tabtime status"))
	fmt.Println()
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", r.dbPath, humanize.Bytes(uint64(r.stats.DatabaseSizeBytes)))
	fmt.Printf("Entries:       %s / %s\n", humanize.Comma(int64(r.stats.Entries)), humanize.Comma(int64(r.historyLimit)))
	if r.stats.Entries > 0 {
		fmt.Printf("Oldest visit:  %s\n", r.oldest)
		fmt.Printf("Newest visit:  %s\n", r.newest)
		fmt.Printf("Total time:    %s\n", duration.Format(r.totalSeconds))
	}
	if !r.stats.UpdatedAt.IsZero() {
		fmt.Printf("Last write:    %s\n", humanize.Time(r.stats.UpdatedAt))
	}

	fmt.Println()
	if r.daemon.Running {
		fmt.Printf("Daemon:        running on %s (%d tabs tracked)\n", r.daemonAddr, r.daemon.Tracked)
	} else {
		fmt.Printf("Daemon:        not running (%s)\n", r.daemonAddr)
	}
	return nil
}

func (c *StatusCommand) printStatusJSON(r *statusReport) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      r.dbPath,
		DatabaseSizeBytes: r.stats.DatabaseSizeBytes,
		Entries:           r.stats.Entries,
		HistoryLimit:      r.historyLimit,
		OldestVisit:       r.oldest,
		NewestVisit:       r.newest,
		TotalTime:         duration.Format(r.totalSeconds),
		DaemonAddr:        r.daemonAddr,
		DaemonRunning:     r.daemon.Running,
		Tracked:           r.daemon.Tracked,
	}
	if !r.stats.UpdatedAt.IsZero() {
		out.UpdatedAt = r.stats.UpdatedAt.UTC().Format(time.RFC3339)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// daemonStatus is what GET /status on a running daemon reports.
type daemonStatus struct {
	Running bool
	Tracked int
}

// checkDaemon asks the daemon at addr for its status. Any failure within
// one second counts as not running.
func checkDaemon(ctx context.Context, addr string) daemonStatus {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return daemonStatus{}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return daemonStatus{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return daemonStatus{}
	}

	var body struct {
		Tracked int `json:"tracked"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return daemonStatus{Running: true, Tracked: body.Tracked}
}
