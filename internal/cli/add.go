package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/tabtime/internal/duration"
	"github.com/runnerr0/tabtime/internal/history"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required")
	}

	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	store, db, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	return c.executeWithStore(newAdapter(store, cfg, nil), time.Now())
}

// executeWithStore records the segment through a provided adapter (for testing).
func (c *AddCommand) executeWithStore(adapter *history.Adapter, now time.Time) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required")
	}
	if !history.IsTrackableURL(c.URL) {
		return fmt.Errorf("--url must be an http or https URL")
	}

	seconds := c.Seconds
	if c.Duration != "" {
		seconds = duration.Parse(c.Duration)
	}
	if seconds < 1 {
		return fmt.Errorf("time spent must be at least 1 sec (use --duration or --seconds)")
	}

	start := now.Add(-time.Duration(seconds) * time.Second)
	if c.At != "" {
		t, err := adapter.ParseVisitedAt(c.At)
		if err != nil {
			return fmt.Errorf("invalid --at value %q: %w", c.At, err)
		}
		start = t
	}

	title := c.Title
	if title == "" {
		title = "Unknown"
	}

	res, err := adapter.AppendOrMerge(context.Background(), history.Segment{
		URL:     c.URL,
		Title:   title,
		Start:   start,
		Seconds: seconds,
	})
	if err != nil {
		return fmt.Errorf("add failed: %w", err)
	}

	visitedAt := adapter.FormatVisitedAt(start)
	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"url":       c.URL,
			"title":     title,
			"visitedAt": visitedAt,
			"timeSpent": res.TimeSpent,
			"merged":    res.Merged,
			"evicted":   res.Evicted,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	verb := "Added"
	if res.Merged {
		verb = "Merged"
	}
	fmt.Printf("%s %s at %s (%s)\n", verb, c.URL, visitedAt, res.TimeSpent)
	return nil
}
