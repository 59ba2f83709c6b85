package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/runnerr0/tabtime/internal/history"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
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

// executeWithStore prunes through a provided adapter (for testing).
func (c *PruneCommand) executeWithStore(adapter *history.Adapter, now time.Time) error {
	age, err := parseAge(c.OlderThan)
	if err != nil {
		return fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
	}
	cutoff := now.Add(-age)

	removed, err := adapter.Prune(context.Background(), cutoff, c.DryRun)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
			"dry_run": c.DryRun,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	word := "entries"
	if removed == 1 {
		word = "entry"
	}
	if c.DryRun {
		fmt.Printf("Would remove %d %s visited before %s\n", removed, word, adapter.FormatVisitedAt(cutoff))
		return nil
	}
	fmt.Printf("Removed %d %s visited before %s\n", removed, word, adapter.FormatVisitedAt(cutoff))
	return nil
}

// parseAge parses an age like "30d", "2w", "12h" or "90m".
func parseAge(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("use a number followed by d, w, h or m")
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("use a positive number followed by d, w, h or m")
	}

	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("unknown unit %q (use d, w, h or m)", s[len(s)-1:])
	}
}
