package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/tabtime/internal/history"
	"github.com/runnerr0/tabtime/internal/storage"
)

// Execute implements the go-flags Commander interface for HistoryCommand.
func (c *HistoryCommand) Execute(args []string) error {
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

	return c.executeWithStore(newAdapter(store, cfg, nil), args, time.Now())
}

// executeWithStore lists entries from a provided adapter (for testing).
func (c *HistoryCommand) executeWithStore(adapter *history.Adapter, args []string, now time.Time) error {
	query := c.Query
	if query == "" && len(args) > 0 {
		query = strings.Join(args, " ")
	}

	r, err := history.ParseRange(c.Range)
	if err != nil {
		return err
	}

	entries, err := adapter.Entries(context.Background())
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	entries = adapter.FilterByRange(entries, r, now)
	entries = history.Search(entries, query)
	entries = history.Newest(entries)
	if c.Limit > 0 && len(entries) > c.Limit {
		entries = entries[:c.Limit]
	}

	if c.globals != nil && c.globals.JSON {
		return printHistoryJSON(query, r, entries)
	}
	return printHistoryHuman(query, r, entries)
}

func printHistoryHuman(query string, r history.Range, entries []storage.HistoryEntry) error {
	if len(entries) == 0 {
		msg := fmt.Sprintf("No visits recorded (range %s)", r)
		if query != "" {
			msg = fmt.Sprintf("No visits match %q (range %s)", query, r)
		}
		fmt.Println(styleEmpty.Render(msg))
		return nil
	}

	word := "visits"
	if len(entries) == 1 {
		word = "visit"
	}
	if query != "" {
		fmt.Println(styleHeader.Render(fmt.Sprintf("%d %s matching %q (range %s)", len(entries), word, query, r)))
	} else {
		fmt.Println(styleHeader.Render(fmt.Sprintf("%d %s (range %s)", len(entries), word, r)))
	}
	fmt.Println()

	for i, e := range entries {
		fmt.Printf("%d. %s  %s\n", i+1, styleTitle.Render(e.Title), styleDuration.Render(e.TimeSpent))
		fmt.Printf("   %s\n", styleURL.Render(e.URL))
		fmt.Printf("   %s\n", e.VisitedAt)
		if i < len(entries)-1 {
			fmt.Println()
		}
	}
	return nil
}

type jsonHistoryOutput struct {
	Count   int                    `json:"count"`
	Query   string                 `json:"query,omitempty"`
	Range   string                 `json:"range"`
	Entries []storage.HistoryEntry `json:"entries"`
}

func printHistoryJSON(query string, r history.Range, entries []storage.HistoryEntry) error {
	out := jsonHistoryOutput{
		Count:   len(entries),
		Query:   query,
		Range:   string(r),
		Entries: entries,
	}
	if out.Entries == nil {
		out.Entries = []storage.HistoryEntry{}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
