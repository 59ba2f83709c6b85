package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/tabtime/internal/duration"
	"github.com/runnerr0/tabtime/internal/history"
)

const barWidth = 24

// Execute implements the go-flags Commander interface for StatsCommand.
func (c *StatsCommand) Execute(args []string) error {
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

// executeWithStore aggregates entries from a provided adapter (for testing).
func (c *StatsCommand) executeWithStore(adapter *history.Adapter, now time.Time) error {
	r, err := history.ParseRange(c.Range)
	if err != nil {
		return err
	}

	entries, err := adapter.Entries(context.Background())
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	totals := history.DomainTotals(adapter.FilterByRange(entries, r, now))

	var grand int64
	for _, t := range totals {
		grand += t.Seconds
	}
	if c.Top > 0 && len(totals) > c.Top {
		totals = totals[:c.Top]
	}

	if c.globals != nil && c.globals.JSON {
		return printStatsJSON(r, grand, totals)
	}
	return printStatsHuman(r, grand, totals)
}

func printStatsHuman(r history.Range, grand int64, totals []history.DomainTotal) error {
	if len(totals) == 0 {
		fmt.Println(styleEmpty.Render(fmt.Sprintf("No time recorded (range %s)", r)))
		return nil
	}

	fmt.Println(styleTitle.Render("Time per domain") + "  " + styleHeader.Render(fmt.Sprintf("range %s, total %s", r, duration.Format(grand))))
	fmt.Println()

	top := totals[0].Seconds
	for _, t := range totals {
		fmt.Printf("%s %s %s  %s\n",
			styleDomain.Render(t.Domain),
			styleLabel.Render(history.ShortLabel(t.Seconds)),
			renderBar(t.Seconds, top),
			styleHeader.Render(duration.Format(t.Seconds)))
	}
	return nil
}

// renderBar draws value as a share of top across barWidth cells.
func renderBar(value, top int64) string {
	filled := 0
	if top > 0 {
		filled = int(value * barWidth / top)
	}
	if value > 0 && filled == 0 {
		filled = 1
	}
	return styleBarFill.Render(strings.Repeat("█", filled)) +
		styleBarEmpty.Render(strings.Repeat("░", barWidth-filled))
}

type jsonDomainTotal struct {
	Domain    string `json:"domain"`
	Seconds   int64  `json:"seconds"`
	Visits    int    `json:"visits"`
	Label     string `json:"label"`
	TimeSpent string `json:"timeSpent"`
}

type jsonStatsOutput struct {
	Range        string            `json:"range"`
	TotalSeconds int64             `json:"total_seconds"`
	Domains      []jsonDomainTotal `json:"domains"`
}

func printStatsJSON(r history.Range, grand int64, totals []history.DomainTotal) error {
	out := jsonStatsOutput{
		Range:        string(r),
		TotalSeconds: grand,
		Domains:      make([]jsonDomainTotal, len(totals)),
	}
	for i, t := range totals {
		out.Domains[i] = jsonDomainTotal{
			Domain:    t.Domain,
			Seconds:   t.Seconds,
			Visits:    t.Visits,
			Label:     history.ShortLabel(t.Seconds),
			TimeSpent: duration.Format(t.Seconds),
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
