package cli

import (
	"io"

	"github.com/runnerr0/tabtime/internal/storage"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable debug logging"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// RunCommand starts the ingest daemon and the reconciler.
type RunCommand struct {
	Host     string `long:"host" description:"Override daemon listen host"`
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level (debug, info, warn, error)"`

	globals *GlobalFlags
	version string
}

// HistoryCommand lists recorded visits.
type HistoryCommand struct {
	Range string `long:"range" description:"Only visits within range" choice:"day" choice:"week" choice:"month" choice:"all" default:"all"`
	Query string `long:"query" short:"q" description:"Case-insensitive match on title or URL"`
	Limit int    `long:"limit" description:"Maximum results (0 for all)" default:"20"`

	globals *GlobalFlags
	version string
}

// StatsCommand aggregates recorded time per domain.
type StatsCommand struct {
	Range string `long:"range" description:"Only visits within range" choice:"day" choice:"week" choice:"month" choice:"all" default:"week"`
	Top   int    `long:"top" description:"Show only the N busiest domains (0 for all)" default:"10"`

	globals *GlobalFlags
	version string
}

// AddCommand records time spent on a page by hand.
type AddCommand struct {
	URL      string `long:"url" description:"Page URL (required)"`
	Title    string `long:"title" description:"Page title"`
	Duration string `long:"duration" description:"Time spent, e.g. '1 min 5 sec'"`
	Seconds  int64  `long:"seconds" description:"Time spent in seconds"`
	At       string `long:"at" description:"Visit start in the display time layout (default: now minus the duration)"`

	globals *GlobalFlags
	version string
}

// PruneCommand removes entries older than a retention age.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Remove visits older than this age (e.g., 30d, 2w, 12h)" default:"90d"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// ClearCommand deletes the recorded history after confirmation.
type ClearCommand struct {
	All   bool `long:"all" description:"Required flag to confirm clear intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	store   storage.Store // injectable for testing; nil means open the configured DB
	stdin   io.Reader     // nil means os.Stdin
}

// StatusCommand shows storage statistics and daemon reachability.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}
