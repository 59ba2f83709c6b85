package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Run     *RunCommand
	History *HistoryCommand
	Stats   *StatsCommand
	Add     *AddCommand
	Prune   *PruneCommand
	Clear   *ClearCommand
	Status  *StatusCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "tabtime"
	parser.LongDescription = "Local per-tab time tracking for http(s) pages, fed by a browser extension."

	cmds := &commands{
		Run:     &RunCommand{globals: &globals, version: version},
		History: &HistoryCommand{globals: &globals, version: version},
		Stats:   &StatsCommand{globals: &globals, version: version},
		Add:     &AddCommand{globals: &globals, version: version},
		Prune:   &PruneCommand{globals: &globals, version: version},
		Clear:   &ClearCommand{globals: &globals, version: version},
		Status:  &StatusCommand{globals: &globals, version: version},
	}

	parser.AddCommand("run", "Start the tracking daemon", "Start the local HTTP daemon that receives tab events and records time spent per page.", cmds.Run)
	parser.AddCommand("history", "List recorded visits", "List recorded visits newest first, with optional range and text filters.", cmds.History)
	parser.AddCommand("stats", "Show time per domain", "Aggregate recorded time by domain for a date range.", cmds.Stats)
	parser.AddCommand("add", "Record time spent by hand", "Record time spent on a page by hand, merging with an entry that has the same URL and start.", cmds.Add)
	parser.AddCommand("prune", "Remove old visits", "Remove visits older than a retention age.", cmds.Prune)
	parser.AddCommand("clear", "Delete all recorded history", "Delete all recorded history. Destructive operation with safety prompt.", cmds.Clear)
	parser.AddCommand("status", "Show storage and daemon status", "Show database statistics, recorded range, and whether the daemon is reachable.", cmds.Status)

	return parser, &globals, cmds
}

// Run is the main entry point for the tabtime CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, but --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("tabtime %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
