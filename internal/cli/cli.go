package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Ingest *IngestCommand
	Replay *ReplayCommand
	Recent *RecentCommand
	Prune  *PruneCommand
	Status *StatusCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "tabtrail"
	parser.LongDescription = "Local history metadata tracking: how long each page was viewed, where it was reached from, and what kind of document it was."

	cmds := &commands{
		Ingest: &IngestCommand{globals: &globals, version: version},
		Replay: &ReplayCommand{globals: &globals, version: version},
		Recent: &RecentCommand{globals: &globals, version: version},
		Prune:  &PruneCommand{globals: &globals, version: version},
		Status: &StatusCommand{globals: &globals, version: version},
	}

	parser.AddCommand("ingest", "Start the tabtrail daemon", "Start the local HTTP daemon that receives browser tab actions and records history metadata.", cmds.Ingest)
	parser.AddCommand("replay", "Replay a recorded action log", "Feed a JSON-lines file of browser actions through the tracker into the database.", cmds.Replay)
	parser.AddCommand("recent", "List recent history metadata", "List history metadata updated within a time window, most recent first.", cmds.Recent)
	parser.AddCommand("prune", "Apply retention pruning", "Delete history metadata whose last observation is older than the retention window.", cmds.Prune)
	parser.AddCommand("status", "Show database statistics", "Show database statistics, top domains by view time, and daemon health.", cmds.Status)

	return parser, &globals, cmds
}

// Run is the main entry point for the tabtrail CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("tabtrail %s\n", version)
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
