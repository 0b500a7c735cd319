package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// pruneJSON is the JSON output of the prune command.
type pruneJSON struct {
	Pruned    int64  `json:"pruned"`
	DryRun    bool   `json:"dry_run"`
	OlderThan string `json:"older_than"`
	Cutoff    string `json:"cutoff"`
}

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	if c.store == nil {
		rt, err := openRuntime(context.Background(), c.globals)
		if err != nil {
			return err
		}
		defer rt.Close()
		c.store = rt.store
		c.retentionDays = rt.cfg.Retention.Days
	}

	window, err := c.window()
	if err != nil {
		return err
	}

	return c.run(context.Background(), window, time.Now().Add(-window))
}

// window is --older-than if given, otherwise the configured retention.
func (c *PruneCommand) window() (time.Duration, error) {
	if c.OlderThan != "" {
		return parseDuration(c.OlderThan)
	}
	days := c.retentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

func (c *PruneCommand) run(ctx context.Context, window time.Duration, cutoff time.Time) error {
	jsonOut := c.globals != nil && c.globals.JSON
	human := formatDurationHuman(window)

	count, err := c.store.CountOlderThan(ctx, cutoff.UnixMilli())
	if err != nil {
		return err
	}

	if c.DryRun {
		if jsonOut {
			return printPruneJSON(count, true, human, cutoff)
		}
		fmt.Printf("[DRY RUN] Would prune %s rows not updated in %s.\n", formatNumber(count), human)
		return nil
	}

	if count == 0 {
		if jsonOut {
			return printPruneJSON(0, false, human, cutoff)
		}
		fmt.Printf("No rows to prune (none older than %s).\n", human)
		return nil
	}

	if !c.Force {
		if jsonOut {
			return fmt.Errorf("prune with --json needs --force or --dry-run")
		}
		fmt.Printf("This will delete %s rows not updated in %s. Proceed? [y/N] ", formatNumber(count), human)
		if !confirm(c.input()) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted, err := c.store.DeleteOlderThan(ctx, cutoff.UnixMilli())
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	if jsonOut {
		return printPruneJSON(deleted, false, human, cutoff)
	}
	fmt.Printf("Pruned %s rows not updated in %s.\n", formatNumber(deleted), human)
	return nil
}

func (c *PruneCommand) input() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

func confirm(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

func printPruneJSON(n int64, dryRun bool, olderThan string, cutoff time.Time) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(pruneJSON{
		Pruned:    n,
		DryRun:    dryRun,
		OlderThan: olderThan,
		Cutoff:    cutoff.UTC().Format(time.RFC3339),
	})
}
