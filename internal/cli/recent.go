package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/tabtrail/internal/metadata"
)

// Execute implements the go-flags Commander interface for RecentCommand.
func (c *RecentCommand) Execute(args []string) error {
	window, err := parseDuration(c.Since)
	if err != nil {
		return err
	}
	if c.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	if c.store == nil {
		rt, err := openRuntime(context.Background(), c.globals)
		if err != nil {
			return err
		}
		defer rt.Close()
		c.store = rt.store
	}

	return c.run(context.Background(), time.Now().Add(-window))
}

func (c *RecentCommand) run(ctx context.Context, cutoff time.Time) error {
	rows, err := c.store.GetSince(ctx, cutoff.UnixMilli())
	if err != nil {
		return fmt.Errorf("query metadata: %w", err)
	}

	if c.Domain != "" {
		filtered := rows[:0]
		for _, r := range rows {
			if r.Key.Domain() == c.Domain {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	if c.Limit > 0 && len(rows) > c.Limit {
		rows = rows[:c.Limit]
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(toRowsJSON(rows))
	}
	printRowsHuman(rows, c.Since)
	return nil
}

func printRowsHuman(rows []metadata.Row, since string) {
	if len(rows) == 0 {
		fmt.Printf("No history metadata in the last %s.\n", since)
		return
	}

	fmt.Printf("%-16s  %-9s  %-7s  %s\n", "UPDATED", "VIEWED", "TYPE", "URL")
	for _, r := range rows {
		fmt.Printf("%-16s  %-9s  %-7s  %s\n",
			r.UpdatedAt.Local().Format("2006-01-02 15:04"),
			formatViewTime(time.Duration(r.TotalViewTime)*time.Millisecond),
			r.DocumentType,
			truncate(r.Key.URL, 80),
		)
		if r.Key.SearchTerm != "" {
			fmt.Printf("%38s search: %s\n", "", r.Key.SearchTerm)
		}
		if r.Key.ReferrerURL != "" {
			fmt.Printf("%38s from:   %s\n", "", truncate(r.Key.ReferrerURL, 80))
		}
	}
	fmt.Printf("\n%d rows\n", len(rows))
}
