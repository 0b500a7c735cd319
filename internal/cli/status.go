package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/runnerr0/tabtrail/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string               `json:"version"`
	DatabasePath      string               `json:"database_path"`
	DatabaseSizeBytes int64                `json:"database_size_bytes"`
	TotalRows         int64                `json:"total_rows"`
	MediaRows         int64                `json:"media_rows"`
	TotalViewTimeMs   int64                `json:"total_view_time_ms"`
	OldestUpdate      string               `json:"oldest_update,omitempty"`
	NewestUpdate      string               `json:"newest_update,omitempty"`
	RetentionDays     int                  `json:"retention_days"`
	TopDomains        []domainViewTimeJSON `json:"top_domains"`
	DaemonRunning     bool                 `json:"daemon_running"`
}

type domainViewTimeJSON struct {
	Domain     string `json:"domain"`
	Rows       int64  `json:"rows"`
	ViewTimeMs int64  `json:"view_time_ms"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	if c.store == nil {
		rt, err := openRuntime(context.Background(), c.globals)
		if err != nil {
			return err
		}
		defer rt.Close()
		c.store = rt.store
		c.db = rt.db
		c.dbPath = rt.dbPath
		c.retentionDays = rt.cfg.Retention.Days
		c.daemonURL = "http://" + rt.cfg.Daemon.Addr() + "/status"
	}

	return c.run(context.Background())
}

func (c *StatusCommand) run(ctx context.Context) error {
	stats, err := c.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	stats.DatabaseSizeBytes = getDatabaseSize(c.db, c.dbPath)

	retentionDays := c.retentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	daemonRunning := checkDaemon(c.daemonURL)

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(stats, daemonRunning, retentionDays)
	}
	return c.printStatusHuman(stats, daemonRunning, retentionDays)
}

func (c *StatusCommand) printStatusHuman(stats *storage.Stats, daemonRunning bool, retentionDays int) error {
	fmt.Println("tabtrail Status")
	fmt.Println("===============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", c.dbPath, formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Rows:          %s\n", formatNumber(stats.TotalRows))
	fmt.Printf("Media:         %s\n", formatNumber(stats.MediaRows))
	fmt.Printf("View time:     %s\n", formatViewTime(stats.TotalViewTime))

	if stats.TotalRows > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestUpdate.Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestUpdate.Local().Format("2006-01-02"))
	}

	fmt.Printf("Retention:     %d days\n", retentionDays)

	if len(stats.TopDomains) > 0 {
		fmt.Println()
		fmt.Println("Top Domains:")
		for _, d := range stats.TopDomains {
			fmt.Printf("  %-24s %8s  %s rows\n", d.Domain, formatViewTime(d.ViewTime), formatNumber(d.Rows))
		}
	}

	fmt.Println()
	if daemonRunning {
		fmt.Println("Daemon:        running")
	} else {
		fmt.Println("Daemon:        not running")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(stats *storage.Stats, daemonRunning bool, retentionDays int) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      c.dbPath,
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		TotalRows:         stats.TotalRows,
		MediaRows:         stats.MediaRows,
		TotalViewTimeMs:   stats.TotalViewTime.Milliseconds(),
		RetentionDays:     retentionDays,
		TopDomains:        make([]domainViewTimeJSON, len(stats.TopDomains)),
		DaemonRunning:     daemonRunning,
	}

	if stats.TotalRows > 0 {
		out.OldestUpdate = stats.OldestUpdate.UTC().Format(time.RFC3339)
		out.NewestUpdate = stats.NewestUpdate.UTC().Format(time.RFC3339)
	}

	for i, d := range stats.TopDomains {
		out.TopDomains[i] = domainViewTimeJSON{Domain: d.Domain, Rows: d.Rows, ViewTimeMs: d.ViewTime.Milliseconds()}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if dbPath != "" {
		if info, err := os.Stat(dbPath); err == nil {
			return info.Size()
		}
	}
	if db == nil {
		return 0
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// checkDaemon attempts an HTTP GET to the daemon status endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(url string) bool {
	if url == "" {
		return false
	}
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
