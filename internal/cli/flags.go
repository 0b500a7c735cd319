package cli

import (
	"database/sql"
	"io"

	"github.com/runnerr0/tabtrail/internal/storage"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DB      string `long:"db" description:"Override the database path from config"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable debug logging"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// IngestCommand runs the local HTTP daemon.
type IngestCommand struct {
	Host string `long:"host" description:"Override daemon listen host"`
	Port int    `long:"port" description:"Override daemon port"`

	globals *GlobalFlags
	version string
}

// ReplayCommand feeds a recorded action log through the tracker.
type ReplayCommand struct {
	File string `long:"file" description:"JSON-lines action log (- for stdin)" required:"true"`

	globals *GlobalFlags
	version string
	store   storage.Store // injectable for testing; nil means open default DB
	stdin   io.Reader
}

// RecentCommand lists recently updated metadata rows.
type RecentCommand struct {
	Since  string `long:"since" description:"Only rows updated within duration (e.g., 7d, 24h, 2w)" default:"7d"`
	Limit  int    `long:"limit" description:"Maximum rows (0 for all)" default:"20"`
	Domain string `long:"domain" description:"Only rows on this domain"`

	globals *GlobalFlags
	version string
	store   metadataReader
}

// PruneCommand applies retention to stored metadata.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`
	Force     bool   `long:"force" description:"Skip confirmation prompt"`

	globals       *GlobalFlags
	version       string
	store         pruneStore
	stdin         io.Reader
	retentionDays int
}

// StatusCommand shows database statistics and daemon health.
type StatusCommand struct {
	globals *GlobalFlags
	version string

	store         statsReader
	db            *sql.DB
	dbPath        string
	daemonURL     string
	retentionDays int
}
