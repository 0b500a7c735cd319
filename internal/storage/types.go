package storage

import "time"

// Stats holds aggregate statistics about the metadata database.
type Stats struct {
	TotalRows         int64
	TotalViewTime     time.Duration
	MediaRows         int64
	OldestUpdate      time.Time
	NewestUpdate      time.Time
	DatabaseSizeBytes int64
	TopDomains        []DomainViewTime
}

// DomainViewTime pairs a domain with the view time accumulated on it.
type DomainViewTime struct {
	Domain   string
	Rows     int64
	ViewTime time.Duration
}
