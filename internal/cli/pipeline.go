package cli

import (
	"log/slog"
	"time"

	"github.com/runnerr0/tabtrail/internal/browser"
	"github.com/runnerr0/tabtrail/internal/historymeta"
	"github.com/runnerr0/tabtrail/internal/logging"
)

// pipeline carries browser actions through the metadata middleware and
// the last-access stamper into the tab state, with observations flowing
// to the service.
type pipeline struct {
	tabs    *browser.Store
	service *historymeta.Service
}

func newPipeline(st historymeta.Storage, logger *slog.Logger, metrics *historymeta.Metrics, now func() time.Time) *pipeline {
	if now == nil {
		now = time.Now
	}
	service := historymeta.NewService(st,
		historymeta.WithClock(now),
		historymeta.WithLogger(logger),
		historymeta.WithMetrics(metrics),
	)
	tabs := browser.NewStore(browser.State{},
		historymeta.NewMiddleware(service, logging.Component(logger, "middleware")),
		browser.NewLastAccessMiddleware(now),
	)
	return &pipeline{tabs: tabs, service: service}
}

// Dispatch applies one browser action.
func (p *pipeline) Dispatch(a browser.Action) {
	p.tabs.Dispatch(a)
}

// State is the current tab state.
func (p *pipeline) State() browser.State {
	return p.tabs.State()
}

// Cleanup schedules deletion of metadata whose last update precedes cutoff.
func (p *pipeline) Cleanup(cutoff time.Time) {
	p.service.Cleanup(cutoff.UnixMilli())
}

// Sync waits for all observations caused by earlier actions to be written.
func (p *pipeline) Sync() {
	p.service.Sync()
}

// Close drains pending writes and stops the service.
func (p *pipeline) Close() {
	p.service.Close()
}

// internalAction reports whether a is produced by the tracker itself and
// must not be accepted from clients.
func internalAction(a browser.Action) bool {
	switch a.(type) {
	case browser.SetMetadataKeyAction, browser.UpdateLastAccessAction:
		return true
	}
	return false
}
