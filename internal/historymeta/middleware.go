package historymeta

import (
	"log/slog"
	"slices"

	"github.com/runnerr0/tabtrail/internal/browser"
	"github.com/runnerr0/tabtrail/internal/metadata"
)

// MetadataService is the part of Service the middleware drives.
type MetadataService interface {
	CreateMetadata(tab browser.TabSession, referrer *browser.TabSession) metadata.Key
	UpdateMetadata(key metadata.Key, tab browser.TabSession)
}

// Middleware watches browser actions and tells the service when a tab's
// metadata key must be created and when its view-time window closes.
// Private tabs are never reported.
type Middleware struct {
	service MetadataService
	logger  *slog.Logger
}

// NewMiddleware returns a Middleware driving service.
func NewMiddleware(service MetadataService, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		service: service,
		logger:  logger.With(slog.String("component", "historymeta.middleware")),
	}
}

// Process implements browser.Middleware. Rules that close a view-time
// window run before the action is applied, while the outgoing tab is still
// in state. The media rule runs afterwards so it sees the new media state.
func (m *Middleware) Process(ctx browser.MiddlewareContext, next func(browser.Action), action browser.Action) {
	state := ctx.State()

	switch a := action.(type) {
	case browser.AddTabAction:
		if a.Select {
			m.closeSelected(state, "add_tab")
		}

	case browser.SelectTabAction:
		m.closeSelected(state, "select_tab")

	case browser.RemoveTabAction:
		if a.TabID == state.SelectedTabID {
			m.closeSelected(state, "remove_tab")
		}

	case browser.RemoveTabsAction:
		if slices.Contains(a.TabIDs, state.SelectedTabID) {
			m.closeSelected(state, "remove_tabs")
		}

	case browser.UpdateLoadingStateAction:
		tab, ok := state.FindTab(a.TabID)
		if !ok || tab.Private {
			break
		}
		switch {
		case tab.Loading && !a.Loading:
			m.createKey(ctx, state, tab, "load_finished")
		case !tab.Loading && a.Loading && a.TabID == state.SelectedTabID:
			m.update(tab, "load_started")
		}
	}

	next(action)

	if a, ok := action.(browser.UpdateMediaMetadataAction); ok {
		state := ctx.State()
		if tab, ok := state.FindTab(a.TabID); ok && !tab.Private {
			m.createKey(ctx, state, tab, "media_changed")
		}
	}
}

func (m *Middleware) closeSelected(state browser.State, trigger string) {
	tab, ok := state.SelectedTab()
	if !ok || tab.Private {
		return
	}
	m.update(tab, trigger)
}

func (m *Middleware) update(tab browser.TabSession, trigger string) {
	if tab.MetadataKey == nil {
		return
	}
	m.logger.Debug("closing view time window",
		slog.String("tab_id", tab.ID),
		slog.String("trigger", trigger),
	)
	m.service.UpdateMetadata(*tab.MetadataKey, tab)
}

// createKey asks the service for tab's key, using the tab's opener as the
// referrer, and pushes the key back into the tab.
func (m *Middleware) createKey(ctx browser.MiddlewareContext, state browser.State, tab browser.TabSession, trigger string) {
	var referrer *browser.TabSession
	if tab.ParentID != "" {
		if parent, ok := state.FindTab(tab.ParentID); ok {
			referrer = &parent
		}
	}

	key := m.service.CreateMetadata(tab, referrer)
	m.logger.Debug("assigned metadata key",
		slog.String("tab_id", tab.ID),
		slog.String("url", key.URL),
		slog.String("trigger", trigger),
	)
	ctx.Dispatch(browser.SetMetadataKeyAction{TabID: tab.ID, Key: key})
}
