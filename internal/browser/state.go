// Package browser is a small reactive store for browser tab state. Actions
// are applied one at a time, in submission order, and pass through a chain
// of middleware before reaching the reducer.
package browser

import "github.com/runnerr0/tabtrail/internal/metadata"

// TabSession is the state of one open tab.
type TabSession struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Private bool   `json:"private,omitempty"`
	Loading bool   `json:"loading,omitempty"`

	// LastAccess is epoch milliseconds of the last time the tab was
	// selected. Zero means the tab has never been focused.
	LastAccess int64 `json:"last_access,omitempty"`

	MetadataKey        *metadata.Key `json:"-"`
	MediaSessionActive bool          `json:"media_session_active,omitempty"`
	ParentID           string        `json:"parent_id,omitempty"`

	// SearchTerms is supplied by whoever opened the tab from a search; the
	// store never computes it.
	SearchTerms string `json:"search_terms,omitempty"`
}

// State is an immutable snapshot of all tabs.
type State struct {
	Tabs          []TabSession
	SelectedTabID string
}

// FindTab returns the tab with the given id.
func (s State) FindTab(id string) (TabSession, bool) {
	for _, t := range s.Tabs {
		if t.ID == id {
			return t, true
		}
	}
	return TabSession{}, false
}

// SelectedTab returns the currently selected tab, if any.
func (s State) SelectedTab() (TabSession, bool) {
	if s.SelectedTabID == "" {
		return TabSession{}, false
	}
	return s.FindTab(s.SelectedTabID)
}

func (s State) indexOf(id string) int {
	for i, t := range s.Tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}
