package browser

import "github.com/runnerr0/tabtrail/internal/metadata"

// Action describes one state change. The set of actions is closed.
type Action interface {
	action()
}

// AddTabAction opens a tab, optionally selecting it.
type AddTabAction struct {
	Tab    TabSession
	Select bool
}

// SelectTabAction makes a tab the selected one.
type SelectTabAction struct {
	TabID string
}

// RemoveTabAction closes one tab.
type RemoveTabAction struct {
	TabID string
}

// RemoveTabsAction closes several tabs at once.
type RemoveTabsAction struct {
	TabIDs []string
}

// UpdateLoadingStateAction reports that a tab started or finished loading.
type UpdateLoadingStateAction struct {
	TabID   string
	Loading bool
}

// UpdateURLAction reports that a tab navigated.
type UpdateURLAction struct {
	TabID string
	URL   string
}

// UpdateMediaMetadataAction reports a change in a tab's media session.
type UpdateMediaMetadataAction struct {
	TabID  string
	Active bool
}

// UpdateLastAccessAction stamps a tab's last access time (epoch ms).
type UpdateLastAccessAction struct {
	TabID      string
	LastAccess int64
}

// SetMetadataKeyAction attaches a history metadata key to a tab.
type SetMetadataKeyAction struct {
	TabID string
	Key   metadata.Key
}

func (AddTabAction) action()              {}
func (SelectTabAction) action()           {}
func (RemoveTabAction) action()           {}
func (RemoveTabsAction) action()          {}
func (UpdateLoadingStateAction) action()  {}
func (UpdateURLAction) action()           {}
func (UpdateMediaMetadataAction) action() {}
func (UpdateLastAccessAction) action()    {}
func (SetMetadataKeyAction) action()      {}
