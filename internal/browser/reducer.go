package browser

// Reduce returns the state that results from applying a to s. It never
// mutates s. Actions naming an unknown tab leave the state unchanged.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case AddTabAction:
		if s.indexOf(a.Tab.ID) >= 0 {
			return s
		}
		tabs := make([]TabSession, len(s.Tabs), len(s.Tabs)+1)
		copy(tabs, s.Tabs)
		s.Tabs = append(tabs, a.Tab)
		if a.Select || s.SelectedTabID == "" {
			s.SelectedTabID = a.Tab.ID
		}
		return s

	case SelectTabAction:
		if s.indexOf(a.TabID) < 0 {
			return s
		}
		s.SelectedTabID = a.TabID
		return s

	case RemoveTabAction:
		return removeTabs(s, map[string]bool{a.TabID: true})

	case RemoveTabsAction:
		ids := make(map[string]bool, len(a.TabIDs))
		for _, id := range a.TabIDs {
			ids[id] = true
		}
		return removeTabs(s, ids)

	case UpdateLoadingStateAction:
		return updateTab(s, a.TabID, func(t *TabSession) { t.Loading = a.Loading })

	case UpdateURLAction:
		return updateTab(s, a.TabID, func(t *TabSession) { t.URL = a.URL })

	case UpdateMediaMetadataAction:
		return updateTab(s, a.TabID, func(t *TabSession) { t.MediaSessionActive = a.Active })

	case UpdateLastAccessAction:
		return updateTab(s, a.TabID, func(t *TabSession) { t.LastAccess = a.LastAccess })

	case SetMetadataKeyAction:
		key := a.Key
		return updateTab(s, a.TabID, func(t *TabSession) { t.MetadataKey = &key })
	}
	return s
}

func updateTab(s State, id string, fn func(*TabSession)) State {
	i := s.indexOf(id)
	if i < 0 {
		return s
	}
	tabs := make([]TabSession, len(s.Tabs))
	copy(tabs, s.Tabs)
	fn(&tabs[i])
	s.Tabs = tabs
	return s
}

// removeTabs drops the given tabs. If the selected tab goes, its parent is
// selected when still open, otherwise the nearest remaining tab.
func removeTabs(s State, ids map[string]bool) State {
	selectedIdx := s.indexOf(s.SelectedTabID)
	selected, hasSelected := s.SelectedTab()

	orig := s.Tabs
	tabs := make([]TabSession, 0, len(orig))
	for _, t := range orig {
		if !ids[t.ID] {
			tabs = append(tabs, t)
		}
	}
	if len(tabs) == len(orig) {
		return s
	}
	s.Tabs = tabs

	if !hasSelected || !ids[selected.ID] {
		return s
	}

	s.SelectedTabID = ""
	if selected.ParentID != "" && !ids[selected.ParentID] {
		if _, ok := s.FindTab(selected.ParentID); ok {
			s.SelectedTabID = selected.ParentID
			return s
		}
	}
	if len(tabs) == 0 {
		return s
	}

	// Tabs before the removed one keep their index; pick the first tab at or
	// after it, else the last tab.
	kept := 0
	for _, t := range orig[:selectedIdx] {
		if !ids[t.ID] {
			kept++
		}
	}
	if kept >= len(tabs) {
		kept = len(tabs) - 1
	}
	s.SelectedTabID = tabs[kept].ID
	return s
}
