package browser

import "time"

// LastAccessMiddleware stamps LastAccess on the selected tab whenever a new
// view-time window opens for it: the tab becomes selected, is selected
// again, or starts loading a new page.
type LastAccessMiddleware struct {
	now func() time.Time
}

// NewLastAccessMiddleware returns the middleware. A nil clock means time.Now.
func NewLastAccessMiddleware(now func() time.Time) *LastAccessMiddleware {
	if now == nil {
		now = time.Now
	}
	return &LastAccessMiddleware{now: now}
}

func (m *LastAccessMiddleware) Process(ctx MiddlewareContext, next func(Action), action Action) {
	before := ctx.State()

	stamp := false
	switch a := action.(type) {
	case SelectTabAction:
		stamp = true
	case UpdateLoadingStateAction:
		tab, ok := before.FindTab(a.TabID)
		stamp = ok && a.TabID == before.SelectedTabID && !tab.Loading && a.Loading
	}

	next(action)

	after := ctx.State().SelectedTabID
	if after == "" {
		return
	}
	if stamp || after != before.SelectedTabID {
		ctx.Dispatch(UpdateLastAccessAction{TabID: after, LastAccess: m.now().UnixMilli()})
	}
}
