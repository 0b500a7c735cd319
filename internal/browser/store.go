package browser

import "sync"

// MiddlewareContext is what a middleware sees of the store while it
// processes an action.
type MiddlewareContext interface {
	// State returns the current state. Before next is called this is the
	// state the action will be applied to; afterwards it includes the
	// action's effect.
	State() State

	// Dispatch queues an action behind the one being processed.
	Dispatch(Action)
}

// Middleware intercepts actions on their way to the reducer. Process must
// call next exactly once, and may act before and after doing so.
type Middleware interface {
	Process(ctx MiddlewareContext, next func(Action), action Action)
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(ctx MiddlewareContext, next func(Action), action Action)

func (f MiddlewareFunc) Process(ctx MiddlewareContext, next func(Action), action Action) {
	f(ctx, next, action)
}

// Store holds State and applies dispatched actions through its middleware
// chain. Dispatch is safe for concurrent use.
type Store struct {
	middleware []Middleware

	stateMu sync.RWMutex
	state   State

	queueMu  sync.Mutex
	pending  []Action
	draining bool
}

// NewStore creates a store with an initial state. Middleware run in the
// order given; the first one sees each action first.
func NewStore(initial State, middleware ...Middleware) *Store {
	return &Store{state: initial, middleware: middleware}
}

// State returns the current state.
func (s *Store) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Dispatch applies a, and anything dispatched while processing it, in
// submission order. If another goroutine is already applying actions, a is
// queued and Dispatch returns once it has been handed off.
func (s *Store) Dispatch(a Action) {
	s.queueMu.Lock()
	s.pending = append(s.pending, a)
	if s.draining {
		s.queueMu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.queueMu.Unlock()

		s.process(next)

		s.queueMu.Lock()
	}
	s.draining = false
	s.queueMu.Unlock()
}

func (s *Store) process(a Action) {
	ctx := storeContext{store: s}

	var call func(i int, a Action)
	call = func(i int, a Action) {
		if i == len(s.middleware) {
			s.reduce(a)
			return
		}
		forwarded := false
		s.middleware[i].Process(ctx, func(next Action) {
			if forwarded {
				return
			}
			forwarded = true
			call(i+1, next)
		}, a)
	}
	call(0, a)
}

func (s *Store) reduce(a Action) {
	s.stateMu.Lock()
	s.state = Reduce(s.state, a)
	s.stateMu.Unlock()
}

type storeContext struct {
	store *Store
}

func (c storeContext) State() State {
	return c.store.State()
}

func (c storeContext) Dispatch(a Action) {
	c.store.Dispatch(a)
}
