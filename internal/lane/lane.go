// Package lane provides a serialized execution lane: a single goroutine that
// runs submitted work items one at a time, in submission order.
//
// State touched only from inside work items needs no further locking.
package lane

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Lane runs work items sequentially on one goroutine. Submit never blocks:
// the queue is unbounded, so callers on latency-sensitive paths can hand off
// work without waiting for the lane to catch up.
type Lane struct {
	name    string
	logger  *slog.Logger
	onPanic func(recovered any)

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// Option configures a Lane.
type Option func(*Lane)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lane) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// OnPanic registers a hook called after a work item panics and the panic
// has been recovered.
func OnPanic(fn func(recovered any)) Option {
	return func(l *Lane) { l.onPanic = fn }
}

// New starts a lane. Call Close to stop it.
func New(name string, opts ...Option) *Lane {
	l := &Lane{
		name:   name,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Name returns the lane's name.
func (l *Lane) Name() string {
	return l.name
}

// Submit enqueues fn. It reports false, and drops fn, if the lane is closed.
func (l *Lane) Submit(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of items waiting to run.
func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Sync blocks until every item submitted before the call has run. It must
// not be called from inside a work item of the same lane.
func (l *Lane) Sync() {
	reached := make(chan struct{})
	if !l.Submit(func() { close(reached) }) {
		<-l.done
		return
	}
	<-reached
}

// Close stops accepting work, runs everything already queued, and waits for
// the goroutine to exit. It is safe to call more than once.
func (l *Lane) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Lane) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 {
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

// exec runs one item, isolating the lane from a panicking item.
func (l *Lane) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("lane work item panicked",
				slog.String("lane", l.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if l.onPanic != nil {
				l.onPanic(r)
			}
		}
	}()
	fn()
}
