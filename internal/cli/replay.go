package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/runnerr0/tabtrail/internal/browser"
	"github.com/runnerr0/tabtrail/internal/logging"
	"github.com/runnerr0/tabtrail/internal/storage"
)

const maxReplayLine = 1 << 20

// replayLine is the envelope around each logged action. At is when the
// action happened, in epoch ms; zero keeps the previous line's time.
type replayLine struct {
	At int64 `json:"at"`
}

// replayClock is driven by the log rather than the wall clock, so view
// times come out as they were originally experienced.
type replayClock struct {
	mu      sync.Mutex
	t       time.Time
	started bool
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// advance moves the clock to t. Time never runs backwards once started.
func (c *replayClock) advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || t.After(c.t) {
		c.t = t
		c.started = true
	}
}

func (c *replayClock) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// replaySummary is printed when a replay finishes.
type replaySummary struct {
	File     string `json:"file"`
	Actions  int    `json:"actions"`
	Skipped  int    `json:"skipped"`
	Rejected int    `json:"rejected"`
}

// Execute implements the go-flags Commander interface for ReplayCommand.
func (c *ReplayCommand) Execute(args []string) error {
	ctx := context.Background()
	clock := &replayClock{}

	logger := logging.Discard()
	if c.store == nil {
		rt, err := openRuntime(ctx, c.globals, storage.WithClock(clock.Now))
		if err != nil {
			return err
		}
		defer rt.Close()
		c.store = rt.store
		logger = rt.logger
	}

	in, closeIn, err := c.openInput()
	if err != nil {
		return err
	}
	defer closeIn()

	summary, err := c.replay(in, clock, logger)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("Replayed %s actions from %s", formatNumber(int64(summary.Actions)), summary.File)
	if summary.Skipped > 0 || summary.Rejected > 0 {
		fmt.Printf(" (%d internal skipped, %d rejected)", summary.Skipped, summary.Rejected)
	}
	fmt.Println()
	return nil
}

func (c *ReplayCommand) openInput() (io.Reader, func(), error) {
	if c.File == "-" {
		if c.stdin != nil {
			return c.stdin, func() {}, nil
		}
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(c.File)
	if err != nil {
		return nil, nil, fmt.Errorf("open replay file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// replay dispatches every action in r in order. The service is synced
// after each one so that observations are stamped with that action's time.
func (c *ReplayCommand) replay(r io.Reader, clock *replayClock, logger *slog.Logger) (replaySummary, error) {
	summary := replaySummary{File: c.File}

	p := newPipeline(c.store, logger, nil, clock.Now)
	defer p.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var env replayLine
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			logger.Warn("skipping malformed replay line", slog.Int("line", lineNo), slog.Any("err", err))
			summary.Rejected++
			continue
		}
		action, err := browser.DecodeAction([]byte(line))
		if err != nil {
			logger.Warn("skipping undecodable action", slog.Int("line", lineNo), slog.Any("err", err))
			summary.Rejected++
			continue
		}
		if internalAction(action) {
			summary.Skipped++
			continue
		}

		switch {
		case env.At > 0:
			clock.advance(time.UnixMilli(env.At))
		case !clock.isStarted():
			clock.advance(time.Now())
		}
		p.Dispatch(action)
		p.Sync()
		summary.Actions++
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read replay file at line %d: %w", lineNo, err)
	}

	return summary, nil
}
