package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/runnerr0/tabtrail/internal/browser"
	"github.com/runnerr0/tabtrail/internal/config"
	"github.com/runnerr0/tabtrail/internal/metadata"
)

const shutdownTimeout = 5 * time.Second

// daemonReader is the read side of storage the daemon serves.
type daemonReader interface {
	metadataReader
	statsReader
}

// daemon is the HTTP front of the tracker. Browser integrations POST tab
// actions; everything else is read-only.
type daemon struct {
	cfg      *config.Config
	pipeline *pipeline
	reader   daemonReader
	registry *prometheus.Registry
	limiter  *rate.Limiter
	logger   *slog.Logger
	version  string
	now      func() time.Time
	started  time.Time
}

func newDaemon(cfg *config.Config, p *pipeline, reader daemonReader, reg *prometheus.Registry, logger *slog.Logger, version string) *daemon {
	var limiter *rate.Limiter
	if cfg.Daemon.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Daemon.RateLimit), cfg.Daemon.RateBurst)
	}
	return &daemon{
		cfg:      cfg,
		limiter:  limiter,
		pipeline: p,
		reader:   reader,
		registry: reg,
		logger:   logger.With(slog.String("component", "daemon")),
		version:  version,
		now:      time.Now,
		started:  time.Now(),
	}
}

func (d *daemon) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(d.limitBody)

	r.Post("/actions", d.handleActions)
	r.Get("/metadata", d.handleMetadata)
	r.Get("/status", d.handleStatus)
	if d.cfg.Metrics.Enabled && d.registry != nil {
		r.Method(http.MethodGet, d.cfg.Metrics.Path, promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	}

	return r
}

// Run serves HTTP and runs retention until ctx is cancelled or the server
// fails.
func (d *daemon) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.Daemon.Addr(),
		Handler:           d.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info("daemon listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		d.logger.Info("daemon shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		d.retentionLoop(ctx)
		return nil
	})

	return g.Wait()
}

// retentionLoop prunes once at startup and then every prune interval.
func (d *daemon) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Retention.PruneInterval())
	defer ticker.Stop()

	d.cleanup()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cleanup()
		}
	}
}

func (d *daemon) cleanup() {
	cutoff := d.now().Add(-d.cfg.Retention.MaxAge())
	d.logger.Debug("scheduling retention cleanup", slog.Time("cutoff", cutoff))
	d.pipeline.Cleanup(cutoff)
}

func (d *daemon) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit := d.cfg.Daemon.MaxRequestSize; limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// handleActions accepts one action object or an array of them. The batch
// is decoded in full before anything is dispatched, so a bad entry rejects
// the whole request.
func (d *daemon) handleActions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	actions, err := decodeActions(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if d.limiter != nil && !d.limiter.AllowN(d.now(), len(actions)) {
		d.logger.Warn("rate limit exceeded", slog.Int("count", len(actions)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	for _, a := range actions {
		d.pipeline.Dispatch(a)
	}
	d.logger.Debug("actions accepted", slog.Int("count", len(actions)))

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(actions)})
}

func decodeActions(body []byte) ([]browser.Action, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	raws := []json.RawMessage{body}
	if body[0] == '[' {
		raws = nil
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
	}

	actions := make([]browser.Action, 0, len(raws))
	for i, raw := range raws {
		a, err := browser.DecodeAction(raw)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		if internalAction(a) {
			return nil, fmt.Errorf("action %d: %T cannot be submitted", i, a)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (d *daemon) handleMetadata(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	if since == "" {
		since = "7d"
	}
	window, err := parseDuration(since)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s))
			return
		}
	}

	rows, err := d.reader.GetSince(r.Context(), d.now().Add(-window).UnixMilli())
	if err != nil {
		d.logger.Error("metadata query failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	writeJSON(w, http.StatusOK, toRowsJSON(rows))
}

// daemonStatusJSON is the body of GET /status.
type daemonStatusJSON struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OpenTabs      int    `json:"open_tabs"`
	SelectedTab   string `json:"selected_tab,omitempty"`
	Rows          int64  `json:"rows"`
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := d.reader.GetStats(r.Context())
	if err != nil {
		d.logger.Error("stats query failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	state := d.pipeline.State()
	writeJSON(w, http.StatusOK, daemonStatusJSON{
		Version:       d.version,
		UptimeSeconds: int64(d.now().Sub(d.started).Seconds()),
		OpenTabs:      len(state.Tabs),
		SelectedTab:   state.SelectedTabID,
		Rows:          stats.TotalRows,
	})
}

// rowJSON is the wire form of a metadata row, shared by the daemon and
// `recent --json`.
type rowJSON struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	ReferrerURL   string `json:"referrer_url,omitempty"`
	SearchTerm    string `json:"search_term,omitempty"`
	DocumentType  string `json:"document_type"`
	TotalViewTime int64  `json:"total_view_time_ms"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toRowsJSON(rows []metadata.Row) []rowJSON {
	out := make([]rowJSON, len(rows))
	for i, r := range rows {
		out[i] = rowJSON{
			ID:            r.ID,
			URL:           r.Key.URL,
			ReferrerURL:   r.Key.ReferrerURL,
			SearchTerm:    r.Key.SearchTerm,
			DocumentType:  r.DocumentType.String(),
			TotalViewTime: r.TotalViewTime,
			CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
