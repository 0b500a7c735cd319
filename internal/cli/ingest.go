package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/runnerr0/tabtrail/internal/historymeta"
)

// Execute implements the go-flags Commander interface for IngestCommand.
func (c *IngestCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, c.globals)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Host != "" {
		rt.cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		rt.cfg.Daemon.Port = c.Port
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := newPipeline(rt.store, rt.logger, historymeta.NewMetrics(reg), nil)
	// Pending observations are flushed before the store closes.
	defer p.Close()

	rt.logger.Info("starting tabtrail",
		slog.String("version", c.version),
		slog.String("database", rt.dbPath),
		slog.Int("retention_days", rt.cfg.Retention.Days),
	)

	return newDaemon(rt.cfg, p, rt.store, reg, rt.logger, c.version).Run(ctx)
}
