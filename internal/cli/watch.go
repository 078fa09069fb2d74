package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/attribution"
	"github.com/roach88/iapsync/internal/metrics"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Schedule    string
	MetricsAddr string

	// ready, if set, receives the metrics listener address once serving
	// (empty when metrics are disabled). Used by tests.
	ready chan<- string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&WatchOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Periodically sync unsynced transactions and serve metrics",
		Long: `Run a bulk sync immediately and then on a cron schedule, refreshing
affiliate marketing data on every run. Prometheus metrics are served at
/metrics on the metrics address.

The schedule uses robfig/cron syntax: five-field cron expressions or
descriptors such as "@every 15m" and "@hourly".

Example:
  iapsync watch
  iapsync watch --schedule "*/5 * * * *" --metrics-addr 127.0.0.1:9090
  iapsync watch --metrics-addr ""`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron schedule (default: sync_schedule from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", `metrics listen address, "" to disable (default: metrics_addr from config)`)

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd, a.logger)
	defer stop()

	schedule := a.cfg.SyncSchedule
	if cmd.Flags().Changed("schedule") {
		schedule = opts.Schedule
	}
	metricsAddr := a.cfg.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		metricsAddr = opts.MetricsAddr
	}

	client, err := a.attributionClient(ctx)
	if err != nil {
		return err
	}

	job := &syncJob{ctx: ctx, client: client, metrics: a.metrics, logger: a.logger}

	logger := cronLogger{a.logger}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := scheduler.AddJob(schedule, job); err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeConfig, fmt.Sprintf("invalid schedule %q", schedule), err)
	}

	var srv *http.Server
	listenAddr := ""
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return a.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to listen for metrics", err)
		}
		listenAddr = ln.Addr().String()
		srv = &http.Server{
			Handler:           newMetricsMux(a.metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	a.logger.Info("watch started", "schedule", schedule, "metrics_addr", listenAddr)
	if !a.out.JSON() {
		fmt.Fprintf(a.out.Writer, "Watching: bulk sync on %q.\n", schedule)
		if listenAddr != "" {
			fmt.Fprintf(a.out.Writer, "Metrics at http://%s/metrics\n", listenAddr)
		}
		fmt.Fprintln(a.out.Writer, "Press Ctrl-C to stop.")
	}
	if opts.ready != nil {
		opts.ready <- listenAddr
	}

	job.Run()
	scheduler.Start()

	<-ctx.Done()

	<-scheduler.Stop().Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}

	a.logger.Info("watch stopped", "runs", job.runs)
	if a.out.JSON() {
		return a.out.Success(map[string]any{"runs": job.runs})
	}
	fmt.Fprintf(a.out.Writer, "Stopped after %d run(s).\n", job.runs)
	return nil
}

// syncJob is one scheduled bulk sync plus affiliate refresh.
// Runs never overlap (SkipIfStillRunning), so runs needs no lock.
type syncJob struct {
	ctx     context.Context
	client  *attribution.Client
	metrics *metrics.Collector
	logger  *slog.Logger
	runs    int
}

func (j *syncJob) Run() {
	if j.ctx.Err() != nil {
		return
	}
	j.runs++

	report, err := j.client.SyncAllTransactions(j.ctx)
	j.metrics.ObserveBulkSync(err, time.Now())
	if err != nil {
		j.logger.Warn("scheduled sync failed", "failed", report.Failed, "error", err)
	}
	if err := j.client.RefreshAffiliateData(j.ctx); err != nil {
		j.logger.Warn("affiliate refresh failed", "error", err)
	}
}

func newMetricsMux(c *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
