package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/iapsync/internal/attribution"
	"github.com/roach88/iapsync/internal/config"
	"github.com/roach88/iapsync/internal/ledger"
	"github.com/roach88/iapsync/internal/metrics"
)

// app holds the collaborators shared by commands for one invocation.
type app struct {
	cfg     *config.Config
	out     *OutputFormatter
	logger  *slog.Logger
	ledger  *ledger.Ledger
	metrics *metrics.Collector
}

// newApp loads config and opens the ledger. Failures are reported through
// the formatter and returned as command errors.
func newApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load(opts.ConfigPath, config.Options{
		EnvFile: opts.EnvFile,
		Getenv:  opts.Getenv,
	})
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	out.VerboseLog("Opening ledger %s", cfg.Database)
	l, err := ledger.Open(cfg.Database)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}

	return &app{
		cfg:     cfg,
		out:     out,
		logger:  logger,
		ledger:  l,
		metrics: metrics.NewCollector(""),
	}, nil
}

// attributionClient builds and initializes the attribution client.
func (a *app) attributionClient(ctx context.Context) (*attribution.Client, error) {
	if err := a.cfg.RequireAttribution(); err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeConfig, "attribution service not configured", err)
	}

	client := attribution.New(a.cfg.BaseURL,
		attribution.WithDeviceID(a.cfg.DeviceID),
		attribution.WithRecorder(a.ledger),
		attribution.WithSource(a.ledger),
		attribution.WithRateLimit(rate.Limit(a.cfg.SyncRate), a.cfg.SyncBurst),
		attribution.WithMetrics(a.metrics),
		attribution.WithLogger(a.logger),
	)
	if err := client.Initialize(ctx, a.cfg.APIKey); err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeAttribution, "failed to initialize attribution client", err)
	}
	return client, nil
}

func (a *app) Close() {
	if err := a.ledger.Close(); err != nil {
		a.logger.Error("error closing ledger", "error", err)
	}
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
