package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/attribution"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync every finished transaction not yet reported for attribution",
		Long: `Bulk-sync finished transactions from the ledger that have no recorded
attribution sync. Requests are paced by sync_rate and sync_burst.

Example:
  iapsync sync
  iapsync sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts)
		},
	}
	return cmd
}

func runSync(cmd *cobra.Command, opts *RootOptions) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd, a.logger)
	defer stop()

	client, err := a.attributionClient(ctx)
	if err != nil {
		return err
	}

	report, err := client.SyncAllTransactions(ctx)
	a.metrics.ObserveBulkSync(err, time.Now())
	if err != nil {
		_ = a.out.Error(ErrCodeAttribution, err.Error(), report)
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	if a.out.JSON() {
		return a.out.Success(report)
	}
	printSyncReport(a.out, report)
	return nil
}

func printSyncReport(out *OutputFormatter, report attribution.SyncReport) {
	if report.Attempted == 0 {
		fmt.Fprintln(out.Writer, "✓ Nothing to sync")
		return
	}
	fmt.Fprintf(out.Writer, "✓ Synced %d of %d transaction(s)\n", report.Synced, report.Attempted)
}
