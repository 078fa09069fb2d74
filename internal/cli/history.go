package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/ledger"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// HistoryResult is the output of the history command.
type HistoryResult struct {
	Attempts     []ledger.Attempt           `json:"attempts"`
	Transactions []ledger.TransactionRecord `json:"transactions"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded purchase attempts and transactions",
		Long: `List purchase attempts (newest first) and every recorded transaction
with its finish and attribution-sync state.

Example:
  iapsync history --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum attempts to show (0 for all)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	attempts, err := a.ledger.Attempts(ctx, opts.Limit)
	if err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeLedger, "failed to read attempts", err)
	}
	txs, err := a.ledger.Transactions(ctx)
	if err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeLedger, "failed to read transactions", err)
	}

	if a.out.JSON() {
		return a.out.Success(HistoryResult{Attempts: attempts, Transactions: txs})
	}

	w := a.out.Writer
	if len(attempts) == 0 && len(txs) == 0 {
		fmt.Fprintln(w, "No purchases recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPT\tPRODUCT\tSTATUS\tERROR")
	for _, at := range attempts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", at.ID, at.ProductID, at.Status, valueOr(at.ErrorCode, "-"))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TRANSACTION\tPRODUCT\tFINISHED\tSYNCED")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tx.ID, tx.ProductID, yesNo(tx.Finalized), yesNo(tx.Synced))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
