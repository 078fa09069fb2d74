package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/sandbox"
	"github.com/roach88/iapsync/internal/workflow"
)

// PurchaseOptions holds flags for the purchase command.
type PurchaseOptions struct {
	*RootOptions
	Outcome string

	// IDGenerator allows overriding attempt ID generation (for testing).
	IDGenerator workflow.IDGenerator
	// TransactionIDs allows overriding sandbox transaction IDs (for testing).
	TransactionIDs sandbox.IDGenerator
}

// PurchaseResult is the output of the purchase command.
type PurchaseResult struct {
	AttemptID     string `json:"attempt_id,omitempty"`
	ProductID     string `json:"product_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewPurchaseCommand creates the purchase command.
func NewPurchaseCommand(rootOpts *RootOptions) *cobra.Command {
	return newPurchaseCommand(&PurchaseOptions{RootOptions: rootOpts})
}

func newPurchaseCommand(opts *PurchaseOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purchase [product-id]",
		Short: "Purchase a product and sync the transaction for attribution",
		Long: `Run one purchase attempt against the sandbox store.

A verified purchase is finished with the store and then synced to the
attribution service. The product defaults to product_id from the config.

Example:
  iapsync purchase
  iapsync purchase com.example.coins --outcome pending`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			productID := ""
			if len(args) == 1 {
				productID = args[0]
			}
			return runPurchase(cmd, opts, productID)
		},
	}

	cmd.Flags().StringVar(&opts.Outcome, "outcome", "",
		"script the sandbox outcome (success|cancelled|pending|unverified|fault)")

	return cmd
}

func runPurchase(cmd *cobra.Command, opts *PurchaseOptions, productID string) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd, a.logger)
	defer stop()

	if productID == "" {
		productID = a.cfg.ProductID
	}

	catalog, err := sandbox.LoadCatalog(a.cfg.Catalog)
	if err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeCatalog, "failed to load catalog", err)
	}
	providerOpts := []sandbox.Option{sandbox.WithLogger(a.logger)}
	if opts.TransactionIDs != nil {
		providerOpts = append(providerOpts, sandbox.WithIDGenerator(opts.TransactionIDs))
	}
	provider := sandbox.New(catalog, providerOpts...)

	if opts.Outcome != "" {
		if err := provider.Script(productID, sandbox.Outcome(opts.Outcome)); err != nil {
			return a.out.Fail(ExitCommandError, ErrCodeCatalog, "invalid --outcome", err)
		}
	}

	client, err := a.attributionClient(ctx)
	if err != nil {
		return err
	}

	wfOpts := []workflow.Option{
		workflow.WithJournal(a.ledger),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(a.logger),
		workflow.WithObserver(func(s workflow.State) {
			a.out.VerboseLog("state: in_progress=%t purchased=%t error=%v", s.InProgress, s.Purchased, s.Err)
		}),
	}
	if opts.IDGenerator != nil {
		wfOpts = append(wfOpts, workflow.WithIDGenerator(opts.IDGenerator))
	}
	wf := workflow.New(provider, client, wfOpts...)

	outcome := wf.Purchase(ctx, productID)
	result := PurchaseResult{
		AttemptID: outcome.AttemptID,
		ProductID: outcome.ProductID,
		Status:    string(outcome.Status),
	}
	if outcome.Transaction != nil {
		result.TransactionID = outcome.Transaction.ID
	}

	if outcome.Err != nil {
		result.ErrorCode = string(workflow.CodeOf(outcome.Err))
		result.Error = outcome.Err.Error()
		_ = a.out.Error(ErrCodePurchase, result.Error, result)
		return WrapExitError(ExitFailure, "purchase failed", outcome.Err)
	}

	if a.out.JSON() {
		return a.out.Success(result)
	}

	w := a.out.Writer
	switch outcome.Status {
	case workflow.StatusPurchased:
		fmt.Fprintf(w, "✓ Purchased %s (transaction %s)\n", result.ProductID, result.TransactionID)
		fmt.Fprintln(w, "  Transaction finished and synced for attribution.")
	case workflow.StatusCancelled:
		fmt.Fprintf(w, "Purchase of %s cancelled.\n", result.ProductID)
	case workflow.StatusPending:
		fmt.Fprintf(w, "Purchase of %s is pending approval.\n", result.ProductID)
	default:
		fmt.Fprintf(w, "Purchase of %s ended with status %s.\n", result.ProductID, result.Status)
	}
	return nil
}
