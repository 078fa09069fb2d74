package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/offercode"
)

// RedeemOptions holds flags for the redeem command.
type RedeemOptions struct {
	*RootOptions
	Code   string
	Native bool
}

// NewRedeemCommand creates the redeem command.
func NewRedeemCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RedeemOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Resolve how an offer code should be redeemed",
		Long: `Resolve a redemption action for an offer code. Without --code the offer
code comes from the device's affiliate marketing data.

With native redemption available the action is the platform redemption
sheet; otherwise it is an App Store deep link, which needs app_id.

Example:
  iapsync redeem --code ABC123
  iapsync redeem --native`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedeem(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "offer code (default: from affiliate data)")
	cmd.Flags().BoolVar(&opts.Native, "native", false, "native redemption sheet is available (default: native_redemption from config)")

	return cmd
}

func runRedeem(cmd *cobra.Command, opts *RedeemOptions) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd, a.logger)
	defer stop()

	caps := a.capabilities()
	if cmd.Flags().Changed("native") {
		caps.NativeRedemption = opts.Native
	}

	var action offercode.Action
	if cmd.Flags().Changed("code") {
		action = offercode.Resolve(opts.Code, caps, a.cfg.AppID)
	} else {
		client, err := a.attributionClient(ctx)
		if err != nil {
			return err
		}
		action = offercode.ResolveAffiliate(client.AffiliateMarketingData(), caps, a.cfg.AppID)
	}

	if action.Kind == offercode.DeepLink && a.cfg.AppID == "" {
		return a.out.Fail(ExitCommandError, ErrCodeRedeem,
			"app_id is required to build a redemption link", nil)
	}

	if a.out.JSON() {
		return a.out.Success(action)
	}
	printAction(a.out.Writer, action)
	return nil
}

func printAction(w io.Writer, action offercode.Action) {
	switch action.Kind {
	case offercode.NativeSheet:
		fmt.Fprintf(w, "Redeem %s in the native offer code sheet.\n", action.Code)
	case offercode.DeepLink:
		fmt.Fprintf(w, "Redeem %s at:\n  %s\n", action.Code, action.URL)
	default:
		fmt.Fprintln(w, "No offer code to redeem.")
	}
}
