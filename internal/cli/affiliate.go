package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/attribution"
	"github.com/roach88/iapsync/internal/offercode"
)

// AffiliateResult is the output of the affiliate command.
type AffiliateResult struct {
	Affiliate  *attribution.AffiliateMarketingData `json:"affiliate"`
	Redemption offercode.Action                    `json:"redemption"`
}

// NewAffiliateCommand creates the affiliate command.
func NewAffiliateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "affiliate",
		Short: "Show affiliate marketing data for this device",
		Long: `Fetch the affiliate marketing data known to the attribution service and
show how its offer code, if any, would be redeemed.

Example:
  iapsync affiliate --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAffiliate(cmd, rootOpts)
		},
	}
	return cmd
}

func runAffiliate(cmd *cobra.Command, opts *RootOptions) error {
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
	// Initialize only logs a failed fetch; surface it here.
	if err := client.RefreshAffiliateData(ctx); err != nil {
		return a.out.Fail(ExitFailure, ErrCodeAttribution, "failed to fetch affiliate data", err)
	}

	data := client.AffiliateMarketingData()
	result := AffiliateResult{
		Affiliate:  data,
		Redemption: offercode.ResolveAffiliate(data, a.capabilities(), a.cfg.AppID),
	}

	if a.out.JSON() {
		return a.out.Success(result)
	}

	w := a.out.Writer
	if data == nil {
		fmt.Fprintln(w, "No affiliate marketing data for this device.")
		return nil
	}
	fmt.Fprintf(w, "Offer code:   %s\n", valueOr(data.OfferCode, "(none)"))
	fmt.Fprintf(w, "Affiliate ID: %s\n", valueOr(data.AffiliateID, "(none)"))
	fmt.Fprintf(w, "Campaign ID:  %s\n", valueOr(data.CampaignID, "(none)"))
	if result.Redemption.Actionable() {
		fmt.Fprintln(w)
		printAction(w, result.Redemption)
	}
	return nil
}

func (a *app) capabilities() offercode.Capabilities {
	return offercode.Capabilities{NativeRedemption: a.cfg.NativeRedemption}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
