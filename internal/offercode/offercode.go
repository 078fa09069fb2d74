// Package offercode resolves how an offer code should be presented for
// redemption. It builds URLs only and never touches the network.
package offercode

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/iapsync/internal/attribution"
)

// RedeemBaseURL is the App Store redemption endpoint used for deep links.
const RedeemBaseURL = "https://apps.apple.com/redeem/"

// Kind is the kind of redemption action.
type Kind int

const (
	// None means there is nothing to redeem.
	None Kind = iota
	// NativeSheet means the platform redemption surface should be shown.
	NativeSheet
	// DeepLink means the code should be redeemed by opening Action.URL.
	DeepLink
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case NativeSheet:
		return "native_sheet"
	case DeepLink:
		return "deep_link"
	default:
		return "unknown"
	}
}

// MarshalText encodes k by name so JSON output stays readable.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Capabilities describes what the running platform can do.
type Capabilities struct {
	// NativeRedemption is true when a native offer-code sheet is available.
	NativeRedemption bool
}

// Action is a resolved redemption action. URL is set only for DeepLink.
type Action struct {
	Kind Kind   `json:"kind"`
	Code string `json:"code,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Actionable reports whether a carries something to do.
func (a Action) Actionable() bool {
	return a.Kind != None
}

// Normalize trims surrounding whitespace and puts code in Unicode NFC so that
// visually identical codes compare equal.
func Normalize(code string) string {
	return norm.NFC.String(strings.TrimSpace(code))
}

// Resolve picks the redemption action for code.
//
// An empty code (after Normalize) resolves to None. With native redemption
// available the action is NativeSheet. Otherwise it is a DeepLink to
//
//	https://apps.apple.com/redeem/?ctx=offercodes&id=<appID>&code=<code>
//
// with parameters in exactly that order.
func Resolve(code string, caps Capabilities, appID string) Action {
	code = Normalize(code)
	if code == "" {
		return Action{Kind: None}
	}
	if caps.NativeRedemption {
		return Action{Kind: NativeSheet, Code: code}
	}
	return Action{Kind: DeepLink, Code: code, URL: RedeemURL(appID, code)}
}

// ResolveAffiliate resolves the offer code carried by data, if any.
func ResolveAffiliate(data *attribution.AffiliateMarketingData, caps Capabilities, appID string) Action {
	if !data.HasOfferCode() {
		return Action{Kind: None}
	}
	return Resolve(data.OfferCode, caps, appID)
}

// RedeemURL builds the deep-link URL. url.Values is not used because it
// sorts keys.
func RedeemURL(appID, code string) string {
	var b strings.Builder
	b.WriteString(RedeemBaseURL)
	b.WriteString("?ctx=offercodes&id=")
	b.WriteString(url.QueryEscape(appID))
	b.WriteString("&code=")
	b.WriteString(url.QueryEscape(code))
	return b.String()
}
