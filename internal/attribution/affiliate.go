package attribution

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roach88/iapsync/internal/purchase"
)

// AffiliateMarketingData is what the attribution service knows about the
// affiliate channel that brought this install. Every field is optional.
type AffiliateMarketingData struct {
	OfferCode   string `json:"offer_code,omitempty"`
	AffiliateID string `json:"affiliate_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
}

// Equal reports whether d and other hold the same data. Two nils are equal.
func (d *AffiliateMarketingData) Equal(other *AffiliateMarketingData) bool {
	if d == nil || other == nil {
		return d == nil && other == nil
	}
	return *d == *other
}

// HasOfferCode reports whether d carries a non-empty offer code.
func (d *AffiliateMarketingData) HasOfferCode() bool {
	return d != nil && d.OfferCode != ""
}

// ParseAffiliateMarketingData extracts affiliate data from a service response.
//
// Expected shape:
//
//	{"affiliate_marketing_data": {
//	    "offer_code": "ABC123",
//	    "affiliate": {"id": "aff-1"},
//	    "campaign": {"id": "camp-1"}
//	}}
//
// A missing or null affiliate_marketing_data yields nil without error.
func ParseAffiliateMarketingData(body []byte) (*AffiliateMarketingData, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid affiliate data response")
	}
	root := gjson.GetBytes(body, "affiliate_marketing_data")
	if !root.Exists() || root.Type == gjson.Null {
		return nil, nil
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("affiliate_marketing_data: expected object, got %s", root.Type)
	}
	return &AffiliateMarketingData{
		OfferCode:   root.Get("offer_code").String(),
		AffiliateID: root.Get("affiliate.id").String(),
		CampaignID:  root.Get("campaign.id").String(),
	}, nil
}

// SyncPayload builds the request body for syncing tx. Values are restricted
// to strings and integers so the body has a canonical encoding.
func SyncPayload(tx purchase.Transaction, deviceID string, affiliate *AffiliateMarketingData) map[string]any {
	originalID := tx.OriginalID
	if originalID == "" {
		originalID = tx.ID
	}
	quantity := tx.Quantity
	if quantity == 0 {
		quantity = 1
	}

	payload := map[string]any{
		"transaction_id":          tx.ID,
		"original_transaction_id": originalID,
		"product_id":              tx.ProductID,
		"purchase_date":           tx.PurchasedAt.UTC().Format(time.RFC3339),
		"environment":             tx.Environment,
		"quantity":                quantity,
	}
	if deviceID != "" {
		payload["device_id"] = deviceID
	}
	if affiliate.HasOfferCode() {
		payload["offer_code"] = affiliate.OfferCode
	}
	if affiliate != nil && affiliate.AffiliateID != "" {
		payload["affiliate_id"] = affiliate.AffiliateID
	}
	return payload
}
