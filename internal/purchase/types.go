package purchase

import (
	"context"
	"time"
)

// ProductType classifies what a product grants.
type ProductType string

const (
	ProductConsumable    ProductType = "consumable"
	ProductNonConsumable ProductType = "non_consumable"
	ProductSubscription  ProductType = "subscription"
)

// Product is a purchasable item known to the provider.
type Product struct {
	ID           string      `json:"id"`
	DisplayName  string      `json:"display_name"`
	DisplayPrice string      `json:"display_price"`
	Type         ProductType `json:"type"`
}

// Transaction is a completed purchase as reported by the provider.
//
// Transactions are created and owned by the Provider. The workflow only reads
// them; their lifetime ends when the provider's Finish is called.
type Transaction struct {
	ID          string    `json:"id"`
	OriginalID  string    `json:"original_id"`
	ProductID   string    `json:"product_id"`
	PurchasedAt time.Time `json:"purchased_at"`
	Environment string    `json:"environment"`
	Quantity    int       `json:"quantity"`
}

// Provider is the platform purchase API.
//
// Products and Purchase may block for arbitrary wall-clock time (network,
// user interaction). Implementations must honor ctx cancellation where the
// platform allows it; once the native purchase sheet is up, only the user can
// dismiss it.
type Provider interface {
	// Products returns the products matching ids. Unknown ids are omitted,
	// not reported as errors.
	Products(ctx context.Context, ids []string) ([]Product, error)

	// Purchase starts the native purchase flow for p.
	Purchase(ctx context.Context, p Product) (Result, error)

	// Finish acknowledges tx so the provider stops redelivering it.
	// Finishing an already finished transaction is a no-op.
	Finish(ctx context.Context, tx Transaction) error
}

// FindProduct returns the product with the given id from products.
func FindProduct(products []Product, id string) (Product, bool) {
	for _, p := range products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}
