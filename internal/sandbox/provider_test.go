package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/iapsync/internal/purchase"
	"github.com/roach88/iapsync/internal/testutil"
)

func newTestProvider(t *testing.T, yaml string) *Provider {
	t.Helper()
	c, err := ParseCatalog([]byte(yaml))
	require.NoError(t, err)
	clock := testutil.NewStepClock(0)
	return New(c,
		WithIDGenerator(testutil.NewSequenceIDGenerator("tx")),
		WithNow(clock.Now),
	)
}

const testCatalog = `
products:
  - id: premium
    display_price: $4.99
  - id: coins
    type: consumable
    outcome: cancelled
`

func TestProducts_OmitsUnknown(t *testing.T) {
	p := newTestProvider(t, testCatalog)

	products, err := p.Products(context.Background(), []string{"coins", "missing", "premium"})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "coins", products[0].ID)
	assert.Equal(t, purchase.ProductConsumable, products[0].Type)
	assert.Equal(t, "premium", products[1].ID)
	assert.Equal(t, "premium", products[1].DisplayName, "display name falls back to id")
}

func TestAllProducts_CatalogOrder(t *testing.T) {
	p := newTestProvider(t, testCatalog)

	all := p.AllProducts()
	require.Len(t, all, 2)
	assert.Equal(t, "premium", all[0].ID)
	assert.Equal(t, "coins", all[1].ID)
}

func TestPurchase_Success(t *testing.T) {
	p := newTestProvider(t, testCatalog)
	ctx := context.Background()

	r, err := p.Purchase(ctx, purchase.Product{ID: "premium"})
	require.NoError(t, err)

	success, ok := r.(purchase.Success)
	require.True(t, ok, "got %T", r)
	verified, ok := success.Verification.(purchase.Verified)
	require.True(t, ok, "got %T", success.Verification)

	tx := verified.Transaction
	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, "tx-1", tx.OriginalID)
	assert.Equal(t, "premium", tx.ProductID)
	assert.Equal(t, "sandbox", tx.Environment)
	assert.Equal(t, 1, tx.Quantity)
	assert.Equal(t, testutil.Epoch, tx.PurchasedAt)

	issued, ok := p.Issued("tx-1")
	require.True(t, ok)
	assert.Equal(t, tx, issued)
}

func TestPurchase_ScriptedOutcomes(t *testing.T) {
	tests := []struct {
		outcome Outcome
		check   func(t *testing.T, r purchase.Result, err error)
	}{
		{OutcomeCancelled, func(t *testing.T, r purchase.Result, err error) {
			require.NoError(t, err)
			assert.Equal(t, purchase.UserCancelled{}, r)
		}},
		{OutcomePending, func(t *testing.T, r purchase.Result, err error) {
			require.NoError(t, err)
			assert.Equal(t, purchase.Pending{}, r)
		}},
		{OutcomeFault, func(t *testing.T, r purchase.Result, err error) {
			assert.ErrorIs(t, err, ErrSimulatedFault)
			assert.Nil(t, r)
		}},
		{OutcomeUnverified, func(t *testing.T, r purchase.Result, err error) {
			require.NoError(t, err)
			success, ok := r.(purchase.Success)
			require.True(t, ok)
			unverified, ok := success.Verification.(purchase.Unverified)
			require.True(t, ok)
			assert.ErrorIs(t, unverified.Reason, ErrSignatureMismatch)
			assert.Equal(t, "premium", unverified.Transaction.ProductID)
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			p := newTestProvider(t, testCatalog)
			require.NoError(t, p.Script("premium", tt.outcome))

			r, err := p.Purchase(context.Background(), purchase.Product{ID: "premium"})
			tt.check(t, r, err)
		})
	}
}

func TestPurchase_UnknownProduct(t *testing.T) {
	p := newTestProvider(t, testCatalog)

	_, err := p.Purchase(context.Background(), purchase.Product{ID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestPurchase_DelayHonorsContext(t *testing.T) {
	p := newTestProvider(t, "products:\n  - id: slow\n    delay: 1h\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Purchase(ctx, purchase.Product{ID: "slow"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScript_Errors(t *testing.T) {
	p := newTestProvider(t, testCatalog)

	assert.ErrorIs(t, p.Script("missing", OutcomeSuccess), ErrUnknownProduct)
	assert.ErrorContains(t, p.Script("premium", Outcome("refunded")), "unknown outcome")
}

func TestFinish_CountsAndRejectsUnknown(t *testing.T) {
	p := newTestProvider(t, testCatalog)
	ctx := context.Background()

	r, err := p.Purchase(ctx, purchase.Product{ID: "premium"})
	require.NoError(t, err)
	tx := r.(purchase.Success).Verification.(purchase.Verified).Transaction

	require.NoError(t, p.Finish(ctx, tx))
	require.NoError(t, p.Finish(ctx, tx))
	assert.Equal(t, 2, p.FinishCount(tx.ID))

	err = p.Finish(ctx, purchase.Transaction{ID: "forged"})
	assert.ErrorIs(t, err, ErrUnknownTransaction)
	assert.Equal(t, 0, p.FinishCount("forged"))
}

func TestProvider_ImplementsProvider(t *testing.T) {
	var _ purchase.Provider = (*Provider)(nil)
}
