package sandbox

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/iapsync/internal/purchase"
)

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sandbox", c.Environment)
	require.Len(t, c.Products, 3)

	premium := c.Products[0]
	assert.Equal(t, "com.example.premium", premium.ID)
	assert.Equal(t, "Premium", premium.DisplayName)
	assert.Equal(t, "$4.99", premium.DisplayPrice)
	assert.Equal(t, purchase.ProductNonConsumable, premium.Type)
	assert.Equal(t, OutcomeSuccess, premium.Outcome)

	assert.Equal(t, OutcomePending, c.Products[1].Outcome)
	assert.Equal(t, Duration(10*time.Millisecond), c.Products[2].Delay)
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read catalog file")
}

func TestParseCatalog_Defaults(t *testing.T) {
	c, err := ParseCatalog([]byte("products:\n  - id: p1\n"))
	require.NoError(t, err)

	assert.Equal(t, "sandbox", c.Environment)
	assert.Equal(t, OutcomeSuccess, c.Products[0].Outcome)
	assert.Equal(t, purchase.ProductNonConsumable, c.Products[0].Type)
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no products", "environment: sandbox\n", "products list is required"},
		{"missing id", "products:\n  - outcome: success\n", "id is required"},
		{"duplicate id", "products:\n  - id: a\n  - id: a\n", "duplicate id"},
		{"bad outcome", "products:\n  - id: a\n    outcome: refunded\n", "unknown outcome"},
		{"bad delay", "products:\n  - id: a\n    delay: soon\n", "failed to parse YAML"},
		{"negative delay", "products:\n  - id: a\n    delay: -1s\n", "must not be negative"},
		{"unknown field", "products:\n  - id: a\n    price: 1\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
