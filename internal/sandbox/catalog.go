package sandbox

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/iapsync/internal/purchase"
)

// Outcome is the scripted result of purchasing a sandbox product.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomePending    Outcome = "pending"
	OutcomeUnverified Outcome = "unverified"
	OutcomeFault      Outcome = "fault"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeCancelled, OutcomePending, OutcomeUnverified, OutcomeFault:
		return true
	}
	return false
}

// Catalog is the YAML product catalog of a sandbox provider.
type Catalog struct {
	// Environment is stamped on every transaction. Defaults to "sandbox".
	Environment string `yaml:"environment,omitempty"`

	// Products lists the purchasable products.
	Products []CatalogProduct `yaml:"products"`
}

// CatalogProduct is one product entry.
type CatalogProduct struct {
	ID           string               `yaml:"id"`
	DisplayName  string               `yaml:"display_name,omitempty"`
	DisplayPrice string               `yaml:"display_price,omitempty"`
	Type         purchase.ProductType `yaml:"type,omitempty"`

	// Outcome is what Purchase returns. Defaults to success.
	Outcome Outcome `yaml:"outcome,omitempty"`

	// Delay holds Purchase for this long, e.g. "250ms".
	Delay Duration `yaml:"delay,omitempty"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses "1s", "250ms" and similar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateCatalog(&c); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

func validateCatalog(c *Catalog) error {
	if c.Environment == "" {
		c.Environment = "sandbox"
	}
	if len(c.Products) == 0 {
		return fmt.Errorf("products list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(c.Products))
	for i := range c.Products {
		p := &c.Products[i]
		if p.ID == "" {
			return fmt.Errorf("products[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("products[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true

		if p.Outcome == "" {
			p.Outcome = OutcomeSuccess
		}
		if !p.Outcome.Valid() {
			return fmt.Errorf("products[%d]: unknown outcome %q", i, p.Outcome)
		}
		if p.Type == "" {
			p.Type = purchase.ProductNonConsumable
		}
		if p.Delay < 0 {
			return fmt.Errorf("products[%d]: delay must not be negative", i)
		}
	}
	return nil
}
