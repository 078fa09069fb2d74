package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/iapsync/internal/purchase"
)

var (
	// ErrSimulatedFault is returned by Purchase for products scripted to fault.
	ErrSimulatedFault = errors.New("sandbox: simulated store fault")

	// ErrSignatureMismatch is the verification failure of unverified products.
	ErrSignatureMismatch = errors.New("sandbox: signature mismatch")

	// ErrUnknownProduct is returned for products missing from the catalog.
	ErrUnknownProduct = errors.New("sandbox: unknown product")

	// ErrUnknownTransaction is returned by Finish for transactions this
	// provider never issued.
	ErrUnknownTransaction = errors.New("sandbox: unknown transaction")
)

// IDGenerator generates transaction identifiers.
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Provider is an in-memory purchase.Provider driven by a Catalog.
//
// Thread-safety: all methods are safe for concurrent use.
type Provider struct {
	environment string
	ids         IDGenerator
	now         func() time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	products map[string]CatalogProduct
	order    []string
	issued   map[string]purchase.Transaction
	finished map[string]int
}

// Option configures a Provider.
type Option func(*Provider)

// WithIDGenerator overrides transaction ID generation (default: random UUIDs).
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Provider) {
		p.ids = g
	}
}

// WithNow overrides the purchase timestamp source.
func WithNow(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithLogger overrides the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// New creates a Provider serving the products in c.
func New(c *Catalog, opts ...Option) *Provider {
	p := &Provider{
		environment: c.Environment,
		ids:         uuidGenerator{},
		now:         time.Now,
		logger:      slog.Default(),
		products:    make(map[string]CatalogProduct, len(c.Products)),
		issued:      make(map[string]purchase.Transaction),
		finished:    make(map[string]int),
	}
	if p.environment == "" {
		p.environment = "sandbox"
	}
	for _, cp := range c.Products {
		if _, dup := p.products[cp.ID]; !dup {
			p.order = append(p.order, cp.ID)
		}
		p.products[cp.ID] = cp
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Products returns catalog products matching ids, in request order.
// Unknown ids are omitted.
func (p *Provider) Products(ctx context.Context, ids []string) ([]purchase.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]purchase.Product, 0, len(ids))
	for _, id := range ids {
		if cp, ok := p.products[id]; ok {
			out = append(out, toProduct(cp))
		}
	}
	return out, nil
}

// AllProducts returns every catalog product in catalog order.
func (p *Provider) AllProducts() []purchase.Product {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]purchase.Product, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, toProduct(p.products[id]))
	}
	return out
}

// Purchase plays the scripted outcome for product.
func (p *Provider) Purchase(ctx context.Context, product purchase.Product) (purchase.Result, error) {
	p.mu.Lock()
	cp, ok := p.products[product.ID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, product.ID)
	}

	if cp.Delay > 0 {
		timer := time.NewTimer(time.Duration(cp.Delay))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	p.logger.Debug("sandbox purchase", "product_id", cp.ID, "outcome", cp.Outcome)

	switch cp.Outcome {
	case OutcomeCancelled:
		return purchase.UserCancelled{}, nil
	case OutcomePending:
		return purchase.Pending{}, nil
	case OutcomeFault:
		return nil, ErrSimulatedFault
	case OutcomeUnverified:
		tx := p.issue(cp.ID)
		return purchase.Success{Verification: purchase.Unverified{
			Transaction: tx,
			Reason:      ErrSignatureMismatch,
		}}, nil
	default:
		tx := p.issue(cp.ID)
		return purchase.Success{Verification: purchase.Verified{Transaction: tx}}, nil
	}
}

// Finish marks tx finished. Finishing twice is allowed and counted.
func (p *Provider) Finish(ctx context.Context, tx purchase.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.issued[tx.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, tx.ID)
	}
	p.finished[tx.ID]++
	return nil
}

// Script sets the outcome of a catalog product.
func (p *Provider) Script(productID string, outcome Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("sandbox: unknown outcome %q", outcome)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cp, ok := p.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	cp.Outcome = outcome
	p.products[productID] = cp
	return nil
}

// FinishCount returns how many times the transaction was finished.
func (p *Provider) FinishCount(transactionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished[transactionID]
}

// Issued returns the transaction with the given ID, if this provider issued it.
func (p *Provider) Issued(transactionID string) (purchase.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.issued[transactionID]
	return tx, ok
}

func (p *Provider) issue(productID string) purchase.Transaction {
	id := p.ids.Generate()
	tx := purchase.Transaction{
		ID:          id,
		OriginalID:  id,
		ProductID:   productID,
		PurchasedAt: p.now().UTC(),
		Environment: p.environment,
		Quantity:    1,
	}

	p.mu.Lock()
	p.issued[id] = tx
	p.mu.Unlock()
	return tx
}

func toProduct(cp CatalogProduct) purchase.Product {
	name := cp.DisplayName
	if name == "" {
		name = cp.ID
	}
	return purchase.Product{
		ID:           cp.ID,
		DisplayName:  name,
		DisplayPrice: cp.DisplayPrice,
		Type:         cp.Type,
	}
}
