package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/iapsync/internal/purchase"
)

// Attribution reports completed transactions for attribution credit.
// Implemented by attribution.Client.
type Attribution interface {
	SyncTransaction(ctx context.Context, tx purchase.Transaction) error
}

// Journal records attempts and transactions as they happen.
// Implemented by ledger.Ledger. Journal failures are logged, never surfaced.
type Journal interface {
	RecordAttemptStarted(ctx context.Context, attemptID, productID string) error
	RecordAttemptFinished(ctx context.Context, attemptID, status, errCode, errMessage string) error
	RecordTransaction(ctx context.Context, attemptID string, tx purchase.Transaction) error
	MarkFinalized(ctx context.Context, transactionID string) error
}

// Metrics observes finished attempts.
// Implemented by metrics.Collector.
type Metrics interface {
	ObservePurchase(status string, elapsed time.Duration)
}

// Status is the terminal status of a purchase attempt.
type Status string

const (
	StatusPurchased Status = "purchased"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// State is the observable state of the workflow.
type State struct {
	InProgress bool
	Purchased  bool
	Err        error
}

// Outcome reports how a single Purchase call ended.
//
// Err mirrors State.Err for the attempt. A purchased outcome may still carry
// an error when finishing or syncing the transaction failed.
type Outcome struct {
	AttemptID   string
	ProductID   string
	Status      Status
	Transaction *purchase.Transaction
	Err         error
}

// Workflow orchestrates purchase attempts against a provider and an
// attribution client.
//
// Thread-safety model:
//   - Purchase(): safe from any goroutine; at most one attempt runs at a time,
//     concurrent callers are rejected with PURCHASE_IN_PROGRESS
//   - State(): safe from any goroutine
//   - Observers are called synchronously, in order, under no lock
type Workflow struct {
	provider    purchase.Provider
	attribution Attribution

	journal   Journal
	metrics   Metrics
	ids       IDGenerator
	logger    *slog.Logger
	observers []func(State)

	inFlight atomic.Bool

	mu    sync.Mutex
	state State

	// notifyMu serializes observer delivery so snapshots arrive in order.
	notifyMu sync.Mutex
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithObserver registers fn to receive every state change. A panic in fn is
// logged and does not affect the attempt.
func WithObserver(fn func(State)) Option {
	return func(w *Workflow) {
		w.observers = append(w.observers, fn)
	}
}

// WithJournal records attempts and transactions in j.
func WithJournal(j Journal) Option {
	return func(w *Workflow) {
		w.journal = j
	}
}

// WithMetrics reports finished attempts to m.
func WithMetrics(m Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

// WithIDGenerator overrides the attempt ID generator (default: UUIDv7Generator).
func WithIDGenerator(g IDGenerator) Option {
	return func(w *Workflow) {
		w.ids = g
	}
}

// WithLogger overrides the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = l
	}
}

// New creates a Workflow for provider and attribution.
// Both collaborators are required.
func New(provider purchase.Provider, attribution Attribution, opts ...Option) *Workflow {
	w := &Workflow{
		provider:    provider,
		attribution: attribution,
		ids:         UUIDv7Generator{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns a snapshot of the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Purchase runs one purchase attempt for productID to completion.
//
// Purchase blocks across the product lookup and the purchase request. It
// never returns a Go error; faults are reported through Outcome.Err and
// State.Err. If another attempt is running, Purchase returns immediately with
// StatusRejected and leaves State untouched.
func (w *Workflow) Purchase(ctx context.Context, productID string) (out Outcome) {
	if !w.inFlight.CompareAndSwap(false, true) {
		w.logger.Warn("purchase rejected: attempt in progress", "product_id", productID)
		return Outcome{
			ProductID: productID,
			Status:    StatusRejected,
			Err:       newError(ErrCodeInProgress, productID, "another purchase attempt is in progress", nil),
		}
	}
	defer w.inFlight.Store(false)

	start := time.Now()
	a := &attempt{
		id:        w.ids.Generate(),
		productID: productID,
		status:    StatusFailed,
	}

	defer func() {
		if r := recover(); r != nil {
			a.panicked(r)
			w.logger.Error("purchase panicked", "attempt_id", a.id, "product_id", productID, "panic", r)
		}
		out = w.finish(ctx, a, time.Since(start))
	}()

	w.update(func(s *State) {
		s.InProgress = true
		s.Err = nil
	})
	w.logger.Info("purchase started", "attempt_id", a.id, "product_id", productID)
	if w.journal != nil {
		if err := w.journal.RecordAttemptStarted(ctx, a.id, productID); err != nil {
			w.logger.Warn("journal: record attempt start", "attempt_id", a.id, "error", err)
		}
	}

	w.run(ctx, a)
	return out
}

// attempt accumulates the result of one Purchase call.
type attempt struct {
	id        string
	productID string
	status    Status
	tx        *purchase.Transaction
	finalized bool
	err       *Error
}

// panicked records a recovered panic. A transaction that was already
// delivered keeps its purchased status.
func (a *attempt) panicked(r any) {
	msg := fmt.Sprintf("panic: %v", r)
	switch {
	case a.tx == nil:
		a.status = StatusFailed
		a.err = newError(ErrCodeProviderFault, a.productID, msg, nil)
	case !a.finalized:
		a.err = newError(ErrCodeFinalizeFailed, a.productID, msg, nil)
	default:
		a.err = newError(ErrCodeAttributionFault, a.productID, msg, nil)
	}
}

func (w *Workflow) run(ctx context.Context, a *attempt) {
	products, err := w.provider.Products(ctx, []string{a.productID})
	if err != nil {
		a.err = newError(ErrCodeProviderFault, a.productID, "product lookup failed", err)
		return
	}
	product, ok := purchase.FindProduct(products, a.productID)
	if !ok {
		a.err = newError(ErrCodeProductNotFound, a.productID, "no product matches identifier", nil)
		return
	}
	w.logger.Debug("product found", "attempt_id", a.id, "product_id", product.ID, "price", product.DisplayPrice)

	result, err := w.provider.Purchase(ctx, product)
	if err != nil {
		a.err = newError(ErrCodeProviderFault, a.productID, "purchase request failed", err)
		return
	}
	w.logger.Debug("purchase result", "attempt_id", a.id, "result", fmt.Sprint(result))

	if err := purchase.Visit(result, &dispatcher{ctx: ctx, w: w, a: a}); err != nil {
		a.status = StatusFailed
		a.err = newError(ErrCodeUnexpectedState, a.productID, "unrecognized purchase result", err)
	}
}

// finish clears InProgress, publishes the error and reports the attempt.
func (w *Workflow) finish(ctx context.Context, a *attempt, elapsed time.Duration) Outcome {
	out := Outcome{
		AttemptID:   a.id,
		ProductID:   a.productID,
		Status:      a.status,
		Transaction: a.tx,
	}
	if a.err != nil {
		out.Err = a.err
	}

	w.update(func(s *State) {
		s.InProgress = false
		if a.err != nil {
			s.Err = a.err
		}
	})

	var code, message string
	if a.err != nil {
		code, message = string(a.err.Code), a.err.Error()
		w.logger.Warn("purchase finished with error",
			"attempt_id", a.id,
			"product_id", a.productID,
			"status", a.status,
			"code", code,
			"error", a.err,
		)
	} else {
		w.logger.Info("purchase finished",
			"attempt_id", a.id,
			"product_id", a.productID,
			"status", a.status,
		)
	}

	if w.journal != nil {
		if err := w.journal.RecordAttemptFinished(ctx, a.id, string(a.status), code, message); err != nil {
			w.logger.Warn("journal: record attempt finish", "attempt_id", a.id, "error", err)
		}
	}
	if w.metrics != nil {
		w.metrics.ObservePurchase(string(a.status), elapsed)
	}
	return out
}

// update mutates state under lock and notifies observers with the new snapshot.
func (w *Workflow) update(fn func(*State)) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	fn(&w.state)
	snapshot := w.state
	w.mu.Unlock()

	for _, obs := range w.observers {
		w.notify(obs, snapshot)
	}
}

func (w *Workflow) notify(obs func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("state observer panicked", "panic", r)
		}
	}()
	obs(s)
}

// dispatcher handles each purchase result variant for one attempt.
type dispatcher struct {
	ctx context.Context
	w   *Workflow
	a   *attempt
}

func (d *dispatcher) Verified(tx purchase.Transaction) {
	w, a := d.w, d.a
	a.status = StatusPurchased
	a.tx = &tx
	w.update(func(s *State) { s.Purchased = true })

	if w.journal != nil {
		if err := w.journal.RecordTransaction(d.ctx, a.id, tx); err != nil {
			w.logger.Warn("journal: record transaction", "transaction_id", tx.ID, "error", err)
		}
	}

	if err := w.provider.Finish(d.ctx, tx); err != nil {
		a.err = newError(ErrCodeFinalizeFailed, a.productID, "finish transaction "+tx.ID, err)
		return
	}
	a.finalized = true
	if w.journal != nil {
		if err := w.journal.MarkFinalized(d.ctx, tx.ID); err != nil {
			w.logger.Warn("journal: mark finalized", "transaction_id", tx.ID, "error", err)
		}
	}

	if err := w.attribution.SyncTransaction(d.ctx, tx); err != nil {
		a.err = newError(ErrCodeAttributionFault, a.productID, "sync transaction "+tx.ID, err)
		return
	}
	w.logger.Debug("transaction synced", "attempt_id", a.id, "transaction_id", tx.ID)
}

func (d *dispatcher) Unverified(tx purchase.Transaction, reason error) {
	d.a.status = StatusFailed
	d.a.err = newError(ErrCodeVerificationFailed, d.a.productID, "transaction "+tx.ID+" failed verification", reason)
}

func (d *dispatcher) UserCancelled() {
	d.a.status = StatusCancelled
}

func (d *dispatcher) Pending() {
	d.a.status = StatusPending
}
