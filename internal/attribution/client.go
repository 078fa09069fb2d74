package attribution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/iapsync/internal/canon"
	"github.com/roach88/iapsync/internal/purchase"
)

var (
	// ErrNotInitialized is returned by sync calls made before Initialize.
	ErrNotInitialized = errors.New("attribution client not initialized")

	// ErrInvalidAPIKey is returned by Initialize for an empty key.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrNoSource is returned by SyncAllTransactions when no Source is configured.
	ErrNoSource = errors.New("no transaction source configured")
)

// APIError is a non-2xx response from the attribution service.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("attribution %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("attribution %s: unexpected status %d", e.Op, e.StatusCode)
}

// Recorder stores completed syncs. Implemented by ledger.Ledger.
type Recorder interface {
	RecordSync(ctx context.Context, tx purchase.Transaction, payloadHash string) (bool, error)
}

// Source lists transactions still waiting for a sync. Implemented by ledger.Ledger.
type Source interface {
	UnsyncedTransactions(ctx context.Context) ([]purchase.Transaction, error)
}

// Metrics observes sync results. Implemented by metrics.Collector.
type Metrics interface {
	ObserveSync(result string)
}

// SyncReport summarizes a bulk sync.
type SyncReport struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

// Client is the attribution SDK client.
//
// A Client is constructed explicitly and handed to whatever needs it; there
// is no shared instance. Initialize must be called with a valid API key
// before any sync call, otherwise the sync fails with ErrNotInitialized.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	deviceID string
	recorder Recorder
	source   Source
	limiter  *rate.Limiter
	metrics  Metrics
	logger   *slog.Logger

	mu          sync.RWMutex
	apiKey      string
	affiliate   *AffiliateMarketingData
	subscribers map[int]func(*AffiliateMarketingData)
	nextSub     int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (default: 10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDeviceID attaches a device identifier to syncs and affiliate lookups.
func WithDeviceID(id string) Option {
	return func(c *Client) {
		c.deviceID = id
	}
}

// WithRecorder stores every successful sync in r.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithSource sets where SyncAllTransactions finds unsynced transactions.
func WithSource(s Source) Option {
	return func(c *Client) {
		c.source = s
	}
}

// WithRateLimit paces bulk syncs to r requests per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithMetrics reports sync results to m.
func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger overrides the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New constructs a Client for the attribution service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 10 * time.Second},
		logger:      slog.Default(),
		subscribers: make(map[int]func(*AffiliateMarketingData)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize sets the API key and fetches affiliate marketing data.
//
// Calling Initialize again with the same key is a no-op. A different key
// replaces the previous one and refetches. A failed affiliate fetch is logged
// and leaves the data absent; it does not fail initialization.
func (c *Client) Initialize(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrInvalidAPIKey
	}

	c.mu.Lock()
	if c.apiKey == apiKey {
		c.mu.Unlock()
		return nil
	}
	c.apiKey = apiKey
	c.mu.Unlock()

	c.logger.Info("attribution client initialized", "base_url", c.baseURL)

	if err := c.RefreshAffiliateData(ctx); err != nil {
		c.logger.Warn("affiliate data fetch failed", "error", err)
	}
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (c *Client) Initialized() bool {
	return c.key() != ""
}

func (c *Client) key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SyncTransaction reports one completed transaction for attribution credit.
//
// Returns ErrNotInitialized if Initialize has not been called. The service
// deduplicates by transaction ID, so resending a transaction is safe.
func (c *Client) SyncTransaction(ctx context.Context, tx purchase.Transaction) error {
	key := c.key()
	if key == "" {
		return ErrNotInitialized
	}

	body, err := canon.Marshal(SyncPayload(tx, c.deviceID, c.AffiliateMarketingData()))
	if err != nil {
		return fmt.Errorf("sync transaction %s: encode payload: %w", tx.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync-transaction", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sync transaction %s: %w", tx.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("Idempotency-Key", tx.ID)

	if err := c.do(req, "sync-transaction", nil); err != nil {
		c.observeSync("error")
		return fmt.Errorf("sync transaction %s: %w", tx.ID, err)
	}
	c.observeSync("ok")

	hash := canon.HashWithDomain(canon.DomainSyncPayload, body)
	c.logger.Info("transaction synced", "transaction_id", tx.ID, "product_id", tx.ProductID, "payload_hash", hash)

	if c.recorder != nil {
		if _, err := c.recorder.RecordSync(ctx, tx, hash); err != nil {
			// The service already has it; a later bulk sync resends harmlessly.
			c.logger.Warn("record sync failed", "transaction_id", tx.ID, "error", err)
		}
	}
	return nil
}

// SyncAllTransactions syncs every transaction the Source reports as unsynced.
//
// It can be used instead of, or in addition to, per-transaction syncs.
// Individual failures do not stop the run; they are joined into the
// returned error. Context cancellation stops the run early.
func (c *Client) SyncAllTransactions(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if c.key() == "" {
		return report, ErrNotInitialized
	}
	if c.source == nil {
		return report, ErrNoSource
	}

	txs, err := c.source.UnsyncedTransactions(ctx)
	if err != nil {
		return report, fmt.Errorf("sync all: list unsynced: %w", err)
	}

	var errs []error
	for _, tx := range txs {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("sync all: %w", err))
				break
			}
		}
		report.Attempted++
		if err := c.SyncTransaction(ctx, tx); err != nil {
			report.Failed++
			errs = append(errs, err)
			continue
		}
		report.Synced++
	}

	c.logger.Info("bulk sync finished",
		"attempted", report.Attempted,
		"synced", report.Synced,
		"failed", report.Failed,
	)
	return report, errors.Join(errs...)
}

// RefreshAffiliateData refetches affiliate marketing data and notifies
// subscribers when it changed.
func (c *Client) RefreshAffiliateData(ctx context.Context) error {
	key := c.key()
	if key == "" {
		return ErrNotInitialized
	}

	endpoint := c.baseURL + "/affiliate-marketing-data"
	if c.deviceID != "" {
		endpoint += "?device_id=" + url.QueryEscape(c.deviceID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("refresh affiliate data: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", key)

	var body []byte
	if err := c.do(req, "affiliate-marketing-data", &body); err != nil {
		return fmt.Errorf("refresh affiliate data: %w", err)
	}

	data, err := ParseAffiliateMarketingData(body)
	if err != nil {
		return fmt.Errorf("refresh affiliate data: %w", err)
	}
	c.setAffiliate(data)
	return nil
}

// AffiliateMarketingData returns a copy of the latest affiliate data, or nil
// if none is known.
func (c *Client) AffiliateMarketingData() *AffiliateMarketingData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.affiliate == nil {
		return nil
	}
	cp := *c.affiliate
	return &cp
}

// Subscribe registers fn to be called with every change of affiliate data.
// The returned function removes the subscription.
func (c *Client) Subscribe(fn func(*AffiliateMarketingData)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Client) setAffiliate(data *AffiliateMarketingData) {
	c.mu.Lock()
	if data.Equal(c.affiliate) {
		c.mu.Unlock()
		return
	}
	c.affiliate = data
	subs := make([]func(*AffiliateMarketingData), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.logger.Info("affiliate data changed", "present", data != nil)
	for _, fn := range subs {
		if data == nil {
			fn(nil)
			continue
		}
		cp := *data
		fn(&cp)
	}
}

// do sends req and, when out is non-nil, reads the response body into it.
func (c *Client) do(req *http.Request, op string, out *[]byte) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out != nil {
		*out = body
	}
	return nil
}

func (c *Client) observeSync(result string) {
	if c.metrics != nil {
		c.metrics.ObserveSync(result)
	}
}
