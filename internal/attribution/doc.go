// Package attribution is the client of the purchase attribution service.
//
// The service credits completed purchases to the marketing source (affiliate,
// campaign, offer code) that brought the user in. The client:
//
//   - Initialize: set the API key, fetch affiliate marketing data
//   - SyncTransaction: report one completed transaction
//   - SyncAllTransactions: report every transaction not yet synced
//   - AffiliateMarketingData / Subscribe: read and observe affiliate data
//
// Sync bodies are canonical JSON (see internal/canon); the SHA-256 of the
// exact bytes sent is recorded with each sync so the ledger can prove what
// was reported.
//
// Wire format:
//
//	POST {base}/sync-transaction          x-api-key, Idempotency-Key: <transaction id>
//	GET  {base}/affiliate-marketing-data  x-api-key, ?device_id=<id>
package attribution
