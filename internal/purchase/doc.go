// Package purchase defines the records and collaborator contract of a native
// purchase provider.
//
// The provider owns products and transactions. Callers look products up by
// identifier, request a purchase, and finalize the resulting transaction once
// it has been acted on. A finalized transaction is not redelivered.
//
// # Results
//
// A purchase attempt produces exactly one Result:
//
//   - Success wraps a Verification, which is either Verified or Unverified
//   - UserCancelled means the user dismissed the purchase sheet
//   - Pending means the platform deferred the purchase (e.g. ask-to-buy)
//
// Result and Verification are sealed: only this package can add variants.
// Use Visit with a Visitor to get a compile error when a case is missing.
package purchase
