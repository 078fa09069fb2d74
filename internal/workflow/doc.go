// Package workflow drives a single purchase attempt from product lookup to
// attribution sync.
//
// ATTEMPT FLOW:
//
//  1. Reject if another attempt is in flight (re-entrancy guard)
//  2. Mark in progress, clear the previous error
//  3. Look up the product; no match is PRODUCT_NOT_FOUND
//  4. Request the purchase and dispatch on the result:
//     verified success -> mark purchased, finish, sync attribution
//     unverified success -> VERIFICATION_FAILED, no finish, no sync
//     cancelled or pending -> no error
//     anything else -> UNEXPECTED_PURCHASE_STATE
//  5. Clear in progress on every exit path
//
// Faults are caught at the workflow boundary and stored in State.Err.
// Purchase never returns a Go error and never panics past its own frame.
//
// The attribution client is a constructor argument. It must have been
// initialized with an API key before Purchase is called; a sync against an
// uninitialized client surfaces as ATTRIBUTION_FAULT.
package workflow
