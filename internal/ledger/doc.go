// Package ledger provides SQLite-backed durable storage for purchase attempts,
// transactions and attribution syncs.
//
// The ledger is append-mostly:
//   - Attempts: one row per purchase attempt, updated once when it finishes
//   - Transactions: verified transactions, flagged when finalized
//   - Attribution syncs: at most one row per transaction
//
// # Ordering
//
// Every row carries a seq INTEGER from a monotonic logical clock resumed at
// the stored maximum on Open. Listings order by seq, then id, never by wall
// time, so reads are deterministic.
//
// # Idempotency
//
// Inserts use ON CONFLICT DO NOTHING. Recording the same transaction or the
// same sync twice is a no-op, which lets the workflow and a bulk sync race
// on one transaction without double counting.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package ledger
