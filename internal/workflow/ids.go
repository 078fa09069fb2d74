package workflow

import "github.com/google/uuid"

// IDGenerator generates attempt identifiers.
// Implemented by UUIDv7Generator (production) and testutil.SequenceIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 attempt IDs.
//
// Sorting attempts by ID orders them by start time, which keeps ledger
// listings readable without a separate timestamp index.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
