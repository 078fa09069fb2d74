package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/iapsync/internal/purchase"
)

// RecordAttemptStarted inserts an attempt in the in_progress state.
// Uses ON CONFLICT(id) DO NOTHING - recording the same attempt twice is a no-op.
func (l *Ledger) RecordAttemptStarted(ctx context.Context, attemptID, productID string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attempts (id, product_id, seq, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, attemptID, productID, l.clock.Next(), l.timestamp())
	if err != nil {
		return fmt.Errorf("record attempt started: %w", err)
	}
	return nil
}

// RecordAttemptFinished stores the terminal status of an attempt.
// Returns ErrUnknownAttempt if the attempt was never started.
func (l *Ledger) RecordAttemptFinished(ctx context.Context, attemptID, status, errCode, errMessage string) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE attempts
		SET status = ?, error_code = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`, status, errCode, errMessage, l.timestamp(), attemptID)
	if err != nil {
		return fmt.Errorf("record attempt finished: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record attempt finished: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record attempt finished %s: %w", attemptID, ErrUnknownAttempt)
	}
	return nil
}

// RecordTransaction inserts a verified transaction for an attempt.
// Uses ON CONFLICT(id) DO NOTHING for idempotency. An empty attemptID stores
// the transaction without an attempt link.
func (l *Ledger) RecordTransaction(ctx context.Context, attemptID string, tx purchase.Transaction) error {
	if err := insertTransaction(ctx, l.db, attemptID, tx, l.clock.Next()); err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// MarkFinalized flags a transaction as finished with the provider.
// Returns ErrUnknownTransaction if the transaction was never recorded.
func (l *Ledger) MarkFinalized(ctx context.Context, transactionID string) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE transactions SET finalized = 1 WHERE id = ?
	`, transactionID)
	if err != nil {
		return fmt.Errorf("mark finalized: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark finalized: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark finalized %s: %w", transactionID, ErrUnknownTransaction)
	}
	return nil
}

// RecordSync stores that tx was synced for attribution, with the hash of the
// payload that was sent. Returns inserted=false if tx was already synced.
//
// The transaction row is created if missing, so syncs performed without a
// journaled attempt are still recorded. Both writes share one SQL transaction.
func (l *Ledger) RecordSync(ctx context.Context, tx purchase.Transaction, payloadHash string) (inserted bool, err error) {
	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("record sync: begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := insertTransaction(ctx, sqlTx, "", tx, l.clock.Next()); err != nil {
		return false, fmt.Errorf("record sync: %w", err)
	}

	result, err := sqlTx.ExecContext(ctx, `
		INSERT INTO attribution_syncs (transaction_id, payload_hash, seq, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING
	`, tx.ID, payloadHash, l.clock.Next(), l.timestamp())
	if err != nil {
		return false, fmt.Errorf("record sync: insert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record sync: rows affected: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return false, fmt.Errorf("record sync: commit: %w", err)
	}
	return n > 0, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execer, attemptID string, tx purchase.Transaction, seq int64) error {
	var attempt sql.NullString
	if attemptID != "" {
		attempt = sql.NullString{String: attemptID, Valid: true}
	}
	originalID := tx.OriginalID
	if originalID == "" {
		originalID = tx.ID
	}
	quantity := tx.Quantity
	if quantity == 0 {
		quantity = 1
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, original_id, product_id, environment, quantity, purchased_at, attempt_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		tx.ID,
		originalID,
		tx.ProductID,
		tx.Environment,
		quantity,
		tx.PurchasedAt.UTC().Format(time.RFC3339Nano),
		attempt,
		seq,
	)
	return err
}
