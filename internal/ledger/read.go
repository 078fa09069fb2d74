package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/iapsync/internal/purchase"
)

// Attempt is a stored purchase attempt.
type Attempt struct {
	ID           string     `json:"id"`
	ProductID    string     `json:"product_id"`
	Status       string     `json:"status"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Seq          int64      `json:"seq"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// TransactionRecord is a stored transaction with its bookkeeping flags.
type TransactionRecord struct {
	purchase.Transaction
	AttemptID string `json:"attempt_id,omitempty"`
	Finalized bool   `json:"finalized"`
	Synced    bool   `json:"synced"`
	Seq       int64  `json:"seq"`
}

// UnsyncedTransactions returns finalized transactions that have no
// attribution sync yet, oldest first.
//
// Returns an empty slice (not nil) when everything is synced.
func (l *Ledger) UnsyncedTransactions(ctx context.Context) ([]purchase.Transaction, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT t.id, t.original_id, t.product_id, t.environment, t.quantity, t.purchased_at
		FROM transactions t
		LEFT JOIN attribution_syncs s ON s.transaction_id = t.id
		WHERE t.finalized = 1 AND s.transaction_id IS NULL
		ORDER BY t.seq ASC, t.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced transactions: %w", err)
	}
	defer rows.Close()

	txs := []purchase.Transaction{}
	for rows.Next() {
		var tx purchase.Transaction
		var purchasedAt string
		if err := rows.Scan(&tx.ID, &tx.OriginalID, &tx.ProductID, &tx.Environment, &tx.Quantity, &purchasedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.PurchasedAt, err = parseTime(purchasedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsynced transactions: %w", err)
	}
	return txs, nil
}

// Transactions returns every stored transaction, oldest first.
func (l *Ledger) Transactions(ctx context.Context) ([]TransactionRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT t.id, t.original_id, t.product_id, t.environment, t.quantity, t.purchased_at,
		       t.attempt_id, t.finalized, s.transaction_id IS NOT NULL, t.seq
		FROM transactions t
		LEFT JOIN attribution_syncs s ON s.transaction_id = t.id
		ORDER BY t.seq ASC, t.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	records := []TransactionRecord{}
	for rows.Next() {
		var rec TransactionRecord
		var purchasedAt string
		var attemptID sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.OriginalID, &rec.ProductID, &rec.Environment, &rec.Quantity, &purchasedAt,
			&attemptID, &rec.Finalized, &rec.Synced, &rec.Seq,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if rec.PurchasedAt, err = parseTime(purchasedAt); err != nil {
			return nil, err
		}
		rec.AttemptID = attemptID.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return records, nil
}

// Attempts returns the most recent attempts, newest first.
// A limit of zero or less returns every attempt.
func (l *Ledger) Attempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, product_id, status, error_code, error_message, seq, started_at, finished_at
		FROM attempts
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Status, &a.ErrorCode, &a.ErrorMessage, &a.Seq, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if a.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, err
			}
			a.FinishedAt = &t
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// ReadAttempt retrieves a single attempt by ID.
// Returns sql.ErrNoRows if not found.
func (l *Ledger) ReadAttempt(ctx context.Context, id string) (Attempt, error) {
	var a Attempt
	var startedAt string
	var finishedAt sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT id, product_id, status, error_code, error_message, seq, started_at, finished_at
		FROM attempts
		WHERE id = ?
	`, id).Scan(&a.ID, &a.ProductID, &a.Status, &a.ErrorCode, &a.ErrorMessage, &a.Seq, &startedAt, &finishedAt)
	if err != nil {
		return Attempt{}, err
	}
	if a.StartedAt, err = parseTime(startedAt); err != nil {
		return Attempt{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return Attempt{}, err
		}
		a.FinishedAt = &t
	}
	return a, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
