package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/iapsync/internal/purchase"
	"github.com/roach88/iapsync/internal/testutil"
)

// createTestLedger creates a new ledger in a temp dir with a stepping clock.
func createTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	l, err := Open(path, WithNow(testutil.NewStepClock(0).Now))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func createTestTransaction(id, productID string) purchase.Transaction {
	return purchase.Transaction{
		ID:          id,
		OriginalID:  id,
		ProductID:   productID,
		PurchasedAt: testutil.Epoch,
		Environment: "sandbox",
		Quantity:    1,
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		l, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		l.Close()
	}

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	for _, table := range []string{"attempts", "transactions", "attribution_syncs"} {
		var name string
		err := l.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found", table)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	l := createTestLedger(t)

	assert.NoError(t, l.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, l.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, l.verifyPragma("user_version", "1"))
}

func TestClose_NilDB(t *testing.T) {
	l := &Ledger{}
	assert.NoError(t, l.Close())
}

func TestAttemptLifecycle(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordAttemptStarted(ctx, "attempt-1", "premium"))
	// Duplicate start is a no-op.
	require.NoError(t, l.RecordAttemptStarted(ctx, "attempt-1", "premium"))

	a, err := l.ReadAttempt(ctx, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", a.Status)
	assert.Nil(t, a.FinishedAt)
	assert.Equal(t, testutil.Epoch, a.StartedAt)

	require.NoError(t, l.RecordAttemptFinished(ctx, "attempt-1", "failed", "PRODUCT_NOT_FOUND", "no product"))

	a, err = l.ReadAttempt(ctx, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", a.Status)
	assert.Equal(t, "PRODUCT_NOT_FOUND", a.ErrorCode)
	assert.Equal(t, "no product", a.ErrorMessage)
	require.NotNil(t, a.FinishedAt)
	assert.True(t, a.FinishedAt.After(a.StartedAt))
}

func TestRecordAttemptFinished_Unknown(t *testing.T) {
	l := createTestLedger(t)

	err := l.RecordAttemptFinished(context.Background(), "missing", "failed", "", "")
	assert.ErrorIs(t, err, ErrUnknownAttempt)
}

func TestReadAttempt_NotFound(t *testing.T) {
	l := createTestLedger(t)

	_, err := l.ReadAttempt(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAttempts_NewestFirstWithLimit(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, l.RecordAttemptStarted(ctx, id, "premium"))
	}

	all, err := l.Attempts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-3", all[0].ID)
	assert.Equal(t, "a-1", all[2].ID)

	limited, err := l.Attempts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "a-3", limited[0].ID)
}

func TestAttempts_EmptyNotNil(t *testing.T) {
	l := createTestLedger(t)

	attempts, err := l.Attempts(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, attempts)
	assert.Empty(t, attempts)
}

func TestTransactionLifecycle(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordAttemptStarted(ctx, "attempt-1", "premium"))
	tx := createTestTransaction("tx-1", "premium")
	require.NoError(t, l.RecordTransaction(ctx, "attempt-1", tx))
	require.NoError(t, l.RecordTransaction(ctx, "attempt-1", tx))

	// Not finalized yet: not eligible for bulk sync.
	unsynced, err := l.UnsyncedTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	require.NoError(t, l.MarkFinalized(ctx, "tx-1"))

	unsynced, err = l.UnsyncedTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, tx, unsynced[0])

	inserted, err := l.RecordSync(ctx, tx, "hash-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = l.RecordSync(ctx, tx, "hash-1")
	require.NoError(t, err)
	assert.False(t, inserted, "second sync of the same transaction must be a no-op")

	unsynced, err = l.UnsyncedTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	records, err := l.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "attempt-1", records[0].AttemptID)
	assert.True(t, records[0].Finalized)
	assert.True(t, records[0].Synced)
}

func TestRecordTransaction_UnknownAttemptViolatesForeignKey(t *testing.T) {
	l := createTestLedger(t)

	err := l.RecordTransaction(context.Background(), "missing-attempt", createTestTransaction("tx-1", "p"))
	assert.Error(t, err)
}

func TestRecordTransaction_WithoutAttempt(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordTransaction(ctx, "", createTestTransaction("tx-1", "p")))

	records, err := l.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].AttemptID)
}

func TestMarkFinalized_Unknown(t *testing.T) {
	l := createTestLedger(t)

	err := l.MarkFinalized(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestRecordSync_CreatesMissingTransaction(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	inserted, err := l.RecordSync(ctx, createTestTransaction("tx-9", "coins"), "hash")
	require.NoError(t, err)
	assert.True(t, inserted)

	records, err := l.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "tx-9", records[0].ID)
	assert.True(t, records[0].Synced)
	assert.False(t, records[0].Finalized)
}

func TestUnsyncedTransactions_OrderedBySeq(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	for _, id := range []string{"tx-b", "tx-a", "tx-c"} {
		require.NoError(t, l.RecordTransaction(ctx, "", createTestTransaction(id, "p")))
		require.NoError(t, l.MarkFinalized(ctx, id))
	}

	unsynced, err := l.UnsyncedTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 3)
	assert.Equal(t, "tx-b", unsynced[0].ID)
	assert.Equal(t, "tx-a", unsynced[1].ID)
	assert.Equal(t, "tx-c", unsynced[2].ID)
}

func TestClock_ResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	l1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l1.RecordAttemptStarted(ctx, "a-1", "p"))
	require.NoError(t, l1.RecordAttemptStarted(ctx, "a-2", "p"))
	last := l1.clock.Current()
	require.NoError(t, l1.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	assert.Equal(t, last, l2.clock.Current())
	require.NoError(t, l2.RecordAttemptStarted(ctx, "a-3", "p"))

	attempts, err := l2.Attempts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "a-3", attempts[0].ID)
	assert.Greater(t, attempts[0].Seq, last)
}

func TestClock_Next(t *testing.T) {
	c := NewClockAt(5)
	assert.Equal(t, int64(5), c.Current())
	assert.Equal(t, int64(6), c.Next())
	assert.Equal(t, int64(7), c.Next())
}
