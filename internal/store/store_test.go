package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaban-dev/kaban/pkg/kabanerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.DB().QueryRow(`SELECT COUNT(*) FROM __migrations`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)

	var journalMode string
	require.NoError(t, s.DB().QueryRow(`PRAGMA journal_mode`).Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")

	s1, err := Open(path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var count int
	require.NoError(t, s2.DB().QueryRow(`SELECT COUNT(*) FROM __migrations`).Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO boards(id, name, max_board_task_id, created_by, updated_by, created_at, updated_at)
			VALUES ('b1', 'Test', 0, 'user', 'user', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`)
		return err
	})
	require.NoError(t, err)

	var name string
	require.NoError(t, s.DB().QueryRow(`SELECT name FROM boards WHERE id = 'b1'`).Scan(&name))
	assert.Equal(t, "Test", name)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	sentinel := assert.AnError
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO boards(id, name, max_board_task_id, created_by, updated_by, created_at, updated_at)
			VALUES ('b1', 'Test', 0, 'user', 'user', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`)
		require.NoError(t, err)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM boards`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTxSurfacesCancelledKindOnMidTransactionCancel(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		cancel()
		return ctx.Err()
	})

	require.Error(t, err)
	var kerr *kabanerr.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kabanerr.Cancelled, kerr.Kind)
}

func TestWithTxSurfacesCancelledKindWhenRetryWaitIsCancelled(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())

	// The first attempt reports busy; the context is cancelled before the
	// backoff wait that would precede the second attempt.
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		cancel()
		return errLockedMessage{}
	})

	require.Error(t, err)
	var kerr *kabanerr.Error
	if assert.ErrorAs(t, err, &kerr) {
		assert.Equal(t, kabanerr.Cancelled, kerr.Kind)
	}
}

func TestIsBusyMatchesLockedMessage(t *testing.T) {
	assert.True(t, isBusy(errLockedMessage{}))
	assert.False(t, isBusy(nil))
}

type errLockedMessage struct{}

func (errLockedMessage) Error() string { return "sqlite: database is locked" }
