package txn

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Run_CommitsAndFiresHooksAfter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE file_masters").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r := NewRunner(db)
	var fired bool
	err = r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx, hooks *Hooks) error {
		if _, err := tx.ExecContext(ctx, "UPDATE file_masters SET file_processing_status = 'QUEUED'"); err != nil {
			return err
		}
		hooks.After(func(ctx context.Context) { fired = true })
		return nil
	})

	require.NoError(t, err)
	assert.True(t, fired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Run_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	r := NewRunner(db)
	var fired bool
	wantErr := errors.New("boom")
	err = r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx, hooks *Hooks) error {
		hooks.After(func(ctx context.Context) { fired = true })
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.False(t, fired, "hooks must not fire when fn returns an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Run_RollsBackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	r := NewRunner(db)
	assert.Panics(t, func() {
		_ = r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx, hooks *Hooks) error {
			panic("unexpected")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Run_CommitErrorSkipsHooks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("commit failed"))
	mock.ExpectRollback()

	r := NewRunner(db)
	var fired bool
	err = r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx, hooks *Hooks) error {
		hooks.After(func(ctx context.Context) { fired = true })
		return nil
	})

	assert.Error(t, err)
	assert.False(t, fired)
}

func TestHooks_AfterRunsInRegistrationOrder(t *testing.T) {
	h := &Hooks{}
	var order []int
	h.After(func(ctx context.Context) { order = append(order, 1) })
	h.After(func(ctx context.Context) { order = append(order, 2) })
	h.After(func(ctx context.Context) { order = append(order, 3) })

	h.fire(context.Background())
	assert.Equal(t, []int{1, 2, 3}, order)
}
