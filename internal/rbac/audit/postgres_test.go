// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockWriter(t *testing.T) (*PostgresWriter, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWriter(mock, WithRetry(3, time.Millisecond)), mock
}

func TestPostgresWriter_Write(t *testing.T) {
	writer, mock := newMockWriter(t)
	entry := testEntry()

	mock.ExpectExec("INSERT INTO access_audit_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, writer.Write(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_UniqueViolationIsSuccess(t *testing.T) {
	writer, mock := newMockWriter(t)

	mock.ExpectExec("INSERT INTO access_audit_log").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	// The row is already archived; the write is idempotent.
	require.NoError(t, writer.Write(context.Background(), testEntry()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_RetriesTransientFailure(t *testing.T) {
	writer, mock := newMockWriter(t)

	mock.ExpectExec("INSERT INTO access_audit_log").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ConnectionFailure})
	mock.ExpectExec("INSERT INTO access_audit_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, writer.Write(context.Background(), testEntry()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_PermanentFailureDoesNotRetry(t *testing.T) {
	writer, mock := newMockWriter(t)

	mock.ExpectExec("INSERT INTO access_audit_log").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable})

	err := writer.Write(context.Background(), testEntry())
	require.Error(t, err)

	var oopsErr oops.OopsError
	require.ErrorAs(t, err, &oopsErr)
	assert.Equal(t, "AUDIT_ARCHIVE_FAILED", oopsErr.Code())

	// A single expectation was queued; a retry would have failed the mock.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_RetriesExhausted(t *testing.T) {
	writer, mock := newMockWriter(t)

	for i := 0; i < 4; i++ { // initial attempt + 3 retries
		mock.ExpectExec("INSERT INTO access_audit_log").
			WillReturnError(&pgconn.PgError{Code: pgerrcode.ConnectionFailure})
	}

	err := writer.Write(context.Background(), testEntry())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransientPgError(t *testing.T) {
	assert.True(t, transientPgError(pgerrcode.ConnectionFailure))
	assert.True(t, transientPgError(pgerrcode.SerializationFailure))
	assert.True(t, transientPgError(pgerrcode.DeadlockDetected))
	assert.True(t, transientPgError(pgerrcode.LockNotAvailable))
	assert.False(t, transientPgError(pgerrcode.UndefinedTable))
	assert.False(t, transientPgError(pgerrcode.NotNullViolation))
}
