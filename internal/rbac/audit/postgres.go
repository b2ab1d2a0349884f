// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// PgxConn is the subset of pgxpool.Pool the writer needs. Satisfied by
// *pgxpool.Pool and by pgxmock pools in tests.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresWriter archives audit entries to PostgreSQL. Inserts are retried
// with exponential backoff on transient failures; a unique violation on the
// entry id means the row was already archived (WAL replay, retry race) and
// is treated as success.
type PostgresWriter struct {
	conn       PgxConn
	maxRetries uint64
	backoff    time.Duration
}

// PostgresWriterOption configures a PostgresWriter.
type PostgresWriterOption func(*PostgresWriter)

// WithRetry sets the retry count and initial backoff for transient failures.
func WithRetry(maxRetries uint64, backoff time.Duration) PostgresWriterOption {
	return func(w *PostgresWriter) {
		w.maxRetries = maxRetries
		w.backoff = backoff
	}
}

// NewPostgresWriter creates a writer on the given connection.
func NewPostgresWriter(conn PgxConn, opts ...PostgresWriterOption) *PostgresWriter {
	w := &PostgresWriter{
		conn:       conn,
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Compile-time check against the real pool type.
var _ PgxConn = (*pgxpool.Pool)(nil)

const insertEntrySQL = `
	INSERT INTO access_audit_log (
		id, ts, user_id, organization_id, permission,
		resource_type, resource_id, result, ip_address, user_agent
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Write implements Writer.
func (w *PostgresWriter) Write(ctx context.Context, entry types.AccessAuditEntry) error {
	var resourceID *string
	if entry.ResourceID != nil {
		s := entry.ResourceID.String()
		resourceID = &s
	}

	backoff := retry.WithMaxRetries(w.maxRetries, retry.NewExponential(w.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := w.conn.Exec(ctx, insertEntrySQL,
			entry.ID.String(),
			entry.Timestamp,
			entry.UserID.String(),
			entry.OrganizationID.String(),
			string(entry.Permission),
			string(entry.ResourceType),
			resourceID,
			string(entry.Result),
			entry.IPAddress,
			entry.UserAgent,
		)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				// Already archived; idempotent success.
				return nil
			}
			if !transientPgError(pgErr.Code) {
				return err // permanent, do not retry
			}
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code("AUDIT_ARCHIVE_FAILED").
			With("audit_id", entry.ID.String()).
			Wrap(err)
	}
	return nil
}

// Close implements Writer. The connection pool is owned by the caller.
func (w *PostgresWriter) Close() error {
	return nil
}

// transientPgError reports whether a failure class is worth retrying:
// connection problems, serialization conflicts, and resource pressure.
func transientPgError(code string) bool {
	switch {
	case pgerrcode.IsConnectionException(code),
		pgerrcode.IsInsufficientResources(code),
		pgerrcode.IsOperatorIntervention(code):
		return true
	case code == pgerrcode.SerializationFailure,
		code == pgerrcode.DeadlockDetected,
		code == pgerrcode.LockNotAvailable:
		return true
	}
	return false
}
