package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every store call
// runs either on the default pool or inside the caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrRecordNotFound   = errors.New("ledger record not found")
	ErrAlreadyFinalized = errors.New("ledger record is not processing")
	ErrNoID             = errors.New("insert returned no id")
	// ErrDuplicateProcessing means the partial unique index on processing
	// withdrawals rejected a second pending row for the same account.
	ErrDuplicateProcessing = errors.New("a processing record already exists for this account")
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgerrcode.UniqueViolation
}

// IsRetryable reports whether err aborted a transaction that can safely be re-run.
func IsRetryable(err error) bool {
	switch pgCode(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	}
	return false
}
