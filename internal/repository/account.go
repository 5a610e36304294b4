package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payflow/internal/model"
)

type AccountRepo struct {
	dbPool *pgxpool.Pool
}

func NewAccountRepo(db *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{dbPool: db}
}

// AccountUpdate lists the columns to change; nil fields are left untouched.
type AccountUpdate struct {
	Balance     *decimal.Decimal
	Verified    *bool
	Deactivated *bool
}

const accountColumns = `id, COALESCE(email, ''), balance, verified, COALESCE(deactivated, false), created_at, updated_at`

// BeginTx opens a transaction on the default pool at the requested isolation level.
func (r *AccountRepo) BeginTx(ctx context.Context, iso pgx.TxIsoLevel) (pgx.Tx, error) {
	tx, err := r.dbPool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// DB returns the default connection for calls made outside a unit of work.
func (r *AccountRepo) DB() Querier {
	return r.dbPool
}

func (r *AccountRepo) GetByID(ctx context.Context, q Querier, id int64) (*model.Account, error) {
	return r.get(ctx, q, id, "")
}

// GetByIDForUpdate reads the account and holds its row lock until q commits.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, q Querier, id int64) (*model.Account, error) {
	return r.get(ctx, q, id, " FOR UPDATE")
}

func (r *AccountRepo) get(ctx context.Context, q Querier, id int64, lock string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1` + lock

	var acc model.Account
	err := q.QueryRow(ctx, query, id).Scan(
		&acc.ID, &acc.Email, &acc.Balance, &acc.Verified, &acc.Deactivated, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return &acc, nil
}

func (r *AccountRepo) Update(ctx context.Context, q Querier, id int64, upd AccountUpdate) error {
	if err := r.update(ctx, q, "id", id, upd); err != nil {
		return fmt.Errorf("update account %d: %w", id, err)
	}
	return nil
}

// UpdateByEmail applies upd to the account registered under email.
func (r *AccountRepo) UpdateByEmail(ctx context.Context, q Querier, email string, upd AccountUpdate) error {
	if err := r.update(ctx, q, "email", email, upd); err != nil {
		return fmt.Errorf("update account %q: %w", email, err)
	}
	return nil
}

// update changes the row whose column equals key. column is never user input.
func (r *AccountRepo) update(ctx context.Context, q Querier, column string, key any, upd AccountUpdate) error {
	var (
		sets []string
		args []any
	)
	if upd.Balance != nil {
		args = append(args, *upd.Balance)
		sets = append(sets, fmt.Sprintf("balance = $%d", len(args)))
	}
	if upd.Verified != nil {
		args = append(args, *upd.Verified)
		sets = append(sets, fmt.Sprintf("verified = $%d", len(args)))
	}
	if upd.Deactivated != nil {
		args = append(args, *upd.Deactivated)
		sets = append(sets, fmt.Sprintf("deactivated = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, key)

	query := fmt.Sprintf(`UPDATE accounts SET %s WHERE %s = $%d`, strings.Join(sets, ", "), column, len(args))
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Create inserts an account. verified may be nil to leave the flag unknown.
func (r *AccountRepo) Create(ctx context.Context, q Querier, email string, balance decimal.Decimal, verified *bool) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO accounts (email, balance, verified) VALUES ($1, $2, $3) RETURNING id`,
		email, balance, verified,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}
