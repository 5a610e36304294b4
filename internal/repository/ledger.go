package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payflow/internal/model"
)

// LedgerRepo stores one kind of payment record: top-ups or withdrawals.
// Both tables share a shape, so a single implementation serves either.
type LedgerRepo struct {
	kind  model.LedgerKind
	table string
}

func NewLedgerRepo(kind model.LedgerKind) *LedgerRepo {
	table := "topups"
	if kind == model.KindWithdraw {
		table = "withdraws"
	}
	return &LedgerRepo{kind: kind, table: table}
}

func (r *LedgerRepo) Kind() model.LedgerKind {
	return r.kind
}

// LedgerUpdate moves a processing record to a terminal status.
type LedgerUpdate struct {
	Status    model.Status
	NetAmount decimal.NullDecimal
}

const ledgerColumns = `id, account_id, amount, provider, status, net_amount, outcome, created_at, updated_at`

// Create inserts a pending record and returns its id.
func (r *LedgerRepo) Create(ctx context.Context, q Querier, rec model.LedgerRecord) (int64, error) {
	status := rec.Status
	if status == "" {
		status = model.StatusProcessing
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (account_id, amount, provider, status) VALUES ($1, $2, $3, $4) RETURNING id`,
		r.table,
	)

	var id int64
	err := q.QueryRow(ctx, query, rec.AccountID, rec.Amount, rec.Provider, string(status)).Scan(&id)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, fmt.Errorf("create %s record: %w", r.kind, ErrDuplicateProcessing)
		}
		return 0, fmt.Errorf("create %s record: %w", r.kind, err)
	}
	if id == 0 {
		return 0, ErrNoID
	}
	return id, nil
}

// Update finalizes a record. Only processing rows are touched, so a record
// changes status exactly once; a second attempt yields ErrAlreadyFinalized.
func (r *LedgerRepo) Update(ctx context.Context, q Querier, id int64, upd LedgerUpdate) error {
	if upd.Status != model.StatusSuccess && upd.Status != model.StatusFailed {
		return fmt.Errorf("update %s record %d: invalid terminal status %q", r.kind, id, upd.Status)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET status = $1, net_amount = $2, updated_at = now() WHERE id = $3 AND status = 'processing'`,
		r.table,
	)

	tag, err := q.Exec(ctx, query, string(upd.Status), upd.NetAmount, id)
	if err != nil {
		return fmt.Errorf("update %s record %d: %w", r.kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// RecordOutcome stores the provider result on a record that is still
// processing, leaving the terminal transition to a later reconciliation.
func (r *LedgerRepo) RecordOutcome(ctx context.Context, q Querier, id int64, outcome model.Status, net decimal.NullDecimal) error {
	if outcome != model.StatusSuccess && outcome != model.StatusFailed {
		return fmt.Errorf("record %s outcome %d: invalid outcome %q", r.kind, id, outcome)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET outcome = $1, net_amount = $2, updated_at = now() WHERE id = $3 AND status = 'processing'`,
		r.table,
	)

	tag, err := q.Exec(ctx, query, string(outcome), net, id)
	if err != nil {
		return fmt.Errorf("record %s outcome %d: %w", r.kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// IsProcessing reports whether the account has a pending record. Matching rows
// are read FOR SHARE so a concurrent finalization waits for this transaction.
func (r *LedgerRepo) IsProcessing(ctx context.Context, q Querier, accountID int64) (bool, error) {
	query := fmt.Sprintf(
		`SELECT id FROM %s WHERE account_id = $1 AND status = 'processing' LIMIT 1 FOR SHARE`,
		r.table,
	)

	var id int64
	err := q.QueryRow(ctx, query, accountID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processing %s for account %d: %w", r.kind, accountID, err)
	}
	return true, nil
}

func (r *LedgerRepo) GetByID(ctx context.Context, q Querier, id int64) (*model.LedgerRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, ledgerColumns, r.table)

	rec, err := r.scan(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s record %d: %w", r.kind, id, err)
	}
	return rec, nil
}

// ListStale returns processing records created before the cutoff, oldest first.
func (r *LedgerRepo) ListStale(ctx context.Context, q Querier, before time.Time, limit int) ([]model.LedgerRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = 'processing' AND created_at < $1 ORDER BY created_at LIMIT $2`,
		ledgerColumns, r.table,
	)

	rows, err := q.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale %s records: %w", r.kind, err)
	}
	defer rows.Close()

	var out []model.LedgerRecord
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale %s record: %w", r.kind, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) scan(row pgx.Row) (*model.LedgerRecord, error) {
	rec := model.LedgerRecord{Kind: r.kind}
	var (
		status  string
		outcome *string
	)
	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.Amount, &rec.Provider, &status, &rec.NetAmount, &outcome, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	if outcome != nil {
		rec.Outcome = model.Status(*outcome)
	}
	return &rec, nil
}
