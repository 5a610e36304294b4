package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"payflow/internal/model"
	"payflow/internal/provider"
	"payflow/internal/repository"
)

// errFinalized stops a finalization whose record was already moved out of
// processing by an earlier attempt that committed.
var errFinalized = errors.New("record already finalized")

// Engine moves money between stored balances and payment providers.
//
// Each operation is a saga of two short transactions. The reservation
// transaction validates, debits (withdrawals) and commits a processing ledger
// record. The provider is then called with no transaction open. The
// finalization transaction re-reads the account under a row lock, writes the
// terminal status and applies the balance delta or the compensating credit.
type Engine struct {
	accounts  AccountStore
	topUps    LedgerStore
	withdraws LedgerStore
	providers ProviderSelector

	isolation pgx.TxIsoLevel
	events    EventPublisher
	metrics   *Metrics
	log       *slog.Logger
	backoff   func() retry.Backoff
	now       func() time.Time
}

type Option func(*Engine)

func WithIsolation(iso pgx.TxIsoLevel) Option {
	return func(e *Engine) { e.isolation = iso }
}

func WithEvents(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithFinalizeRetry bounds how often a finalization aborted by a
// serialization failure or deadlock is re-run.
func WithFinalizeRetry(maxRetries uint64, base time.Duration) Option {
	return func(e *Engine) {
		e.backoff = func() retry.Backoff {
			return retry.WithMaxRetries(maxRetries, retry.NewExponential(base))
		}
	}
}

func NewEngine(accounts AccountStore, topUps, withdraws LedgerStore, providers ProviderSelector, opts ...Option) *Engine {
	e := &Engine{
		accounts:  accounts,
		topUps:    topUps,
		withdraws: withdraws,
		providers: providers,
		isolation: pgx.ReadCommitted,
		log:       slog.Default(),
		now:       time.Now,
	}
	WithFinalizeRetry(3, 50*time.Millisecond)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) TopUp(ctx context.Context, req model.PaymentRequest) model.Result {
	res := e.topUp(ctx, req)
	e.report(model.KindTopUp, req, res)
	return res
}

func (e *Engine) Withdraw(ctx context.Context, req model.PaymentRequest) model.Result {
	res := e.withdraw(ctx, req)
	e.report(model.KindWithdraw, req, res)
	return res
}

func (e *Engine) topUp(ctx context.Context, req model.PaymentRequest) model.Result {
	p, perr := e.resolve(req)
	if perr != nil {
		return failure(perr)
	}
	if req.Amount.LessThan(p.MinTopUpAmount()) {
		return failure(newError(KindValidation, CodeAmountTooLow, "Min top-up is: %s", p.MinTopUpAmount()))
	}

	rec := model.LedgerRecord{
		Kind:      model.KindTopUp,
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Provider:  p.Name(),
		Status:    model.StatusProcessing,
	}

	err := e.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		acc, err := e.accounts.GetByID(ctx, tx, req.AccountID)
		if err := usableAccount(acc, err); err != nil {
			return err
		}
		id, err := e.topUps.Create(ctx, tx, rec)
		if err != nil {
			return persistence("create top-up record", err)
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		return e.abort(err)
	}

	resp := e.callProvider(ctx, p, rec)

	if resp.Success {
		rec.Status = model.StatusSuccess
		rec.NetAmount = decimal.NewNullDecimal(resp.NetAmount)
	} else {
		rec.Status = model.StatusFailed
	}

	if err := e.settle(ctx, rec); err != nil && !errors.Is(err, errFinalized) {
		return e.abortAfterReserve(ctx, rec, err)
	}

	e.publish(ctx, rec)

	if !resp.Success {
		res := failure(newError(KindProviderFailure, CodePaymentFailed, "Payment failed"))
		res.RecordID = rec.ID
		return res
	}
	return model.Result{Success: true, RecordID: rec.ID}
}

func (e *Engine) withdraw(ctx context.Context, req model.PaymentRequest) model.Result {
	p, perr := e.resolve(req)
	if perr != nil {
		return failure(perr)
	}

	rec := model.LedgerRecord{
		Kind:      model.KindWithdraw,
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Provider:  p.Name(),
		Status:    model.StatusProcessing,
	}

	err := e.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		// The row lock serializes withdrawals of one account, so the guard
		// below always sees a processing record committed by an earlier caller.
		acc, err := e.accounts.GetByIDForUpdate(ctx, tx, req.AccountID)
		if err := usableAccount(acc, err); err != nil {
			return err
		}

		busy, err := e.withdraws.IsProcessing(ctx, tx, req.AccountID)
		if err != nil {
			return persistence("check processing withdraw", err)
		}
		if busy {
			return newError(KindConflict, CodeAlreadyProcessing, "Withdraw for this account already processing")
		}

		balance := acc.Balance.Decimal
		if balance.LessThan(p.MinWithdrawalAmount()) {
			return newError(KindValidation, CodeBalanceBelowMinimum,
				"Min withdraw is: %s but account has: %s", p.MinWithdrawalAmount(), balance)
		}
		if acc.Verified != nil && !*acc.Verified {
			return newError(KindValidation, CodeAccountNotVerified, "Account not verified. Only verified accounts can withdraw")
		}
		if balance.LessThan(req.Amount.Add(p.Commission(req.Amount))) {
			return newError(KindValidation, CodeInsufficientFunds, "Withdraw amount more than account balance after fee")
		}

		next := balance.Sub(req.Amount)
		if err := e.accounts.Update(ctx, tx, req.AccountID, repository.AccountUpdate{Balance: &next}); err != nil {
			return persistence("debit account", err)
		}

		id, err := e.withdraws.Create(ctx, tx, rec)
		if errors.Is(err, repository.ErrDuplicateProcessing) {
			return newError(KindConflict, CodeAlreadyProcessing, "Withdraw for this account already processing")
		}
		if err != nil {
			return persistence("create withdraw record", err)
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		return e.abort(err)
	}

	resp := e.callProvider(ctx, p, rec)

	if resp.Success {
		rec.Status = model.StatusSuccess
		rec.NetAmount = decimal.NewNullDecimal(resp.NetAmount)
	} else {
		rec.Status = model.StatusFailed
	}

	if err := e.settle(ctx, rec); err != nil && !errors.Is(err, errFinalized) {
		return e.abortAfterReserve(ctx, rec, err)
	}

	e.publish(ctx, rec)

	if !resp.Success {
		res := failure(newError(KindProviderFailure, CodePaymentFailed, "Payment service failed"))
		res.RecordID = rec.ID
		return res
	}
	return model.Result{Success: true, RecordID: rec.ID}
}

// resolve picks the provider before any transaction is opened.
func (e *Engine) resolve(req model.PaymentRequest) (provider.Provider, *Error) {
	if e.providers == nil {
		return nil, newError(KindConfiguration, CodeNoProvider, "Payment provider not set")
	}
	p, err := e.providers.Select(req.Provider)
	switch {
	case errors.Is(err, provider.ErrNoProvider):
		return nil, newError(KindConfiguration, CodeNoProvider, "Payment provider not set")
	case err != nil:
		return nil, &Error{Kind: KindConfiguration, Code: CodeUnknownProvider, Message: "Unknown payment provider", Err: err}
	}
	if !req.Amount.IsPositive() {
		return nil, newError(KindValidation, CodeInvalidAmount, "Amount must be positive")
	}
	return p, nil
}

func usableAccount(acc *model.Account, err error) error {
	if errors.Is(err, repository.ErrAccountNotFound) {
		return newError(KindValidation, CodeAccountNotFound, "Can't get account balance")
	}
	if err != nil {
		return persistence("get account", err)
	}
	if !acc.Balance.Valid {
		return newError(KindValidation, CodeAccountNotFound, "Can't get account balance")
	}
	if acc.Deactivated {
		return newError(KindValidation, CodeAccountDeactivated, "Account is deactivated")
	}
	return nil
}

// Reconcile finishes a processing record whose provider outcome was recorded
// after a failed finalization. Records without an outcome are left alone.
func (e *Engine) Reconcile(ctx context.Context, rec model.LedgerRecord) error {
	if rec.Status != model.StatusProcessing || rec.Outcome == "" {
		return fmt.Errorf("reconcile %s record %d: no recorded outcome", rec.Kind, rec.ID)
	}
	rec.Status = rec.Outcome
	if rec.Status != model.StatusSuccess {
		rec.NetAmount = decimal.NullDecimal{}
	}
	err := e.settle(ctx, rec)
	if errors.Is(err, errFinalized) {
		return nil
	}
	if err != nil {
		return err
	}
	e.log.Info("payment reconciled",
		"operation", rec.Kind,
		"record_id", rec.ID,
		"account_id", rec.AccountID,
		"status", rec.Status,
	)
	e.publish(ctx, rec)
	return nil
}

func (e *Engine) ledger(kind model.LedgerKind) LedgerStore {
	if kind == model.KindWithdraw {
		return e.withdraws
	}
	return e.topUps
}

// settle closes rec with its terminal status and applies the balance effect:
// a successful top-up credits the net amount and a failed withdrawal returns
// the reserved debit.
func (e *Engine) settle(ctx context.Context, rec model.LedgerRecord) error {
	var (
		delta decimal.Decimal
		op    string
	)
	switch {
	case rec.Kind == model.KindTopUp && rec.Status == model.StatusSuccess:
		delta, op = rec.NetAmount.Decimal, "credit account"
	case rec.Kind == model.KindWithdraw && rec.Status == model.StatusFailed:
		delta, op = rec.Amount, "refund account"
	}

	return e.finalize(ctx, func(ctx context.Context, tx pgx.Tx) error {
		acc, err := e.accounts.GetByIDForUpdate(ctx, tx, rec.AccountID)
		if err != nil {
			return persistence("lock account", err)
		}
		if err := e.closeRecord(ctx, tx, e.ledger(rec.Kind), rec); err != nil {
			return err
		}
		if op == "" {
			return nil
		}
		if !acc.Balance.Valid {
			return persistence(op, errors.New("balance unavailable"))
		}
		next := acc.Balance.Decimal.Add(delta)
		if err := e.accounts.Update(ctx, tx, rec.AccountID, repository.AccountUpdate{Balance: &next}); err != nil {
			return persistence(op, err)
		}
		return nil
	})
}

func (e *Engine) closeRecord(ctx context.Context, tx pgx.Tx, store LedgerStore, rec model.LedgerRecord) error {
	err := store.Update(ctx, tx, rec.ID, repository.LedgerUpdate{Status: rec.Status, NetAmount: rec.NetAmount})
	if errors.Is(err, repository.ErrAlreadyFinalized) {
		return errFinalized
	}
	if err != nil {
		return persistence("finalize "+string(rec.Kind)+" record", err)
	}
	return nil
}

func (e *Engine) callProvider(ctx context.Context, p provider.Provider, rec model.LedgerRecord) provider.Response {
	start := time.Now()

	var (
		resp provider.Response
		err  error
	)
	if rec.Kind == model.KindTopUp {
		resp, err = p.TopUp(ctx, rec.Amount)
	} else {
		resp, err = p.Withdraw(ctx, rec.Amount)
	}
	if err != nil {
		e.log.Warn("payment provider call failed",
			"provider", p.Name(),
			"operation", rec.Kind,
			"record_id", rec.ID,
			"error", err,
		)
		resp = provider.Response{Success: false}
	}

	e.metrics.observeProvider(p.Name(), rec.Kind, resp.Success, time.Since(start))
	return resp
}

// inTx runs fn in a transaction at the engine's isolation level. Any error
// rolls the transaction back.
func (e *Engine) inTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) (err error) {
	tx, err := e.accounts.BeginTx(ctx, e.isolation)
	if err != nil {
		return persistence("begin transaction", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.log.Error("rollback failed", "error", rbErr)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return persistence("commit transaction", err)
	}
	return nil
}

// finalize runs the closing transaction detached from caller cancellation,
// re-running it when Postgres aborted it for a serialization conflict.
// errFinalized means an earlier attempt already committed.
func (e *Engine) finalize(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	return retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		err := e.inTx(ctx, fn)
		if err != nil && repository.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (e *Engine) abort(err error) model.Result {
	var engErr *Error
	if !errors.As(err, &engErr) {
		engErr = persistence("unexpected failure", err)
	}
	if engErr.Kind == KindPersistence {
		e.log.Error("payment transaction rolled back", "op", engErr.Message, "error", engErr.Err)
	}
	return failure(engErr)
}

// abortAfterReserve reports a finalization failure. The record stays
// processing with the provider outcome stored on it, so the stale sweeper
// can finish it through Reconcile.
func (e *Engine) abortAfterReserve(ctx context.Context, rec model.LedgerRecord, err error) model.Result {
	e.log.Error("payment finalization failed, record left processing",
		"operation", rec.Kind,
		"record_id", rec.ID,
		"account_id", rec.AccountID,
		"intended_status", rec.Status,
		"error", err,
	)
	e.recordOutcome(ctx, rec)
	res := e.abort(err)
	res.RecordID = rec.ID
	return res
}

func (e *Engine) recordOutcome(ctx context.Context, rec model.LedgerRecord) {
	err := e.inTx(context.WithoutCancel(ctx), func(ctx context.Context, tx pgx.Tx) error {
		return e.ledger(rec.Kind).RecordOutcome(ctx, tx, rec.ID, rec.Status, rec.NetAmount)
	})
	if err != nil {
		e.log.Error("failed to record provider outcome",
			"operation", rec.Kind,
			"record_id", rec.ID,
			"outcome", rec.Status,
			"error", err,
		)
	}
}

func (e *Engine) publish(ctx context.Context, rec model.LedgerRecord) {
	if e.events == nil {
		return
	}
	ev := model.NewLedgerEvent(rec, e.now().UTC())
	if err := e.events.PublishLedgerEvent(ctx, repository.FinalizedTopic(rec.Kind), ev); err != nil {
		e.log.Warn("failed to publish ledger event", "record_id", rec.ID, "error", err)
	}
}

func (e *Engine) report(kind model.LedgerKind, req model.PaymentRequest, res model.Result) {
	e.metrics.observeOperation(kind, res)
	if res.Success {
		e.log.Info("payment completed",
			"operation", kind,
			"account_id", req.AccountID,
			"amount", req.Amount.String(),
			"provider", req.Provider,
			"record_id", res.RecordID,
		)
		return
	}
	e.log.Info("payment rejected",
		"operation", kind,
		"account_id", req.AccountID,
		"amount", req.Amount.String(),
		"provider", req.Provider,
		"kind", res.Kind,
		"code", res.Code,
	)
}
