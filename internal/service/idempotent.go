package service

import (
	"context"
	"fmt"
	"log/slog"

	"payflow/internal/model"
)

type ResultStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Load(ctx context.Context, key string) (*model.Result, bool, error)
	Save(ctx context.Context, key string, res model.Result) error
	Release(ctx context.Context, key string) error
}

// Idempotent replays the stored result of a request whose idempotency key was
// already seen, so a retried request never reaches the provider twice.
// Requests without a key pass straight through.
type Idempotent struct {
	next  PaymentService
	store ResultStore
	log   *slog.Logger
}

func NewIdempotent(next PaymentService, store ResultStore, log *slog.Logger) *Idempotent {
	if log == nil {
		log = slog.Default()
	}
	return &Idempotent{next: next, store: store, log: log}
}

func (s *Idempotent) TopUp(ctx context.Context, req model.PaymentRequest) model.Result {
	return s.do(ctx, model.KindTopUp, req, s.next.TopUp)
}

func (s *Idempotent) Withdraw(ctx context.Context, req model.PaymentRequest) model.Result {
	return s.do(ctx, model.KindWithdraw, req, s.next.Withdraw)
}

func idempotencyKey(kind model.LedgerKind, req model.PaymentRequest) string {
	return fmt.Sprintf("idem:%s:%d:%s", kind, req.AccountID, req.IdempotencyKey)
}

func (s *Idempotent) do(
	ctx context.Context,
	kind model.LedgerKind,
	req model.PaymentRequest,
	call func(context.Context, model.PaymentRequest) model.Result,
) model.Result {
	if req.IdempotencyKey == "" {
		return call(ctx, req)
	}
	key := idempotencyKey(kind, req)

	claimed, err := s.store.Claim(ctx, key)
	if err != nil {
		s.log.Error("idempotency claim failed", "key", key, "error", err)
		return failure(persistence("claim idempotency key", err))
	}
	if !claimed {
		return s.replay(ctx, key)
	}

	res := call(ctx, req)

	// Outlive a cancelled caller so the claim never dangles.
	bg := context.WithoutCancel(ctx)
	if res.Kind == string(KindPersistence) && res.RecordID == 0 {
		// Nothing was reserved, so the provider was never called.
		s.release(bg, key)
		return res
	}
	if err := s.store.Save(bg, key, res); err != nil {
		s.log.Error("idempotency save failed", "key", key, "error", err)
		if res.RecordID == 0 {
			s.release(bg, key)
		}
	}
	return res
}

func (s *Idempotent) release(ctx context.Context, key string) {
	if err := s.store.Release(ctx, key); err != nil {
		s.log.Error("idempotency release failed", "key", key, "error", err)
	}
}

func (s *Idempotent) replay(ctx context.Context, key string) model.Result {
	stored, _, err := s.store.Load(ctx, key)
	if err != nil {
		s.log.Error("idempotency load failed", "key", key, "error", err)
		return failure(persistence("load idempotency key", err))
	}
	if stored == nil {
		// Either still in flight or expired between claim and load.
		return failure(newError(KindConflict, CodeRequestInProgress, "Request with this idempotency key is already in progress"))
	}
	res := *stored
	res.Err = restoreError(res)
	return res
}
