package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payflow/internal/model"
	"payflow/internal/provider"
	"payflow/internal/repository"
)

// PaymentService defines the money-moving operations.
// All transport layers (HTTP, NATS) depend on this interface, not on the engine.
type PaymentService interface {
	TopUp(ctx context.Context, req model.PaymentRequest) model.Result
	Withdraw(ctx context.Context, req model.PaymentRequest) model.Result
}

type AccountStore interface {
	BeginTx(ctx context.Context, iso pgx.TxIsoLevel) (pgx.Tx, error)
	GetByID(ctx context.Context, q repository.Querier, id int64) (*model.Account, error)
	GetByIDForUpdate(ctx context.Context, q repository.Querier, id int64) (*model.Account, error)
	Update(ctx context.Context, q repository.Querier, id int64, upd repository.AccountUpdate) error
}

type LedgerStore interface {
	Create(ctx context.Context, q repository.Querier, rec model.LedgerRecord) (int64, error)
	Update(ctx context.Context, q repository.Querier, id int64, upd repository.LedgerUpdate) error
	RecordOutcome(ctx context.Context, q repository.Querier, id int64, outcome model.Status, net decimal.NullDecimal) error
	IsProcessing(ctx context.Context, q repository.Querier, accountID int64) (bool, error)
}

type ProviderSelector interface {
	Select(key string) (provider.Provider, error)
}

type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, topic string, ev model.LedgerEvent) error
}
