package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID          int64
	Email       string
	Balance     decimal.NullDecimal
	Verified    *bool
	Deactivated bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerKind names one of the two payment ledgers.
type LedgerKind string

const (
	KindTopUp    LedgerKind = "topup"
	KindWithdraw LedgerKind = "withdraw"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// LedgerRecord is one payment attempt and its terminal outcome.
type LedgerRecord struct {
	ID        int64
	Kind      LedgerKind
	AccountID int64
	Amount    decimal.Decimal
	Provider  string
	Status    Status
	NetAmount decimal.NullDecimal
	Outcome   Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PaymentRequest struct {
	AccountID      int64           `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Provider       string          `json:"provider"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Result is what the engine hands back to transports. Err carries the typed
// error for in-process callers and is never serialized.
type Result struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
	Kind     string `json:"kind,omitempty"`
	RecordID int64  `json:"record_id,omitempty"`
	Err      error  `json:"-"`
}

type LedgerEvent struct {
	ID         uuid.UUID           `json:"id"`
	Kind       LedgerKind          `json:"kind"`
	RecordID   int64               `json:"record_id"`
	AccountID  int64               `json:"account_id"`
	Amount     decimal.Decimal     `json:"amount"`
	NetAmount  decimal.NullDecimal `json:"net_amount"`
	Provider   string              `json:"provider"`
	Status     Status              `json:"status"`
	OccurredAt time.Time           `json:"occurred_at"`
}

func NewLedgerEvent(rec LedgerRecord, at time.Time) LedgerEvent {
	return LedgerEvent{
		ID:         uuid.New(),
		Kind:       rec.Kind,
		RecordID:   rec.ID,
		AccountID:  rec.AccountID,
		Amount:     rec.Amount,
		NetAmount:  rec.NetAmount,
		Provider:   rec.Provider,
		Status:     rec.Status,
		OccurredAt: at,
	}
}
