package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"payflow/internal/logging"
	"payflow/internal/model"
	"payflow/internal/service"
)

type mockService struct {
	got model.PaymentRequest
}

func (m *mockService) TopUp(ctx context.Context, req model.PaymentRequest) model.Result {
	m.got = req
	return model.Result{Success: true, RecordID: 3}
}

func (m *mockService) Withdraw(ctx context.Context, req model.PaymentRequest) model.Result {
	m.got = req
	return model.Result{Success: false, Error: "Payment service failed", Kind: string(service.KindProviderFailure)}
}

func TestHandler_Process(t *testing.T) {
	svc := &mockService{}
	h := NewHandler(svc, nil, logging.Nop())

	res := h.process(context.Background(), SubjectTopUp,
		[]byte(`{"account_id":5,"amount":"150.50","provider":"good","idempotency_key":"x"}`), svc.TopUp)

	assert.True(t, res.Success)
	assert.Equal(t, int64(3), res.RecordID)
	assert.Equal(t, int64(5), svc.got.AccountID)
	assert.Equal(t, "150.5", svc.got.Amount.String())
	assert.Equal(t, "x", svc.got.IdempotencyKey)

	res = h.process(context.Background(), SubjectWithdraw,
		[]byte(`{"account_id":5,"amount":"600","provider":"good"}`), svc.Withdraw)
	assert.False(t, res.Success)
	assert.Equal(t, "Payment service failed", res.Error)
}

func TestHandler_ProcessInvalidPayload(t *testing.T) {
	svc := &mockService{}
	h := NewHandler(svc, nil, logging.Nop())

	res := h.process(context.Background(), SubjectTopUp, []byte(`not json`), svc.TopUp)

	assert.False(t, res.Success)
	assert.Equal(t, string(service.KindValidation), res.Kind)
	assert.Zero(t, svc.got.AccountID)
}
