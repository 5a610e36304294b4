package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payflow/internal/logging"
	"payflow/internal/model"
	"payflow/internal/service"
)

type mockService struct {
	lastOp  string
	lastReq model.PaymentRequest
	result  model.Result
}

func (m *mockService) TopUp(ctx context.Context, req model.PaymentRequest) model.Result {
	m.lastOp, m.lastReq = "topup", req
	return m.result
}

func (m *mockService) Withdraw(ctx context.Context, req model.PaymentRequest) model.Result {
	m.lastOp, m.lastReq = "withdraw", req
	return m.result
}

func newTestServer(svc service.PaymentService) http.Handler {
	return NewServer(":0", svc, prometheus.NewRegistry(), logging.Nop()).srv.Handler
}

func TestHandler_Withdraw(t *testing.T) {
	svc := &mockService{result: model.Result{Success: true, RecordID: 7}}
	h := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/accounts/42/withdraw",
		strings.NewReader(`{"amount":"600","provider":"good"}`))
	req.Header.Set("Idempotency-Key", "k-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "withdraw", svc.lastOp)
	assert.Equal(t, int64(42), svc.lastReq.AccountID)
	assert.Equal(t, "600", svc.lastReq.Amount.String())
	assert.Equal(t, "good", svc.lastReq.Provider)
	assert.Equal(t, "k-1", svc.lastReq.IdempotencyKey)

	var body model.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(7), body.RecordID)
}

func TestHandler_StatusMapping(t *testing.T) {
	tests := []struct {
		kind service.Kind
		want int
	}{
		{service.KindValidation, http.StatusUnprocessableEntity},
		{service.KindConflict, http.StatusConflict},
		{service.KindProviderFailure, http.StatusPaymentRequired},
		{service.KindConfiguration, http.StatusBadRequest},
		{service.KindPersistence, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &mockService{result: model.Result{Success: false, Error: "nope", Kind: string(tt.kind)}}
			h := newTestServer(svc)

			req := httptest.NewRequest(http.MethodPost, "/accounts/1/topup",
				strings.NewReader(`{"amount":"50","provider":"good"}`))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "topup", svc.lastOp)
			assert.Contains(t, rec.Body.String(), `"error":"nope"`)
		})
	}
}

func TestHandler_BadInput(t *testing.T) {
	svc := &mockService{}
	h := newTestServer(svc)

	for _, tc := range []struct{ path, body string }{
		{"/accounts/abc/topup", `{"amount":"100","provider":"good"}`},
		{"/accounts/1/topup", `{"amount":`},
		{"/accounts/1/withdraw", `{"amount":"ten"}`},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
	}
	assert.Empty(t, svc.lastOp)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	h := newTestServer(&mockService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
