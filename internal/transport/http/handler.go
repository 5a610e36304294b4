package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"payflow/internal/model"
	"payflow/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

type Handler struct {
	svc service.PaymentService
	log *slog.Logger
}

func NewHandler(svc service.PaymentService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /accounts/{id}/topup", h.TopUp)
	mux.HandleFunc("POST /accounts/{id}/withdraw", h.Withdraw)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type paymentBody struct {
	Amount   decimal.Decimal `json:"amount"`
	Provider string          `json:"provider"`
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.respondResult(w, h.svc.TopUp(r.Context(), req))
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.respondResult(w, h.svc.Withdraw(r.Context(), req))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (model.PaymentRequest, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid_account_id")
		return model.PaymentRequest{}, false
	}

	var body paymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return model.PaymentRequest{}, false
	}

	return model.PaymentRequest{
		AccountID:      id,
		Amount:         body.Amount,
		Provider:       body.Provider,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	}, true
}

// statusFor maps a result kind to the HTTP status the caller sees.
func statusFor(res model.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch service.Kind(res.Kind) {
	case service.KindValidation:
		return http.StatusUnprocessableEntity
	case service.KindConflict:
		return http.StatusConflict
	case service.KindProviderFailure:
		return http.StatusPaymentRequired
	case service.KindConfiguration:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondResult(w http.ResponseWriter, res model.Result) {
	h.respondJSON(w, statusFor(res), res)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.log.Warn("http: failed to write response", "error", err)
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
