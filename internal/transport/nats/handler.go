package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"payflow/internal/model"
	"payflow/internal/service"
)

const (
	SubjectTopUp    = "commands.topup"
	SubjectWithdraw = "commands.withdraw"

	queueGroup = "payflow_engine"
)

// Handler answers payment commands sent as NATS requests. Each reply carries
// the Result JSON; fire-and-forget publishes are executed and not answered.
type Handler struct {
	svc  service.PaymentService
	nc   *nats.Conn
	log  *slog.Logger
	subs []*nats.Subscription
}

func NewHandler(svc service.PaymentService, nc *nats.Conn, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, nc: nc, log: log}
}

// Start subscribes to command subjects and blocks until ctx is cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	routes := map[string]func(context.Context, model.PaymentRequest) model.Result{
		SubjectTopUp:    h.svc.TopUp,
		SubjectWithdraw: h.svc.Withdraw,
	}
	for subject, call := range routes {
		sub, err := h.nc.QueueSubscribe(subject, queueGroup, func(m *nats.Msg) {
			h.handle(ctx, m, call)
		})
		if err != nil {
			return err
		}
		h.subs = append(h.subs, sub)
	}

	h.log.Info("NATS command handler is running", "subjects", []string{SubjectTopUp, SubjectWithdraw})

	<-ctx.Done()
	h.log.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (h *Handler) handle(ctx context.Context, m *nats.Msg, call func(context.Context, model.PaymentRequest) model.Result) {
	res := h.process(ctx, m.Subject, m.Data, call)
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		h.log.Error("nats: failed to encode reply", "subject", m.Subject, "error", err)
		return
	}
	if err := m.Respond(data); err != nil {
		h.log.Error("nats: failed to reply", "subject", m.Subject, "error", err)
	}
}

func (h *Handler) process(ctx context.Context, subject string, data []byte, call func(context.Context, model.PaymentRequest) model.Result) model.Result {
	var req model.PaymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.log.Error("nats: failed to unmarshal payment command", "subject", subject, "error", err)
		return model.Result{Success: false, Error: "invalid_json", Kind: string(service.KindValidation)}
	}
	res := call(ctx, req)
	if !res.Success {
		h.log.Warn("nats: payment command rejected",
			"subject", subject,
			"account_id", req.AccountID,
			"code", res.Code,
		)
	}
	return res
}
