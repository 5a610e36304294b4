package infrastructure

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"payflow/internal/config"
	"payflow/internal/logging"
	"payflow/internal/model"
	"payflow/internal/provider"
	"payflow/internal/repository"
	"payflow/internal/service"
	transportGRPC "payflow/internal/transport/grpc"
	transportHTTP "payflow/internal/transport/http"
	transportNATS "payflow/internal/transport/nats"
	"payflow/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	log, syncLog := logging.New(cfg.IsProduction())
	slog.SetDefault(log)
	cleanupFns := []func(){func() { _ = syncLog() }}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, db.Close)

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })

	nc, err := connectNats(cfg.NatsAddr(), log)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	// ── Domain wiring ─────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	providers, err := provider.NewRegistryFromKeys(cfg.Providers)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}

	accounts := repository.NewAccountRepo(db)
	topUps := repository.NewLedgerRepo(model.KindTopUp)
	withdraws := repository.NewLedgerRepo(model.KindWithdraw)
	events := repository.NewEventPublisher(transportNATS.NewBus(nc))

	engine := service.NewEngine(accounts, topUps, withdraws, providers,
		service.WithIsolation(cfg.TxIsolation),
		service.WithEvents(events),
		service.WithMetrics(service.NewMetrics(reg)),
		service.WithLogger(log),
	)
	var svc service.PaymentService = service.NewIdempotent(
		engine,
		repository.NewIdempotencyStore(rdb, cfg.IdempotencyTTL, cfg.PendingTTL),
		log,
	)

	// ── Servers ───────────────────────────────────────────────────────────────
	servers := []Server{
		transportNATS.NewHandler(svc, nc, log),
		worker.NewStaleSweeper(accounts.DB(), []worker.StaleLister{topUps, withdraws}, engine, events,
			cfg.StaleAfter, cfg.SweepInterval, reg, log),
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, reg, log))
	} else {
		log.Info("HTTP server not started", "reason", apiErr)
	}
	if addr, grpcErr := cfg.GRPCAddr(); grpcErr == nil {
		servers = append(servers, transportGRPC.NewServer(addr, svc, db, 0, log))
	} else {
		log.Info("gRPC server not started", "reason", grpcErr)
	}

	log.Info("payflow bootstrapped",
		"env", cfg.Env,
		"providers", cfg.Providers,
		"isolation", cfg.TxIsolation,
	)

	return NewApp(servers, log), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
