package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"payflow/internal/model"
	"payflow/internal/repository"
)

const sweepBatch = 100

// StaleLister is the part of a ledger store the sweeper reads.
type StaleLister interface {
	Kind() model.LedgerKind
	ListStale(ctx context.Context, q repository.Querier, before time.Time, limit int) ([]model.LedgerRecord, error)
}

// Reconciler finishes a processing record from its recorded provider outcome.
type Reconciler interface {
	Reconcile(ctx context.Context, rec model.LedgerRecord) error
}

type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, topic string, ev model.LedgerEvent) error
}

// StaleSweeper looks at ledger records stuck in processing, typically left
// behind when a finalization transaction could not commit. Records carrying
// a provider outcome are handed to the reconciler; the rest are reported,
// since their outcome is unknown and needs manual reconciliation.
type StaleSweeper struct {
	db       repository.Querier
	ledgers  []StaleLister
	recon    Reconciler
	events   EventPublisher
	after    time.Duration
	interval time.Duration
	gauge    *prometheus.GaugeVec
	log      *slog.Logger
	now      func() time.Time
}

func NewStaleSweeper(
	db repository.Querier,
	ledgers []StaleLister,
	recon Reconciler,
	events EventPublisher,
	after, interval time.Duration,
	reg prometheus.Registerer,
	log *slog.Logger,
) *StaleSweeper {
	if log == nil {
		log = slog.Default()
	}
	return &StaleSweeper{
		db:       db,
		ledgers:  ledgers,
		recon:    recon,
		events:   events,
		after:    after,
		interval: interval,
		gauge: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "payflow",
				Subsystem: "sweeper",
				Name:      "stale_records",
				Help:      "Ledger records still processing past the stale threshold.",
			},
			[]string{"kind"},
		),
		log: log,
		now: time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (w *StaleSweeper) Run(ctx context.Context) error {
	w.log.Info("Stale sweeper is running", "stale_after", w.after, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("sweeper: sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.log.Info("Stale sweeper received shutdown signal")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep checks every ledger once and returns the first listing error.
func (w *StaleSweeper) Sweep(ctx context.Context) error {
	cutoff := w.now().Add(-w.after)

	var firstErr error
	for _, l := range w.ledgers {
		recs, err := l.ListStale(ctx, w.db, cutoff, sweepBatch)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("sweep %s: %w", l.Kind(), err)
			}
			continue
		}

		unresolved := 0
		for _, rec := range recs {
			if w.reconcile(ctx, rec) {
				continue
			}
			unresolved++
			w.log.Warn("sweeper: record stuck in processing",
				"operation", rec.Kind,
				"record_id", rec.ID,
				"account_id", rec.AccountID,
				"amount", rec.Amount.String(),
				"provider", rec.Provider,
				"created_at", rec.CreatedAt,
			)
			if w.events == nil {
				continue
			}
			ev := model.NewLedgerEvent(rec, w.now().UTC())
			if err := w.events.PublishLedgerEvent(ctx, repository.TopicStale, ev); err != nil {
				w.log.Warn("sweeper: failed to publish stale event", "record_id", rec.ID, "error", err)
			}
		}
		w.gauge.WithLabelValues(string(l.Kind())).Set(float64(unresolved))
	}
	return firstErr
}

func (w *StaleSweeper) reconcile(ctx context.Context, rec model.LedgerRecord) bool {
	if w.recon == nil || rec.Outcome == "" {
		return false
	}
	if err := w.recon.Reconcile(ctx, rec); err != nil {
		w.log.Error("sweeper: reconcile failed",
			"operation", rec.Kind,
			"record_id", rec.ID,
			"outcome", rec.Outcome,
			"error", err,
		)
		return false
	}
	w.log.Info("sweeper: record reconciled", "operation", rec.Kind, "record_id", rec.ID, "status", rec.Outcome)
	return true
}

// Start implements the infrastructure.Server interface.
func (w *StaleSweeper) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *StaleSweeper) Stop(ctx context.Context) error {
	return nil
}
