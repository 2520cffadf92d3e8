package main

import (
	"context"
	"sync"
	"time"

	"lotledger/internal/app"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/domain/lots"
	"lotledger/internal/domain/reconcile"
	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/pkg/logger"
)

// Ledger is the part of the ledger the worker drives.
type Ledger interface {
	RecomputeAll(ctx context.Context) ([]lots.RecomputeResult, error)
	RefreshDueAlerts(ctx context.Context) (int, error)
}

// Sweeper removes duplicate rows.
type Sweeper interface {
	FullSweep(ctx context.Context) (*reconcile.SweepResult, error)
}

// LeasePurger drops expired leases.
type LeasePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Relay drains the outbox.
type Relay interface {
	ProcessBatch(ctx context.Context) (int, error)
	PurgePublished(ctx context.Context, retention time.Duration) (int64, error)
}

// Schedule holds the job intervals. A zero interval disables the job.
type Schedule struct {
	Recompute     time.Duration
	Sweep         time.Duration
	LeaseCleanup  time.Duration
	AlertRefresh  time.Duration
	OutboxPoll    time.Duration
	OutboxCleanup time.Duration
	OutboxRetain  time.Duration
}

// Worker runs the periodic maintenance jobs.
type Worker struct {
	ledger  Ledger
	sweeper Sweeper
	leases  LeasePurger
	relay   Relay
	sched   Schedule
	log     *logger.Logger
}

// NewWorker wires the worker from the application container.
func NewWorker(a *app.App, relay *postgres.OutboxRelay, log *logger.Logger) *Worker {
	cfg := a.Config
	return &Worker{
		ledger:  a.Lots,
		sweeper: a.Reconciler,
		leases:  a.Leases,
		relay:   relay,
		sched: Schedule{
			Recompute:     cfg.RecomputeInterval,
			Sweep:         cfg.SweepInterval,
			LeaseCleanup:  cfg.LeaseCleanupInterval,
			AlertRefresh:  cfg.AlertRefreshInterval,
			OutboxPoll:    cfg.OutboxPollInterval,
			OutboxCleanup: time.Hour,
			OutboxRetain:  cfg.OutboxRetention,
		},
		log: log.WithComponent("worker"),
	}
}

// Run starts one goroutine per enabled job and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(ctx context.Context)
	}{
		{"recompute", w.sched.Recompute, w.recompute},
		{"sweep", w.sched.Sweep, w.sweep},
		{"lease_cleanup", w.sched.LeaseCleanup, w.purgeLeases},
		{"alert_refresh", w.sched.AlertRefresh, w.refreshAlerts},
		{"outbox", w.sched.OutboxPoll, w.drainOutbox},
		{"outbox_cleanup", w.sched.OutboxCleanup, w.purgeOutbox},
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		if job.interval <= 0 {
			w.log.Infow("job disabled", "job", job.name)
			continue
		}
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.every(ctx, job.name, job.interval, job.fn)
		}()
	}
	wg.Wait()
}

// every runs fn on each tick; each run gets its own trace.
func (w *Worker) every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(appctx.WithTrace(ctx, appctx.NewTraceContext(appctx.OriginWorker+":"+name)))
		}
	}
}

func (w *Worker) recompute(ctx context.Context) {
	results, err := w.ledger.RecomputeAll(ctx)
	if err != nil {
		w.log.WithContext(ctx).Errorw("recompute failed", "error", err)
		return
	}
	drifted := 0
	for _, r := range results {
		if r.Drift != 0 {
			drifted++
		}
	}
	w.log.WithContext(ctx).Infow("product counters recomputed", "products", len(results), "drifted", drifted)
}

func (w *Worker) sweep(ctx context.Context) {
	res, err := w.sweeper.FullSweep(ctx)
	if err != nil {
		w.log.WithContext(ctx).Errorw("duplicate sweep failed", "error", err)
		return
	}
	if res.TotalEliminated > 0 {
		w.log.WithContext(ctx).Warnw("duplicates removed by sweep", "groups", res.GroupsProcessed, "eliminated", res.TotalEliminated)
	}
}

func (w *Worker) purgeLeases(ctx context.Context) {
	n, err := w.leases.PurgeExpired(ctx)
	if err != nil {
		w.log.WithContext(ctx).Errorw("lease cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.WithContext(ctx).Infow("cleaned up expired leases", "count", n)
	}
}

func (w *Worker) refreshAlerts(ctx context.Context) {
	n, err := w.ledger.RefreshDueAlerts(ctx)
	if err != nil {
		w.log.WithContext(ctx).Errorw("alert refresh failed", "error", err)
		return
	}
	if n > 0 {
		w.log.WithContext(ctx).Infow("lot alerts refreshed", "count", n)
	}
}

// drainOutbox keeps processing while full batches come back.
func (w *Worker) drainOutbox(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			w.log.WithContext(ctx).Errorw("outbox batch failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
		w.log.WithContext(ctx).Debugw("processed outbox batch", "count", n)
	}
}

func (w *Worker) purgeOutbox(ctx context.Context) {
	n, err := w.relay.PurgePublished(ctx, w.sched.OutboxRetain)
	if err != nil {
		w.log.WithContext(ctx).Errorw("outbox cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.WithContext(ctx).Infow("cleaned up published outbox messages", "count", n)
	}
}
