// Package worker runs the background maintenance loop that prunes expired
// password reset tokens from the SQL ledger.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Pruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type Config struct {
	Interval    time.Duration
	StepTimeout time.Duration
}

type Worker struct {
	cfg    Config
	pruner Pruner
	log    *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, pruner Pruner, log *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{cfg: cfg, pruner: pruner, log: log}
}

// Run prunes once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Step(ctx); err != nil && ctx.Err() == nil {
			w.log.ErrorContext(ctx, "prune expired reset tokens failed", "err", err)
		}

		select {
		case <-ctx.Done():
			w.log.Info("worker received shutdown signal")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) Step(ctx context.Context) (int64, error) {
	stepCtx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	defer cancel()

	n, err := w.pruner.DeleteExpired(stepCtx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		w.log.InfoContext(ctx, "pruned expired reset tokens", "count", n)
	}
	return n, nil
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) Ready() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}
