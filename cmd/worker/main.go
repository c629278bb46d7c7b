package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dairyops/dairyhub/internal/config"
	"github.com/dairyops/dairyhub/internal/db"
	"github.com/dairyops/dairyhub/internal/observability"
	"github.com/dairyops/dairyhub/internal/repo/postgres"
	"github.com/dairyops/dairyhub/internal/worker"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// the reset ledger only lives in postgres when redis is not configured
	if cfg.StoreDriver != "postgres" || cfg.RedisAddr != "" {
		log.Info("no SQL reset ledger in use, worker has nothing to do")
		return
	}

	pool, err := db.NewPool(ctx, cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	resetTokens := postgres.NewResetTokensRepo(pool, nil)

	w := worker.New(worker.Config{
		Interval:    cfg.WorkerInterval,
		StepTimeout: 30 * time.Second,
	}, resetTokens, log)

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port+1),
		Handler:           w.HealthHandler(pool),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := healthSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker has started", "health_port", cfg.Port+1)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
