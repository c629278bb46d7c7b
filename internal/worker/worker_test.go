package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakePruner struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (p *fakePruner) DeleteExpired(ctx context.Context) (int64, error) {
	p.calls.Add(1)
	return p.n, p.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStep(t *testing.T) {
	p := &fakePruner{n: 3}
	w := New(Config{}, p, quietLogger())

	n, err := w.Step(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d pruned, want 3", n)
	}

	p.err = errors.New("boom")
	if _, err := w.Step(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := &fakePruner{}
	w := New(Config{Interval: 5 * time.Millisecond}, p, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for p.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.calls.Load() < 2 {
		t.Fatalf("expected repeated pruning, got %d calls", p.calls.Load())
	}
	if !w.Ready() {
		t.Fatalf("worker should report ready while running")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}

	if w.Ready() {
		t.Fatalf("worker should not be ready after stop")
	}
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := New(Config{}, &fakePruner{}, quietLogger())

	get := func(h http.Handler, path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	h := w.HealthHandler(fakePinger{})
	if code := get(h, "/healthz"); code != http.StatusOK {
		t.Fatalf("healthz: got %d", code)
	}
	if code := get(h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before run: got %d", code)
	}

	w.setReady(true)
	if code := get(h, "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz while running: got %d", code)
	}

	down := w.HealthHandler(fakePinger{err: errors.New("db down")})
	if code := get(down, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with db down: got %d", code)
	}
}
