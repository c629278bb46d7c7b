package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls int
	sent  []Message
	block bool
}

func (f *fakeNotifier) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestProtectedNotifier_OpensAfterThreshold(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("smtp down")}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	p := NewProtectedNotifier(inner, ProtectedNotifierConfig{
		Timeout:          time.Second,
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
	})
	p.now = func() time.Time { return now }
	ctx := context.Background()

	_ = p.Send(ctx, Message{})
	_ = p.Send(ctx, Message{})
	if p.State() != stateOpen {
		t.Fatalf("state = %s, want open", p.State())
	}

	if err := p.Send(ctx, Message{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.callCount() != 2 {
		t.Fatalf("open circuit must not call inner, calls = %d", inner.callCount())
	}

	// cooldown elapsed: one trial call; success closes the circuit
	now = now.Add(11 * time.Second)
	inner.setErr(nil)
	if err := p.Send(ctx, Message{}); err != nil {
		t.Fatalf("trial send: %v", err)
	}
	if p.State() != stateClosed {
		t.Fatalf("state = %s, want closed", p.State())
	}
}

func TestProtectedNotifier_HalfOpenFailureReopens(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("down")}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	p := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 1, Cooldown: time.Second})
	p.now = func() time.Time { return now }
	ctx := context.Background()

	_ = p.Send(ctx, Message{})
	now = now.Add(2 * time.Second)

	if err := p.Send(ctx, Message{}); err == nil || errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected the trial call to reach inner and fail, got %v", err)
	}
	if p.State() != stateOpen {
		t.Fatalf("state = %s, want open", p.State())
	}
}

func TestProtectedNotifier_Timeout(t *testing.T) {
	inner := &fakeNotifier{block: true}
	p := NewProtectedNotifier(inner, ProtectedNotifierConfig{Timeout: 20 * time.Millisecond})

	err := p.Send(context.Background(), Message{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
