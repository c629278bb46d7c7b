package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull        = errors.New("notification queue full")
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Observer receives delivery metrics. *observability.Prom satisfies it.
type Observer interface {
	ObserveNotification(kind, result string, d time.Duration)
	SetNotificationQueueDepth(n int)
}

// Dispatcher delivers messages in the background so callers never wait on
// the mail provider. Each message is retried with exponential backoff.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	log      *slog.Logger
	obs      Observer

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(notifier Notifier, cfg DispatcherConfig, log *slog.Logger, obs Observer) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		obs:      obs,
		queue:    make(chan Message, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}

	return d
}

// Enqueue never blocks. It fails with ErrQueueFull when the buffer is
// exhausted and ErrDispatcherClosed after Close.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- msg:
		d.reportDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to drain. If
// ctx expires first, in-flight sends and backoff waits are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for msg := range d.queue {
		d.reportDepth()
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		err := d.notifier.Send(d.ctx, msg)
		elapsed := time.Since(start)

		if err == nil {
			d.observe(msg.Kind, "sent", elapsed)
			return
		}

		if attempt == d.cfg.MaxAttempts-1 || d.ctx.Err() != nil {
			d.observe(msg.Kind, "failed", elapsed)
			d.log.Warn("notification.failed",
				"kind", msg.Kind,
				"to", msg.To,
				"attempts", attempt+1,
				"err", err,
			)
			return
		}

		d.observe(msg.Kind, "retry", elapsed)
		delay := ExponentialBackoff(attempt, d.cfg.BaseBackoff, d.cfg.MaxBackoff)
		d.log.Debug("notification.retry", "kind", msg.Kind, "attempt", attempt+1, "delay", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-d.ctx.Done():
			d.observe(msg.Kind, "failed", elapsed)
			d.log.Warn("notification.abandoned", "kind", msg.Kind, "to", msg.To, "err", err)
			return
		}
	}
}

func (d *Dispatcher) observe(kind Kind, result string, elapsed time.Duration) {
	if d.obs != nil {
		d.obs.ObserveNotification(string(kind), result, elapsed)
	}
}

func (d *Dispatcher) reportDepth() {
	if d.obs != nil {
		d.obs.SetNotificationQueueDepth(len(d.queue))
	}
}
