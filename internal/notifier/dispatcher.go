package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/metrics"
)

// ErrQueueFull is returned by Enqueue when the job was dropped.
var ErrQueueFull = errors.New("mail queue full")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("dispatcher closed")

type job struct {
	kind string
	msg  Message
}

// Dispatcher runs mail sends on a fixed pool of workers fed by a bounded
// queue. Enqueue never blocks.
type Dispatcher struct {
	sender  Sender
	logger  *zap.SugaredLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: cfg.Timeout,
		jobs:    make(chan job, size),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules m for delivery. kind labels the job in logs and metrics.
func (d *Dispatcher) Enqueue(kind string, m Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.jobs <- job{kind: kind, msg: m}:
		return nil
	default:
		metrics.MailDelivery(kind, "dropped")
		d.logger.Warnw("mail queue full, dropping message", "kind", kind, "to", m.To)
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.MailDelivery(j.kind, "failed")
			d.logger.Errorw("mail sender panicked", "kind", j.kind, "to", j.msg.To, "panic", r)
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.sender.Send(ctx, j.msg); err != nil {
		metrics.MailDelivery(j.kind, "failed")
		d.logger.Errorw("mail delivery failed", "kind", j.kind, "to", j.msg.To, "err", err)
		return
	}
	metrics.MailDelivery(j.kind, "sent")
	d.logger.Debugw("mail delivered", "kind", j.kind, "to", j.msg.To)
}
