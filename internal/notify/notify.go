// Package notify delivers best-effort messages to workers.
//
// The engine enqueues messages after its transaction commits. Delivery runs
// on a single background goroutine; failures are logged and counted, never
// reported back to the caller.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"examline/internal/metrics"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("notify: dispatcher closed")

// ErrQueueFull is returned by Enqueue when the queue has no room.
var ErrQueueFull = errors.New("notify: queue full")

// Message is one notification addressed to a worker.
type Message struct {
	To       string `json:"to"`
	WorkerID string `json:"worker_id,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Kind     string `json:"kind,omitempty"`
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier is what the engine depends on.
type Notifier interface {
	Enqueue(msg Message) error
}

// Discard drops every message.
type Discard struct{}

func (Discard) Enqueue(Message) error { return nil }

// Dispatcher queues messages and sends them one at a time.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     *slog.Logger
	metrics metrics.Collector

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	done   chan struct{}
}

// NewDispatcher starts a dispatcher with a bounded queue. Each Send is
// bounded by timeout.
func NewDispatcher(sender Sender, queueSize int, timeout time.Duration, log *slog.Logger, m metrics.Collector) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	d := &Dispatcher{
		sender:  sender,
		timeout: timeout,
		log:     log,
		metrics: m,
		queue:   make(chan Message, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules msg for delivery without blocking.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.metrics.Notification("dropped")
		d.log.Warn("notification dropped: queue full", "to", msg.To, "kind", msg.Kind)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to be sent or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.Send(ctx, msg); err != nil {
		d.metrics.Notification("failed")
		d.log.Warn("notification failed", "to", msg.To, "kind", msg.Kind, "error", err)
		return
	}
	d.metrics.Notification("sent")
	d.log.Debug("notification sent", "to", msg.To, "kind", msg.Kind)
}

// LogSender writes messages to a logger instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "to", msg.To, "worker_id", msg.WorkerID, "subject", msg.Subject, "kind", msg.Kind)
	return nil
}
