// Package notify delivers queue events to collaborators. Delivery is
// best-effort: callers never see a sink error and queue state is never
// rolled back because of one.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"p2p-queue/internal/domain"
)

const deliveryTimeout = 5 * time.Second

// Dispatcher hands events to a sink on a background goroutine. When the
// buffer is full the event is dropped and logged.
type Dispatcher struct {
	sink   domain.Notifier
	events chan domain.Event
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ domain.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sink domain.Notifier, buffer int, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		events: make(chan domain.Event, buffer),
		logger: logger,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := d.sink.Notify(ctx, event); err != nil {
			d.logger.Warn("Notification delivery failed",
				"event_type", event.Type,
				"error", err,
			)
		}
		cancel()
	}
}

// Notify never blocks and never returns an error.
func (d *Dispatcher) Notify(_ context.Context, event domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Warn("Notification dropped after shutdown", "event_type", event.Type)
		return nil
	}

	select {
	case d.events <- event:
	default:
		d.logger.Warn("Notification buffer full, event dropped", "event_type", event.Type)
	}
	return nil
}

// Stop flushes buffered events and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
