// Package fanout delivers normalized state-change events to every attached
// observer. The dispatcher is owned by the aggregation engine goroutine and
// is not safe for concurrent use; attach/detach/broadcast all happen as
// engine reaction steps.
package fanout

import (
	"errors"

	"github.com/rs/zerolog"

	"MarketWatch/internal/event"
	"MarketWatch/internal/observability"
)

var (
	// ErrObserverClosed means the observer's sink was already closed.
	ErrObserverClosed = errors.New("observer closed")

	// ErrObserverBlocked means the observer's queue is full; the observer
	// is treated as broken and detached.
	ErrObserverBlocked = errors.New("observer queue full")
)

// Observer is any sink accepting outbound events. Send must be
// non-blocking: it either queues the event in FIFO order or returns an
// error, after which the dispatcher detaches the observer.
type Observer interface {
	ID() string
	Send(ev event.Outbound) error
	Close()
}

// Dispatcher holds the attachment set and broadcasts to it. A failing
// observer is detached in place; Broadcast never returns an error.
type Dispatcher struct {
	observers map[string]Observer
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewDispatcher(log zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		observers: make(map[string]Observer),
		log:       log,
		metrics:   metrics,
	}
}

// Attach adds an observer to the live set.
func (d *Dispatcher) Attach(o Observer) {
	d.observers[o.ID()] = o
	if d.metrics != nil {
		d.metrics.ObserversAttached.Set(float64(len(d.observers)))
	}
	d.log.Info().Str("observer", o.ID()).Int("attached", len(d.observers)).Msg("observer attached")
}

// Detach removes and closes an observer. Unknown ids are a no-op.
func (d *Dispatcher) Detach(id string) {
	o, ok := d.observers[id]
	if !ok {
		return
	}
	delete(d.observers, id)
	o.Close()
	if d.metrics != nil {
		d.metrics.ObserversAttached.Set(float64(len(d.observers)))
	}
	d.log.Info().Str("observer", id).Int("attached", len(d.observers)).Msg("observer detached")
}

// Broadcast delivers ev to every attached observer. A per-observer send
// failure detaches that observer; the rest still receive the event.
func (d *Dispatcher) Broadcast(ev event.Outbound) {
	var failed []string
	for id, o := range d.observers {
		if err := o.Send(ev); err != nil {
			d.log.Warn().Err(err).Str("observer", id).Str("kind", string(ev.Type)).
				Msg("observer delivery failed, detaching")
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		if d.metrics != nil {
			d.metrics.ObserverSendFailures.Inc()
		}
		d.Detach(id)
	}
	if d.metrics != nil {
		d.metrics.BroadcastsTotal.Inc()
	}
}

// Len returns the number of attached observers.
func (d *Dispatcher) Len() int {
	return len(d.observers)
}

// CloseAll detaches and closes every observer. Used during shutdown,
// before the bus connection is released.
func (d *Dispatcher) CloseAll() {
	for id, o := range d.observers {
		delete(d.observers, id)
		o.Close()
	}
	if d.metrics != nil {
		d.metrics.ObserversAttached.Set(0)
	}
	d.log.Info().Msg("all observers closed")
}
