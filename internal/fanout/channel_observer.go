package fanout

import (
	"github.com/google/uuid"

	"MarketWatch/internal/event"
)

// ChannelObserver is an Observer backed by a buffered channel. The buffer
// preserves FIFO order per observer; a full buffer fails the send so the
// dispatcher detaches the consumer instead of stalling the engine.
type ChannelObserver struct {
	id     string
	ch     chan event.Outbound
	closed bool
}

// NewChannelObserver creates a channel observer with the given queue depth.
func NewChannelObserver(buffer int) *ChannelObserver {
	return &ChannelObserver{
		id: uuid.NewString(),
		ch: make(chan event.Outbound, buffer),
	}
}

func (o *ChannelObserver) ID() string { return o.id }

// Events is the consumer side of the queue. It is closed on detach.
func (o *ChannelObserver) Events() <-chan event.Outbound { return o.ch }

// Send queues the event without blocking. Only called from the engine
// goroutine, as is Close, so the closed flag needs no lock.
func (o *ChannelObserver) Send(ev event.Outbound) error {
	if o.closed {
		return ErrObserverClosed
	}
	select {
	case o.ch <- ev:
		return nil
	default:
		return ErrObserverBlocked
	}
}

// Close closes the queue. Idempotent.
func (o *ChannelObserver) Close() {
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}
