package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ErrBusUnavailable is returned when the initial connect fails. The caller
// is expected to fall back to degraded mode rather than retry.
var ErrBusUnavailable = errors.New("bus unavailable")

// Message is the raw bus message handed to the aggregation engine. The
// subject carries the topic family and, for per-entity families, the
// entity key.
type Message struct {
	Subject  string
	Data     []byte
	Received time.Time
}

// Subjects subscribed on the bus. Health and status are per-entity
// families; orderbooks and discovery are fixed subjects.
var busSubjects = []string{
	SubjectHealthPrefix + ">",
	SubjectStatusPrefix + ">",
	SubjectOrderBooks,
	SubjectDiscovery,
}

// Bus wraps the NATS connection and the relay's subscriptions. Messages
// are pushed onto the engine's channel; a full channel drops the message
// rather than stalling the NATS callback.
type Bus struct {
	nc   *nats.Conn
	subs []*nats.Subscription
	out  chan<- Message
	log  zerolog.Logger
}

// Connect dials the bus with a finite timeout and no connect retry.
// A failed dial returns ErrBusUnavailable so the caller can start the
// degraded-mode generator instead.
func Connect(url string, timeout time.Duration, out chan<- Message, log zerolog.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.RetryOnFailedConnect(false),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("bus disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return &Bus{nc: nc, out: out, log: log}, nil
}

// Subscribe attaches handlers for all relay subjects. NATS delivers
// messages for a single subscription in order, which preserves per-entity
// arrival order through the engine channel.
func (b *Bus) Subscribe(ctx context.Context) error {
	for _, subject := range busSubjects {
		sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
			m := Message{
				Subject:  msg.Subject,
				Data:     msg.Data,
				Received: time.Now(),
			}
			select {
			case b.out <- m:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
		b.log.Info().Str("subject", subject).Msg("subscribed")
	}
	return nil
}

// Drain stops accepting new messages. Called first during shutdown so no
// broadcast can follow the bus close.
func (b *Bus) Drain() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Warn().Err(err).Str("subject", sub.Subject).Msg("unsubscribe failed")
		}
	}
	b.subs = nil
	b.log.Info().Msg("bus subscriptions drained")
}

// Close releases the bus connection.
func (b *Bus) Close() {
	b.nc.Close()
	b.log.Info().Msg("bus connection closed")
}
