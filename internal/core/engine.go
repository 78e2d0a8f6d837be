// Package core contains the aggregation engine: a single-goroutine event
// processor that owns the snapshot store and the fan-out dispatcher.
//
// Message arrival, observer attach/detach and shutdown are discrete
// reaction steps on one goroutine, so store mutations need no locks and
// per-entity updates apply in arrival order. Cold-start replay runs as
// part of the attach step, which closes the race between draining the
// snapshot and going live: no event can be both replayed and broadcast.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"MarketWatch/internal/event"
	"MarketWatch/internal/fanout"
	"MarketWatch/internal/ingestion"
	"MarketWatch/internal/observability"
	"MarketWatch/internal/state"
)

const (
	dropReasonMalformed      = "malformed"
	dropReasonUnknownSubject = "unknown_subject"
)

// Engine is the single-threaded aggregation core.
type Engine struct {
	store      *state.Store
	dispatcher *fanout.Dispatcher
	reconciler *Reconciler

	messages <-chan ingestion.Message
	attach   chan attachRequest
	detach   chan string
	stopped  chan struct{}

	log     zerolog.Logger
	metrics *observability.Metrics
}

type attachRequest struct {
	obs  fanout.Observer
	done chan struct{}
}

func NewEngine(
	store *state.Store,
	dispatcher *fanout.Dispatcher,
	messages <-chan ingestion.Message,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		reconciler: NewReconciler(store),
		messages:   messages,
		attach:     make(chan attachRequest),
		detach:     make(chan string),
		stopped:    make(chan struct{}),
		log:        log,
		metrics:    metrics,
	}
}

// Run processes reaction steps until ctx is cancelled. On shutdown every
// observer is closed before Run returns, so the caller can release the
// bus connection afterwards knowing no further broadcast will happen.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	e.log.Info().Msg("aggregation engine started")
	for {
		select {
		case msg := <-e.messages:
			e.handleMessage(msg)
		case req := <-e.attach:
			e.handleAttach(req)
		case id := <-e.detach:
			e.dispatcher.Detach(id)
		case <-ctx.Done():
			e.dispatcher.CloseAll()
			e.log.Info().Msg("aggregation engine stopped")
			return
		}
	}
}

// Attach registers an observer: the current snapshot is replayed into its
// queue, then it joins the live set. Blocks until the replay step ran (or
// the engine stopped).
func (e *Engine) Attach(o fanout.Observer) {
	req := attachRequest{obs: o, done: make(chan struct{})}
	select {
	case e.attach <- req:
		<-req.done
	case <-e.stopped:
		o.Close()
	}
}

// Detach removes an observer by id. Safe to call from any goroutine.
func (e *Engine) Detach(id string) {
	select {
	case e.detach <- id:
	case <-e.stopped:
	}
}

func (e *Engine) handleMessage(msg ingestion.Message) {
	start := time.Now()

	in, err := ingestion.Route(msg)
	if errors.Is(err, ingestion.ErrUnknownSubject) {
		if e.metrics != nil {
			e.metrics.EventsDropped.WithLabelValues(dropReasonUnknownSubject).Inc()
		}
		return
	}
	if err != nil {
		e.log.Error().Err(err).Str("subject", msg.Subject).Msg("malformed message dropped")
		if e.metrics != nil {
			e.metrics.EventsDropped.WithLabelValues(dropReasonMalformed).Inc()
		}
		return
	}

	now := time.Now()
	switch ev := in.(type) {
	case event.HealthUpdate:
		e.store.UpsertHealth(ev.Health, now)
		stored, _ := e.store.Health(ev.NodeID)
		e.dispatcher.Broadcast(event.NewHealthOutbound(stored, now))

	case event.OrderBookUpdate:
		e.store.UpsertBook(ev.Book, now)
		stored, _ := e.store.Book(state.BookKey{NodeID: ev.Book.NodeID, EventID: ev.Book.EventID})
		e.dispatcher.Broadcast(event.NewOrderBookOutbound(stored, now))

	case event.StatusUpdate:
		removed := e.reconciler.ApplyStatus(ev, now)
		if ev.Status.Terminal() {
			e.log.Info().Str("market", ev.EventID).Str("status", string(ev.Status)).
				Int("booksRemoved", removed).Msg("market reached terminal status")
			e.dispatcher.Broadcast(event.NewMarketRemovedOutbound(ev.EventID, ev.Status, now))
		}

	case event.Discovery:
		e.store.SetTotalMarkets(ev.TotalMarkets)
		e.dispatcher.Broadcast(event.NewDiscoveryOutbound(ev.TotalMarkets, now))
	}

	if e.metrics != nil {
		kind := in.Kind().String()
		e.metrics.EventsApplied.WithLabelValues(kind).Inc()
		e.metrics.HandleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		h, b, s := e.store.Counts()
		e.metrics.StoreEntities.WithLabelValues("health").Set(float64(h))
		e.metrics.StoreEntities.WithLabelValues("orderbook").Set(float64(b))
		e.metrics.StoreEntities.WithLabelValues("status").Set(float64(s))
	}
}

// handleAttach replays the snapshot into the observer's queue and then
// adds it to the live set. Because this runs as one reaction step, live
// events queued after it strictly follow the replay in the observer's
// FIFO and nothing is duplicated or dropped.
func (e *Engine) handleAttach(req attachRequest) {
	defer close(req.done)
	start := time.Now()
	now := time.Now()

	replayed := 0
	ok := true
	send := func(ev event.Outbound) bool {
		if err := req.obs.Send(ev); err != nil {
			e.log.Warn().Err(err).Str("observer", req.obs.ID()).
				Msg("replay delivery failed, observer not attached")
			req.obs.Close()
			return false
		}
		replayed++
		return true
	}

	for _, h := range e.store.Healths() {
		if ok = send(event.NewHealthOutbound(h, now)); !ok {
			break
		}
	}
	if ok {
		for _, b := range e.store.BooksByNode() {
			if ok = send(event.NewOrderBookOutbound(b, now)); !ok {
				break
			}
		}
	}
	if ok {
		if total, known := e.store.TotalMarkets(); known {
			ok = send(event.NewDiscoveryOutbound(total, now))
		}
	}
	if !ok {
		return
	}

	e.dispatcher.Attach(req.obs)
	if e.metrics != nil {
		e.metrics.ReplayEvents.Add(float64(replayed))
		e.metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	}
	e.log.Info().Str("observer", req.obs.ID()).Int("replayed", replayed).Msg("cold-start replay complete")
}
