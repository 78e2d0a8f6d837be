// Package degraded synthesizes a plausible snapshot when the bus is
// unreachable at startup. The generator emits ordinary bus messages into
// the same ingestion channel live traffic uses, so routing, store
// mutation and fan-out behave identically to live mode; observers can only
// tell the difference by the values themselves.
package degraded

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"MarketWatch/internal/event"
	"MarketWatch/internal/ingestion"
)

const (
	healthStepMax = 2.5 // symmetric walk step bound for percentages
	levelCount    = 4
)

var one = decimal.NewFromInt(1)

// Generator seeds a fixed set of nodes and markets and perturbs them on a
// periodic tick.
type Generator struct {
	out      chan<- ingestion.Message
	interval time.Duration
	rng      *rand.Rand
	log      zerolog.Logger

	nodes        []event.NodeHealth
	books        []event.OrderBook
	totalMarkets int
}

// NewGenerator creates a generator with a fixed plausible world: three
// nodes (one master, two workers) and four markets spread across them.
func NewGenerator(out chan<- ingestion.Message, interval time.Duration, seed int64, log zerolog.Logger) *Generator {
	g := &Generator{
		out:      out,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		log:      log,
	}
	g.seedWorld()
	return g
}

func (g *Generator) seedWorld() {
	nodeIDs := []string{"10.0.0.10-master", "10.0.0.21", "10.0.0.22"}
	for i, id := range nodeIDs {
		g.nodes = append(g.nodes, event.NodeHealth{
			NodeID:             id,
			CPUUsagePercent:    25 + float64(i*10),
			MemoryUsagePercent: 40 + float64(i*5),
			ActiveMarkets:      2,
			CPUCores:           8,
			LoadAverage:        1.0 + 0.3*float64(i),
			FreeDiskSpaceMB:    51200,
			Healthy:            true,
		})
	}

	markets := []struct {
		eventID string
		node    string
		base    int64
	}{
		{"SIM-E1", "10.0.0.21", 50},
		{"SIM-E2", "10.0.0.21", 120},
		{"SIM-E3", "10.0.0.22", 80},
		{"SIM-E4", "10.0.0.22", 200},
	}
	for _, m := range markets {
		g.books = append(g.books, event.OrderBook{
			EventID: m.eventID,
			NodeID:  m.node,
			MarketA: g.seedSide(m.eventID+"-A", m.base),
			MarketB: g.seedSide(m.eventID+"-B", m.base/2),
		})
	}
	g.totalMarkets = len(markets)
}

func (g *Generator) seedSide(marketID string, base int64) event.Side {
	s := event.Side{MarketID: marketID}
	for i := int64(0); i < levelCount; i++ {
		s.Bids = append(s.Bids, event.PriceLevel{
			Price:      decimal.NewFromInt(base - 1 - i),
			Quantity:   decimal.NewFromInt(10 + g.rng.Int63n(90)),
			OrderCount: 1 + g.rng.Intn(5),
		})
		s.Asks = append(s.Asks, event.PriceLevel{
			Price:      decimal.NewFromInt(base + 1 + i),
			Quantity:   decimal.NewFromInt(10 + g.rng.Int63n(90)),
			OrderCount: 1 + g.rng.Intn(5),
		})
		s.TotalOrders += s.Bids[i].OrderCount + s.Asks[i].OrderCount
	}
	deriveBest(&s)
	return s
}

// Seed returns the initial bus messages: every node's health, every book
// and the discovery total.
func (g *Generator) Seed() []ingestion.Message {
	msgs := make([]ingestion.Message, 0, len(g.nodes)+len(g.books)+1)
	for _, n := range g.nodes {
		msgs = append(msgs, g.healthMessage(n))
	}
	for _, b := range g.books {
		msgs = append(msgs, g.bookMessage(b))
	}
	msgs = append(msgs, g.discoveryMessage())
	return msgs
}

// Tick perturbs the world and returns the resulting bus messages.
func (g *Generator) Tick() []ingestion.Message {
	msgs := make([]ingestion.Message, 0, len(g.nodes)+len(g.books))
	for i := range g.nodes {
		g.perturbHealth(&g.nodes[i])
		msgs = append(msgs, g.healthMessage(g.nodes[i]))
	}
	for i := range g.books {
		g.perturbSide(&g.books[i].MarketA)
		g.perturbSide(&g.books[i].MarketB)
		msgs = append(msgs, g.bookMessage(g.books[i]))
	}
	return msgs
}

// Run emits the seed and then one perturbation batch per tick until ctx
// is cancelled.
func (g *Generator) Run(ctx context.Context) {
	g.log.Warn().Int("nodes", len(g.nodes)).Int("books", len(g.books)).
		Msg("bus unreachable, running in degraded mode with synthesized data")

	g.emit(ctx, g.Seed())

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.emit(ctx, g.Tick())
		case <-ctx.Done():
			g.log.Info().Msg("degraded-mode generator stopped")
			return
		}
	}
}

func (g *Generator) emit(ctx context.Context, msgs []ingestion.Message) {
	for _, m := range msgs {
		select {
		case g.out <- m:
		case <-ctx.Done():
			return
		}
	}
}

// perturbHealth applies bounded symmetric random walk steps to the
// percentage gauges, clamped to [0,100].
func (g *Generator) perturbHealth(h *event.NodeHealth) {
	h.CPUUsagePercent = clamp(h.CPUUsagePercent+g.step(), 0, 100)
	h.MemoryUsagePercent = clamp(h.MemoryUsagePercent+g.step(), 0, 100)
	h.LoadAverage = clamp(h.LoadAverage+g.step()/10, 0, float64(h.CPUCores))
	h.Healthy = h.CPUUsagePercent < 95 && h.MemoryUsagePercent < 95
}

func (g *Generator) step() float64 {
	return (g.rng.Float64()*2 - 1) * healthStepMax
}

// perturbSide shifts at most one price level by one tick in either
// direction and re-derives the top of book. A shift that would collide
// with another level's price, or cross the opposite side, is retried in
// the other direction and dropped if that collides too, so prices stay
// distinct within each list and the book stays uncrossed.
func (g *Generator) perturbSide(s *event.Side) {
	bids := g.rng.Intn(2) == 0
	levels := s.Bids
	if !bids {
		levels = s.Asks
	}
	if len(levels) == 0 {
		return
	}
	i := g.rng.Intn(len(levels))
	delta := one
	if g.rng.Intn(2) == 1 {
		delta = one.Neg()
	}
	target := levels[i].Price.Add(delta)
	if !shiftOK(s, bids, i, target) {
		target = levels[i].Price.Sub(delta)
		if !shiftOK(s, bids, i, target) {
			return
		}
	}
	levels[i].Price = target
	deriveBest(s)
}

func shiftOK(s *event.Side, bids bool, i int, target decimal.Decimal) bool {
	levels, opposite := s.Bids, s.Asks
	if !bids {
		levels, opposite = s.Asks, s.Bids
	}
	for j, l := range levels {
		if j != i && l.Price.Equal(target) {
			return false
		}
	}
	if len(opposite) == 0 {
		return true
	}
	if bids {
		return target.LessThan(s.BestAsk)
	}
	return target.GreaterThan(s.BestBid)
}

// deriveBest recomputes BestBid (max bid) and BestAsk (min ask).
func deriveBest(s *event.Side) {
	if len(s.Bids) > 0 {
		best := s.Bids[0].Price
		for _, l := range s.Bids[1:] {
			if l.Price.GreaterThan(best) {
				best = l.Price
			}
		}
		s.BestBid = best
	}
	if len(s.Asks) > 0 {
		best := s.Asks[0].Price
		for _, l := range s.Asks[1:] {
			if l.Price.LessThan(best) {
				best = l.Price
			}
		}
		s.BestAsk = best
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// --- wire encoding, matching the live producers ---

func (g *Generator) healthMessage(h event.NodeHealth) ingestion.Message {
	payload := map[string]interface{}{
		"cpuUsagePercent":    h.CPUUsagePercent,
		"memoryUsagePercent": h.MemoryUsagePercent,
		"activeMarkets":      h.ActiveMarkets,
		"cpuCores":           h.CPUCores,
		"loadAverage":        h.LoadAverage,
		"freeDiskSpaceMB":    h.FreeDiskSpaceMB,
		"isHealthy":          h.Healthy,
	}
	return g.message(ingestion.SubjectHealthPrefix+h.NodeID, payload)
}

func (g *Generator) bookMessage(b event.OrderBook) ingestion.Message {
	payload := map[string]interface{}{
		"eventId": b.EventID,
		"nodeId":  b.NodeID,
		"marketA": b.MarketA,
		"marketB": b.MarketB,
	}
	return g.message(ingestion.SubjectOrderBooks, payload)
}

func (g *Generator) discoveryMessage() ingestion.Message {
	return g.message(ingestion.SubjectDiscovery, map[string]interface{}{
		"totalMarkets": g.totalMarkets,
	})
}

func (g *Generator) message(subject string, payload interface{}) ingestion.Message {
	data, err := json.Marshal(payload)
	if err != nil {
		// payloads are built from our own structs; this cannot fail at runtime
		panic(fmt.Sprintf("degraded: marshal %s: %v", subject, err))
	}
	return ingestion.Message{Subject: subject, Data: data, Received: time.Now()}
}
