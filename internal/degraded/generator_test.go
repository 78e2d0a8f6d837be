package degraded_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"MarketWatch/internal/degraded"
	"MarketWatch/internal/event"
	"MarketWatch/internal/ingestion"
)

func newGenerator(t *testing.T) *degraded.Generator {
	t.Helper()
	out := make(chan ingestion.Message, 256)
	return degraded.NewGenerator(out, time.Second, 1, zerolog.Nop())
}

func routeAll(t *testing.T, msgs []ingestion.Message) []event.Inbound {
	t.Helper()
	var out []event.Inbound
	for _, m := range msgs {
		in, err := ingestion.Route(m)
		if err != nil {
			t.Fatalf("synthesized message failed routing (%s): %v", m.Subject, err)
		}
		out = append(out, in)
	}
	return out
}

func booksByEvent(ins []event.Inbound) map[string]event.OrderBook {
	books := make(map[string]event.OrderBook)
	for _, in := range ins {
		if ob, ok := in.(event.OrderBookUpdate); ok {
			books[ob.Book.EventID] = ob.Book
		}
	}
	return books
}

func TestSeedRoutesThroughLivePipeline(t *testing.T) {
	g := newGenerator(t)
	ins := routeAll(t, g.Seed())

	var healths, books, discoveries int
	for _, in := range ins {
		switch in.Kind() {
		case event.KindHealthUpdate:
			healths++
		case event.KindOrderBookUpdate:
			books++
		case event.KindDiscovery:
			discoveries++
		default:
			t.Errorf("unexpected kind %v in seed", in.Kind())
		}
	}
	if healths == 0 || books == 0 {
		t.Errorf("seed too small: %d healths, %d books", healths, books)
	}
	if discoveries != 1 {
		t.Errorf("discoveries: got %d, want 1", discoveries)
	}
}

func TestHealthWalkStaysClamped(t *testing.T) {
	g := newGenerator(t)
	g.Seed()
	for tick := 0; tick < 500; tick++ {
		for _, in := range routeAll(t, g.Tick()) {
			hu, ok := in.(event.HealthUpdate)
			if !ok {
				continue
			}
			if hu.Health.CPUUsagePercent < 0 || hu.Health.CPUUsagePercent > 100 {
				t.Fatalf("cpu out of range at tick %d: %v", tick, hu.Health.CPUUsagePercent)
			}
			if hu.Health.MemoryUsagePercent < 0 || hu.Health.MemoryUsagePercent > 100 {
				t.Fatalf("mem out of range at tick %d: %v", tick, hu.Health.MemoryUsagePercent)
			}
		}
	}
}

func sideDiff(t *testing.T, before, after event.Side) int {
	t.Helper()
	if len(before.Bids) != len(after.Bids) || len(before.Asks) != len(after.Asks) {
		t.Fatal("perturbation changed level count")
	}
	shifted := 0
	check := func(b, a event.PriceLevel) {
		if b.Price.Equal(a.Price) {
			return
		}
		if !a.Price.Sub(b.Price).Abs().Equal(decimal.NewFromInt(1)) {
			t.Fatalf("level moved by %s, want exactly 1", a.Price.Sub(b.Price))
		}
		shifted++
	}
	for i := range before.Bids {
		check(before.Bids[i], after.Bids[i])
	}
	for i := range before.Asks {
		check(before.Asks[i], after.Asks[i])
	}
	return shifted
}

func assertBestDerived(t *testing.T, s event.Side) {
	t.Helper()
	maxBid := s.Bids[0].Price
	for _, l := range s.Bids {
		if l.Price.GreaterThan(maxBid) {
			maxBid = l.Price
		}
	}
	if !s.BestBid.Equal(maxBid) {
		t.Errorf("bestBid %s != max bid %s", s.BestBid, maxBid)
	}
	minAsk := s.Asks[0].Price
	for _, l := range s.Asks {
		if l.Price.LessThan(minAsk) {
			minAsk = l.Price
		}
	}
	if !s.BestAsk.Equal(minAsk) {
		t.Errorf("bestAsk %s != min ask %s", s.BestAsk, minAsk)
	}
}

func assertPricesDistinct(t *testing.T, tick int, s event.Side) {
	t.Helper()
	seen := make(map[string]bool)
	for _, l := range s.Bids {
		if seen[l.Price.String()] {
			t.Fatalf("tick %d: side %s has duplicate bid price %s", tick, s.MarketID, l.Price)
		}
		seen[l.Price.String()] = true
	}
	seen = make(map[string]bool)
	for _, l := range s.Asks {
		if seen[l.Price.String()] {
			t.Fatalf("tick %d: side %s has duplicate ask price %s", tick, s.MarketID, l.Price)
		}
		seen[l.Price.String()] = true
	}
	if len(s.Bids) > 0 && len(s.Asks) > 0 && !s.BestBid.LessThan(s.BestAsk) {
		t.Fatalf("tick %d: side %s is crossed: bestBid %s >= bestAsk %s",
			tick, s.MarketID, s.BestBid, s.BestAsk)
	}
}

func TestPerturbationKeepsPricesDistinct(t *testing.T) {
	g := newGenerator(t)
	for _, b := range booksByEvent(routeAll(t, g.Seed())) {
		assertPricesDistinct(t, 0, b.MarketA)
		assertPricesDistinct(t, 0, b.MarketB)
	}
	for tick := 1; tick <= 500; tick++ {
		for _, b := range booksByEvent(routeAll(t, g.Tick())) {
			assertPricesDistinct(t, tick, b.MarketA)
			assertPricesDistinct(t, tick, b.MarketB)
		}
	}
}

func TestPerturbationShiftsAtMostOneLevelPerSide(t *testing.T) {
	g := newGenerator(t)
	prev := booksByEvent(routeAll(t, g.Seed()))

	for tick := 0; tick < 50; tick++ {
		cur := booksByEvent(routeAll(t, g.Tick()))
		for id, before := range prev {
			after, ok := cur[id]
			if !ok {
				t.Fatalf("book %s disappeared at tick %d", id, tick)
			}
			if n := sideDiff(t, before.MarketA, after.MarketA); n > 1 {
				t.Fatalf("marketA: %d levels shifted in one tick", n)
			}
			if n := sideDiff(t, before.MarketB, after.MarketB); n > 1 {
				t.Fatalf("marketB: %d levels shifted in one tick", n)
			}
			assertBestDerived(t, after.MarketA)
			assertBestDerived(t, after.MarketB)
		}
		prev = cur
	}
}
