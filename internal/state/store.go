// Package state holds the authoritative in-memory snapshot of everything
// the relay knows: node health, per-node order books, market statuses and
// the discovered market total.
//
// The store is single-writer. It is owned by the aggregation engine
// goroutine and must only be touched from there; readers get copies, never
// store-owned memory. Because all access is serialized by the engine loop
// there are no locks here.
package state

import (
	"time"

	"MarketWatch/internal/event"
)

// BookKey identifies an order-book snapshot: one market event as seen by
// one node.
type BookKey struct {
	NodeID  string
	EventID string
}

// Store is the snapshot store. Three independent namespaces plus the
// totals singleton. Iteration order is insertion order within each
// namespace, which cold-start replay relies on for stable output.
type Store struct {
	health      map[string]*event.NodeHealth
	healthOrder []string

	books     map[BookKey]*event.OrderBook
	bookOrder []BookKey

	statuses    map[string]*event.StatusRecord
	statusOrder []string

	totalMarkets int
	totalsKnown  bool
}

func NewStore() *Store {
	return &Store{
		health:   make(map[string]*event.NodeHealth),
		books:    make(map[BookKey]*event.OrderBook),
		statuses: make(map[string]*event.StatusRecord),
	}
}

// UpsertHealth replaces the record for h.NodeID and stamps it with now.
// First write for a node appends it to the iteration order.
func (s *Store) UpsertHealth(h event.NodeHealth, now time.Time) {
	h.LastUpdate = now
	if _, ok := s.health[h.NodeID]; !ok {
		s.healthOrder = append(s.healthOrder, h.NodeID)
	}
	s.health[h.NodeID] = &h
}

// Health returns a copy of the record for nodeID.
func (s *Store) Health(nodeID string) (event.NodeHealth, bool) {
	h, ok := s.health[nodeID]
	if !ok {
		return event.NodeHealth{}, false
	}
	return *h, true
}

// Healths returns copies of all health records in insertion order.
func (s *Store) Healths() []event.NodeHealth {
	out := make([]event.NodeHealth, 0, len(s.healthOrder))
	for _, id := range s.healthOrder {
		if h, ok := s.health[id]; ok {
			out = append(out, *h)
		}
	}
	return out
}

// UpsertBook replaces the snapshot for b's (node, market) pair and stamps
// it with now.
func (s *Store) UpsertBook(b event.OrderBook, now time.Time) {
	b.LastUpdate = now
	key := BookKey{NodeID: b.NodeID, EventID: b.EventID}
	if _, ok := s.books[key]; !ok {
		s.bookOrder = append(s.bookOrder, key)
	}
	s.books[key] = &b
}

// Book returns a deep copy of the snapshot for key.
func (s *Store) Book(key BookKey) (event.OrderBook, bool) {
	b, ok := s.books[key]
	if !ok {
		return event.OrderBook{}, false
	}
	return b.Clone(), true
}

// BooksByNode returns deep copies of all books grouped by node. Nodes
// appear in the order they first reported a book; within a node, books
// keep insertion order.
func (s *Store) BooksByNode() []event.OrderBook {
	var nodeOrder []string
	byNode := make(map[string][]event.OrderBook)
	for _, key := range s.bookOrder {
		b, ok := s.books[key]
		if !ok {
			continue
		}
		if _, seen := byNode[key.NodeID]; !seen {
			nodeOrder = append(nodeOrder, key.NodeID)
		}
		byNode[key.NodeID] = append(byNode[key.NodeID], b.Clone())
	}
	out := make([]event.OrderBook, 0, len(s.bookOrder))
	for _, node := range nodeOrder {
		out = append(out, byNode[node]...)
	}
	return out
}

// RemoveMarket deletes the market's book from every node's namespace and
// returns how many entries were removed. Unknown markets are a no-op.
func (s *Store) RemoveMarket(eventID string) int {
	removed := 0
	for key := range s.books {
		if key.EventID == eventID {
			delete(s.books, key)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	kept := s.bookOrder[:0]
	for _, key := range s.bookOrder {
		if key.EventID != eventID {
			kept = append(kept, key)
		}
	}
	s.bookOrder = kept
	return removed
}

// UpsertStatus records the latest status for a market event. Records are
// retained across terminal transitions for audit.
func (s *Store) UpsertStatus(eventID string, status event.MarketStatus, now time.Time) {
	if _, ok := s.statuses[eventID]; !ok {
		s.statusOrder = append(s.statusOrder, eventID)
	}
	s.statuses[eventID] = &event.StatusRecord{
		EventID:    eventID,
		Status:     status,
		LastUpdate: now,
	}
}

// Status returns a copy of the latest status record for eventID.
func (s *Store) Status(eventID string) (event.StatusRecord, bool) {
	r, ok := s.statuses[eventID]
	if !ok {
		return event.StatusRecord{}, false
	}
	return *r, true
}

// SetTotalMarkets replaces the discovered market total wholesale.
func (s *Store) SetTotalMarkets(n int) {
	s.totalMarkets = n
	s.totalsKnown = true
}

// TotalMarkets returns the discovered market total, if any discovery
// event has been seen.
func (s *Store) TotalMarkets() (int, bool) {
	return s.totalMarkets, s.totalsKnown
}

// Counts returns entity counts per namespace.
func (s *Store) Counts() (healthRecords, books, statuses int) {
	return len(s.health), len(s.books), len(s.statuses)
}
