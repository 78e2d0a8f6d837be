package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminator for routed inbound events
type Kind int32

const (
	KindUnknown Kind = iota
	KindHealthUpdate
	KindOrderBookUpdate
	KindStatusUpdate
	KindDiscovery
)

func (k Kind) String() string {
	switch k {
	case KindHealthUpdate:
		return "HealthUpdate"
	case KindOrderBookUpdate:
		return "OrderBookUpdate"
	case KindStatusUpdate:
		return "StatusUpdate"
	case KindDiscovery:
		return "Discovery"
	default:
		return "Unknown"
	}
}

// Inbound is the interface all routed bus events implement.
type Inbound interface {
	// Kind returns the discriminator
	Kind() Kind

	// EntityKey returns the snapshot key the event targets
	// (empty for global events such as discovery)
	EntityKey() string
}

// MarketStatus is the lifecycle status string reported for a market event.
// Any value outside the terminal set leaves order-book data intact.
type MarketStatus string

const (
	StatusClosed  MarketStatus = "CLOSED"
	StatusCleared MarketStatus = "CLEARED"
)

// Terminal reports whether order-book data for the market is no longer
// meaningful and must be evicted.
func (s MarketStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCleared
}

// NodeHealth is the latest known health record for one node.
// At most one live record per node; each update replaces the prior record
// wholesale and refreshes LastUpdate to the mutation time.
type NodeHealth struct {
	NodeID             string    `json:"nodeId"`
	CPUUsagePercent    float64   `json:"cpuUsagePercent"`
	MemoryUsagePercent float64   `json:"memoryUsagePercent"`
	ActiveMarkets      int       `json:"activeMarkets"`
	CPUCores           int       `json:"cpuCores"`
	LoadAverage        float64   `json:"loadAverage"`
	FreeDiskSpaceMB    float64   `json:"freeDiskSpaceMB"`
	Healthy            bool      `json:"isHealthy"`
	LastUpdate         time.Time `json:"lastUpdate"`
}

// PriceLevel is one aggregated level of an order-book side.
type PriceLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderCount int             `json:"orderCount"`
}

// Side holds one market leg of an order-book snapshot: sorted bid and ask
// levels plus derived top-of-book values. Levels within a side have
// distinct prices; BestBid/BestAsk equal the top of the respective side
// when present.
type Side struct {
	MarketID    string          `json:"marketId"`
	Bids        []PriceLevel    `json:"bids"`
	Asks        []PriceLevel    `json:"asks"`
	BestBid     decimal.Decimal `json:"bestBid"`
	BestAsk     decimal.Decimal `json:"bestAsk"`
	TotalOrders int             `json:"totalOrders"`
}

// Clone returns a deep copy; level slices are not shared.
func (s Side) Clone() Side {
	out := s
	out.Bids = append([]PriceLevel(nil), s.Bids...)
	out.Asks = append([]PriceLevel(nil), s.Asks...)
	return out
}

// OrderBook is the latest order-book snapshot reported by one node for one
// market event. Keyed by the (NodeID, EventID) pair.
type OrderBook struct {
	EventID    string    `json:"eventId"`
	NodeID     string    `json:"nodeId"`
	MarketA    Side      `json:"marketA"`
	MarketB    Side      `json:"marketB"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Clone returns a deep copy of the book.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.MarketA = b.MarketA.Clone()
	out.MarketB = b.MarketB.Clone()
	return out
}

// StatusRecord is the latest status seen for a market event. Retained even
// after a terminal status so the transition stays visible for debugging.
type StatusRecord struct {
	EventID    string       `json:"eventId"`
	Status     MarketStatus `json:"status"`
	LastUpdate time.Time    `json:"lastUpdate"`
}

// --- Inbound events produced by the topic router ---

// HealthUpdate carries a full replacement health record for one node.
// The node id comes from the subject, not the payload.
type HealthUpdate struct {
	NodeID string
	Health NodeHealth
}

func (HealthUpdate) Kind() Kind          { return KindHealthUpdate }
func (e HealthUpdate) EntityKey() string { return e.NodeID }

// OrderBookUpdate carries a full replacement order-book snapshot.
// Node and market ids are embedded in the payload.
type OrderBookUpdate struct {
	Book OrderBook
}

func (OrderBookUpdate) Kind() Kind          { return KindOrderBookUpdate }
func (e OrderBookUpdate) EntityKey() string { return e.Book.NodeID + "/" + e.Book.EventID }

// StatusUpdate carries a status transition for one market event.
type StatusUpdate struct {
	EventID string
	Status  MarketStatus
}

func (StatusUpdate) Kind() Kind          { return KindStatusUpdate }
func (e StatusUpdate) EntityKey() string { return e.EventID }

// Discovery carries the system-wide market count, replaced wholesale.
type Discovery struct {
	TotalMarkets int
}

func (Discovery) Kind() Kind        { return KindDiscovery }
func (Discovery) EntityKey() string { return "" }
