package event

import "time"

// OutboundKind is the wire discriminator for fan-out events. The same
// envelope is delivered to every observer regardless of transport.
type OutboundKind string

const (
	OutboundHealthUpdate    OutboundKind = "health_update"
	OutboundOrderBookUpdate OutboundKind = "orderbook_update"
	OutboundMarketRemoved   OutboundKind = "market_removed"
	OutboundMarketDiscovery OutboundKind = "market_discovery"
)

// Outbound is the normalized fan-out envelope. Payload pointers reference
// copies made at build time; observers never see store-owned memory.
type Outbound struct {
	Type         OutboundKind `json:"type"`
	NodeID       string       `json:"nodeId,omitempty"`
	EventID      string       `json:"eventId,omitempty"`
	Health       *NodeHealth  `json:"health,omitempty"`
	MarketA      *Side        `json:"marketA,omitempty"`
	MarketB      *Side        `json:"marketB,omitempty"`
	Status       MarketStatus `json:"status,omitempty"`
	TotalMarkets *int         `json:"totalMarkets,omitempty"`
	Timestamp    int64        `json:"timestamp"` // unix milliseconds
}

// NewHealthOutbound builds a health_update envelope from a copied record.
func NewHealthOutbound(h NodeHealth, at time.Time) Outbound {
	return Outbound{
		Type:      OutboundHealthUpdate,
		NodeID:    h.NodeID,
		Health:    &h,
		Timestamp: at.UnixMilli(),
	}
}

// NewOrderBookOutbound builds an orderbook_update envelope. The book's
// sides are deep-copied so later store mutations cannot leak through.
func NewOrderBookOutbound(b OrderBook, at time.Time) Outbound {
	a := b.MarketA.Clone()
	m := b.MarketB.Clone()
	return Outbound{
		Type:      OutboundOrderBookUpdate,
		EventID:   b.EventID,
		NodeID:    b.NodeID,
		MarketA:   &a,
		MarketB:   &m,
		Timestamp: at.UnixMilli(),
	}
}

// NewMarketRemovedOutbound builds a market_removed envelope for a terminal
// status transition.
func NewMarketRemovedOutbound(eventID string, status MarketStatus, at time.Time) Outbound {
	return Outbound{
		Type:      OutboundMarketRemoved,
		EventID:   eventID,
		Status:    status,
		Timestamp: at.UnixMilli(),
	}
}

// NewDiscoveryOutbound builds a market_discovery envelope.
func NewDiscoveryOutbound(totalMarkets int, at time.Time) Outbound {
	return Outbound{
		Type:         OutboundMarketDiscovery,
		TotalMarkets: &totalMarkets,
		Timestamp:    at.UnixMilli(),
	}
}
