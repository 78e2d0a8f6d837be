package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"MarketWatch/internal/event"
)

// Subject families. Health and status carry the entity key as the subject
// remainder after the family prefix; order books embed their keys in the
// payload instead.
const (
	SubjectHealthPrefix = "metrics."
	SubjectStatusPrefix = "market_status."
	SubjectOrderBooks   = "orderbooks"
	SubjectDiscovery    = "market_discovery"
)

// ErrUnknownSubject marks messages outside the relay's subject families.
// These are dropped silently; they are not malformed traffic.
var ErrUnknownSubject = errors.New("unknown subject")

// Route maps a raw bus message to a typed inbound event. Any other error
// than ErrUnknownSubject means the payload is malformed: the caller drops
// the event, logs it, and keeps the stream running.
func Route(msg Message) (event.Inbound, error) {
	switch {
	case msg.Subject == SubjectOrderBooks:
		return parseOrderBook(msg.Data)
	case msg.Subject == SubjectDiscovery:
		return parseDiscovery(msg.Data)
	case strings.HasPrefix(msg.Subject, SubjectHealthPrefix):
		nodeID := strings.TrimPrefix(msg.Subject, SubjectHealthPrefix)
		if nodeID == "" {
			return nil, fmt.Errorf("subject %q: empty node id", msg.Subject)
		}
		return parseHealth(nodeID, msg.Data)
	case strings.HasPrefix(msg.Subject, SubjectStatusPrefix):
		eventID := strings.TrimPrefix(msg.Subject, SubjectStatusPrefix)
		if eventID == "" {
			return nil, fmt.Errorf("subject %q: empty market event id", msg.Subject)
		}
		return parseStatus(eventID, msg.Data)
	default:
		return nil, ErrUnknownSubject
	}
}

// --- JSON wire formats ---
// Required fields use pointers so absence is rejected instead of silently
// defaulting to zero.

type healthJSON struct {
	CPUUsagePercent    *float64 `json:"cpuUsagePercent"`
	MemoryUsagePercent *float64 `json:"memoryUsagePercent"`
	ActiveMarkets      int      `json:"activeMarkets"`
	CPUCores           int      `json:"cpuCores"`
	LoadAverage        float64  `json:"loadAverage"`
	FreeDiskSpaceMB    float64  `json:"freeDiskSpaceMB"`
	IsHealthy          *bool    `json:"isHealthy"`
}

func parseHealth(nodeID string, data []byte) (event.HealthUpdate, error) {
	var j healthJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.HealthUpdate{}, fmt.Errorf("parse HealthUpdate: %w", err)
	}
	if j.CPUUsagePercent == nil || j.MemoryUsagePercent == nil || j.IsHealthy == nil {
		return event.HealthUpdate{}, fmt.Errorf("parse HealthUpdate: missing required field")
	}
	return event.HealthUpdate{
		NodeID: nodeID,
		Health: event.NodeHealth{
			NodeID:             nodeID,
			CPUUsagePercent:    *j.CPUUsagePercent,
			MemoryUsagePercent: *j.MemoryUsagePercent,
			ActiveMarkets:      j.ActiveMarkets,
			CPUCores:           j.CPUCores,
			LoadAverage:        j.LoadAverage,
			FreeDiskSpaceMB:    j.FreeDiskSpaceMB,
			Healthy:            *j.IsHealthy,
		},
	}, nil
}

type orderBookJSON struct {
	EventID string     `json:"eventId"`
	NodeID  string     `json:"nodeId"`
	MarketA event.Side `json:"marketA"`
	MarketB event.Side `json:"marketB"`
}

func parseOrderBook(data []byte) (event.OrderBookUpdate, error) {
	var j orderBookJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.OrderBookUpdate{}, fmt.Errorf("parse OrderBookUpdate: %w", err)
	}
	if j.EventID == "" {
		return event.OrderBookUpdate{}, fmt.Errorf("parse OrderBookUpdate: missing eventId")
	}
	if j.NodeID == "" {
		return event.OrderBookUpdate{}, fmt.Errorf("parse OrderBookUpdate: missing nodeId")
	}
	return event.OrderBookUpdate{
		Book: event.OrderBook{
			EventID: j.EventID,
			NodeID:  j.NodeID,
			MarketA: j.MarketA,
			MarketB: j.MarketB,
		},
	}, nil
}

type statusJSON struct {
	Status string `json:"status"`
}

func parseStatus(eventID string, data []byte) (event.StatusUpdate, error) {
	var j statusJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.StatusUpdate{}, fmt.Errorf("parse StatusUpdate: %w", err)
	}
	if j.Status == "" {
		return event.StatusUpdate{}, fmt.Errorf("parse StatusUpdate: missing status")
	}
	return event.StatusUpdate{
		EventID: eventID,
		Status:  event.MarketStatus(j.Status),
	}, nil
}

type discoveryJSON struct {
	TotalMarkets *int `json:"totalMarkets"`
}

func parseDiscovery(data []byte) (event.Discovery, error) {
	var j discoveryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.Discovery{}, fmt.Errorf("parse Discovery: %w", err)
	}
	if j.TotalMarkets == nil || *j.TotalMarkets < 0 {
		return event.Discovery{}, fmt.Errorf("parse Discovery: missing or negative totalMarkets")
	}
	return event.Discovery{TotalMarkets: *j.TotalMarkets}, nil
}
