package ingestion_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"MarketWatch/internal/event"
	"MarketWatch/internal/ingestion"
)

func msgFromJSON(t *testing.T, subject string, v interface{}) ingestion.Message {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.Message{Subject: subject, Data: data, Received: time.Now()}
}

func healthPayload() map[string]interface{} {
	return map[string]interface{}{
		"cpuUsagePercent":    55.5,
		"memoryUsagePercent": 61.0,
		"activeMarkets":      4,
		"cpuCores":           16,
		"loadAverage":        2.4,
		"freeDiskSpaceMB":    10240.0,
		"isHealthy":          true,
	}
}

func TestRouteHealthUpdate(t *testing.T) {
	msg := msgFromJSON(t, "metrics.10.0.0.1", healthPayload())

	in, err := ingestion.Route(msg)
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	hu, ok := in.(event.HealthUpdate)
	if !ok {
		t.Fatalf("expected HealthUpdate, got %T", in)
	}
	if hu.NodeID != "10.0.0.1" {
		t.Errorf("node id from subject: got %s, want 10.0.0.1", hu.NodeID)
	}
	if hu.Health.CPUUsagePercent != 55.5 {
		t.Errorf("cpu: got %v, want 55.5", hu.Health.CPUUsagePercent)
	}
	if !hu.Health.Healthy {
		t.Error("isHealthy not carried over")
	}
	if hu.Kind() != event.KindHealthUpdate {
		t.Errorf("kind: got %v", hu.Kind())
	}
}

func TestRouteHealthNodeIDMayContainDots(t *testing.T) {
	msg := msgFromJSON(t, "metrics.192.168.4.21", healthPayload())
	in, err := ingestion.Route(msg)
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if got := in.(event.HealthUpdate).NodeID; got != "192.168.4.21" {
		t.Errorf("node id: got %s, want 192.168.4.21", got)
	}
}

func TestRouteOrderBookUpdate(t *testing.T) {
	msg := msgFromJSON(t, "orderbooks", map[string]interface{}{
		"eventId": "E1",
		"nodeId":  "10.0.0.1",
		"marketA": map[string]interface{}{
			"marketId": "M-A",
			"bids": []map[string]interface{}{
				{"price": 101, "quantity": 5, "orderCount": 2},
			},
			"asks": []map[string]interface{}{
				{"price": 102, "quantity": 3, "orderCount": 1},
			},
			"bestBid":     101,
			"bestAsk":     102,
			"totalOrders": 3,
		},
		"marketB": map[string]interface{}{"marketId": "M-B"},
	})

	in, err := ingestion.Route(msg)
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	ob, ok := in.(event.OrderBookUpdate)
	if !ok {
		t.Fatalf("expected OrderBookUpdate, got %T", in)
	}
	if ob.Book.EventID != "E1" || ob.Book.NodeID != "10.0.0.1" {
		t.Errorf("keys from payload: got (%s,%s)", ob.Book.EventID, ob.Book.NodeID)
	}
	if len(ob.Book.MarketA.Bids) != 1 || ob.Book.MarketA.Bids[0].OrderCount != 2 {
		t.Errorf("marketA bids not parsed: %+v", ob.Book.MarketA.Bids)
	}
	if !ob.Book.MarketA.BestBid.Equal(ob.Book.MarketA.Bids[0].Price) {
		t.Error("bestBid does not match top bid")
	}
}

func TestRouteStatusUpdate(t *testing.T) {
	msg := msgFromJSON(t, "market_status.E7", map[string]interface{}{"status": "CLOSED"})
	in, err := ingestion.Route(msg)
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	su := in.(event.StatusUpdate)
	if su.EventID != "E7" {
		t.Errorf("event id from subject: got %s", su.EventID)
	}
	if !su.Status.Terminal() {
		t.Error("CLOSED must be terminal")
	}
}

func TestRouteNonTerminalStatus(t *testing.T) {
	msg := msgFromJSON(t, "market_status.E7", map[string]interface{}{"status": "TRADING"})
	in, err := ingestion.Route(msg)
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if in.(event.StatusUpdate).Status.Terminal() {
		t.Error("TRADING must not be terminal")
	}
}

func TestRouteDiscovery(t *testing.T) {
	msg := msgFromJSON(t, "market_discovery", map[string]interface{}{"totalMarkets": 42})
	in, err := ingestion.Route(msg)
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if got := in.(event.Discovery).TotalMarkets; got != 42 {
		t.Errorf("totalMarkets: got %d, want 42", got)
	}
}

func TestRouteUnknownSubject(t *testing.T) {
	msg := ingestion.Message{Subject: "trades.BTC", Data: []byte(`{}`)}
	_, err := ingestion.Route(msg)
	if !errors.Is(err, ingestion.ErrUnknownSubject) {
		t.Errorf("expected ErrUnknownSubject, got %v", err)
	}
}

func TestRouteMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		data    string
	}{
		{"health not json", "metrics.n1", `{"cpuUsagePercent": `},
		{"health missing required", "metrics.n1", `{"loadAverage": 1.0}`},
		{"health empty node id", "metrics.", `{}`},
		{"orderbook missing eventId", "orderbooks", `{"nodeId":"n1"}`},
		{"orderbook missing nodeId", "orderbooks", `{"eventId":"E1"}`},
		{"orderbook not object", "orderbooks", `[1,2,3]`},
		{"status missing status", "market_status.E1", `{}`},
		{"status not json", "market_status.E1", `garbage`},
		{"discovery missing total", "market_discovery", `{}`},
		{"discovery negative total", "market_discovery", `{"totalMarkets":-3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.Route(ingestion.Message{Subject: tc.subject, Data: []byte(tc.data)})
			if err == nil {
				t.Fatal("expected malformed-payload error")
			}
			if errors.Is(err, ingestion.ErrUnknownSubject) {
				t.Fatal("malformed payload misclassified as unknown subject")
			}
		})
	}
}
