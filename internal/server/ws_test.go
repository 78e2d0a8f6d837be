package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"MarketWatch/internal/core"
	"MarketWatch/internal/event"
	"MarketWatch/internal/fanout"
	"MarketWatch/internal/ingestion"
	"MarketWatch/internal/server"
	"MarketWatch/internal/state"
)

func startEngine(t *testing.T) (*core.Engine, chan ingestion.Message) {
	t.Helper()
	store := state.NewStore()
	dispatcher := fanout.NewDispatcher(zerolog.Nop(), nil)
	msgCh := make(chan ingestion.Message, 64)
	engine := core.NewEngine(store, dispatcher, msgCh, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return engine, msgCh
}

func healthMessage(t *testing.T, nodeID string, cpu float64) ingestion.Message {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"cpuUsagePercent":    cpu,
		"memoryUsagePercent": 50.0,
		"activeMarkets":      1,
		"cpuCores":           4,
		"loadAverage":        0.5,
		"freeDiskSpaceMB":    8192.0,
		"isHealthy":          true,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.Message{Subject: "metrics." + nodeID, Data: data, Received: time.Now()}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) event.Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event.Outbound
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return ev
}

func TestWebSocketObserverReplayThenLive(t *testing.T) {
	engine, msgCh := startEngine(t)

	// barrier observer so we know the seed message is applied
	barrier := fanout.NewChannelObserver(8)
	engine.Attach(barrier)
	msgCh <- healthMessage(t, "10.0.0.1", 42)
	select {
	case <-barrier.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("seed message not processed")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.ServeWS(engine, zerolog.Nop(), w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	replay := readEnvelope(t, conn)
	if replay.Type != event.OutboundHealthUpdate || replay.NodeID != "10.0.0.1" {
		t.Fatalf("replay: got %s/%s", replay.Type, replay.NodeID)
	}
	if replay.Health == nil || replay.Health.CPUUsagePercent != 42 {
		t.Error("replay payload missing health record")
	}

	msgCh <- healthMessage(t, "10.0.0.2", 77)
	live := readEnvelope(t, conn)
	if live.Type != event.OutboundHealthUpdate || live.NodeID != "10.0.0.2" {
		t.Fatalf("live: got %s/%s", live.Type, live.NodeID)
	}
}

func TestWebSocketClientDisconnectDetaches(t *testing.T) {
	engine, msgCh := startEngine(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.ServeWS(engine, zerolog.Nop(), w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	// remaining observers still receive broadcasts after the disconnect
	survivor := fanout.NewChannelObserver(8)
	engine.Attach(survivor)
	msgCh <- healthMessage(t, "10.0.0.9", 12)

	select {
	case ev := <-survivor.Events():
		if ev.Type != event.OutboundHealthUpdate {
			t.Errorf("got %s", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not reach surviving observer")
	}
}
