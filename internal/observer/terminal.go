// Package observer contains the built-in text-rendering sink. It consumes
// the same fan-out envelopes the WebSocket clients receive and writes
// one-line summaries; all formatting decisions, including the master/worker
// role guess, live here and never in the aggregation core.
package observer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"MarketWatch/internal/event"
	"MarketWatch/internal/fanout"
)

const (
	terminalQueueDepth = 256

	// staleAfter flags health records whose last update is older than
	// this; staleness is inferred, never enforced by deletion.
	staleAfter = 30 * time.Second
)

// Terminal renders fan-out events as text lines.
type Terminal struct {
	*fanout.ChannelObserver
	out io.Writer
	log zerolog.Logger
}

func NewTerminal(out io.Writer, log zerolog.Logger) *Terminal {
	return &Terminal{
		ChannelObserver: fanout.NewChannelObserver(terminalQueueDepth),
		out:             out,
		log:             log,
	}
}

// Run drains the observer queue until it is closed or ctx is cancelled.
func (t *Terminal) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				t.log.Info().Msg("terminal observer detached")
				return
			}
			t.render(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Terminal) render(ev event.Outbound) {
	switch ev.Type {
	case event.OutboundHealthUpdate:
		h := ev.Health
		if h == nil {
			return
		}
		state := "healthy"
		if !h.Healthy {
			state = "UNHEALTHY"
		}
		if time.Since(h.LastUpdate) > staleAfter {
			state += " (stale)"
		}
		fmt.Fprintf(t.out, "[%s %s] cpu=%.1f%% mem=%.1f%% load=%.2f markets=%d disk=%.0fMB %s\n",
			nodeRole(h.NodeID), h.NodeID, h.CPUUsagePercent, h.MemoryUsagePercent,
			h.LoadAverage, h.ActiveMarkets, h.FreeDiskSpaceMB, state)

	case event.OutboundOrderBookUpdate:
		if ev.MarketA == nil || ev.MarketB == nil {
			return
		}
		fmt.Fprintf(t.out, "[book %s@%s] %s %s/%s | %s %s/%s\n",
			ev.EventID, ev.NodeID,
			ev.MarketA.MarketID, ev.MarketA.BestBid, ev.MarketA.BestAsk,
			ev.MarketB.MarketID, ev.MarketB.BestBid, ev.MarketB.BestAsk)

	case event.OutboundMarketRemoved:
		fmt.Fprintf(t.out, "[market %s] removed (%s)\n", ev.EventID, ev.Status)

	case event.OutboundMarketDiscovery:
		if ev.TotalMarkets != nil {
			fmt.Fprintf(t.out, "[discovery] %d markets\n", *ev.TotalMarkets)
		}
	}
}

// nodeRole guesses master/worker from the node address. Display concern
// only; the core is agnostic about node roles.
func nodeRole(nodeID string) string {
	if strings.Contains(nodeID, "master") {
		return "master"
	}
	return "worker"
}
