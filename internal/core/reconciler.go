package core

import (
	"time"

	"MarketWatch/internal/event"
	"MarketWatch/internal/state"
)

// Reconciler applies market status transitions to the snapshot store.
// Market status is a system-wide fact while order books are node-scoped
// replicas, so a terminal status evicts the market's book from every
// node's namespace regardless of which node reported it.
type Reconciler struct {
	store *state.Store
}

func NewReconciler(store *state.Store) *Reconciler {
	return &Reconciler{store: store}
}

// ApplyStatus records the status and, if terminal, evicts the market's
// order books everywhere. Returns how many book entries were removed.
// Unknown markets remove nothing; the status is still recorded.
func (r *Reconciler) ApplyStatus(ev event.StatusUpdate, now time.Time) int {
	removed := 0
	if ev.Status.Terminal() {
		removed = r.store.RemoveMarket(ev.EventID)
	}
	r.store.UpsertStatus(ev.EventID, ev.Status, now)
	return removed
}
