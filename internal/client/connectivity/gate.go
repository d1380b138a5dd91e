// Package connectivity holds sync requests back while the server is
// unreachable and replays them in order once it answers again.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/metrics"
)

const DefaultQueueSize = 100

// Trigger is a request to run sync work. SyncID is empty for a full pass.
type Trigger struct {
	Reason string
	SyncID string
	At     time.Time
}

type DispatchFunc func(ctx context.Context, t Trigger)

// Gate forwards triggers to its dispatch function while online. Offline
// triggers wait in a bounded queue; when it is full the oldest is dropped.
type Gate struct {
	dispatch DispatchFunc
	size     int
	logger   logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	online    bool
	replaying bool
	queue     []Trigger
	dropped   int
}

// NewGate returns a gate that starts offline.
func NewGate(dispatch DispatchFunc, size int, logger logging.Logger) *Gate {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Gate{
		dispatch: dispatch,
		size:     size,
		logger:   logger.With("module", "connectivity"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gate) Submit(ctx context.Context, t Trigger) {
	if t.At.IsZero() {
		t.At = g.now()
	}
	g.mu.Lock()
	if g.online && !g.replaying && len(g.queue) == 0 {
		g.mu.Unlock()
		g.dispatch(ctx, t)
		return
	}
	if len(g.queue) >= g.size {
		g.logger.Warn(ctx, "offline queue full, dropping oldest request", "reason", g.queue[0].Reason, "sync_id", g.queue[0].SyncID)
		g.queue = g.queue[1:]
		g.dropped++
	}
	g.queue = append(g.queue, t)
	metrics.OfflineQueueDepth.Set(float64(len(g.queue)))
	g.mu.Unlock()
}

// SetOnline records the connection state. Going online replays queued
// triggers in submission order; triggers submitted during the replay are
// queued behind it.
func (g *Gate) SetOnline(ctx context.Context, online bool) {
	g.mu.Lock()
	if g.online == online {
		g.mu.Unlock()
		return
	}
	g.online = online
	if !online || g.replaying {
		g.mu.Unlock()
		g.logger.Info(ctx, "connection state changed", "online", online)
		return
	}
	g.replaying = true
	g.logger.Info(ctx, "connection state changed", "online", true, "queued", len(g.queue))

	for g.online && len(g.queue) > 0 {
		t := g.queue[0]
		g.queue = g.queue[1:]
		metrics.OfflineQueueDepth.Set(float64(len(g.queue)))
		g.mu.Unlock()
		g.dispatch(ctx, t)
		g.mu.Lock()
	}
	g.replaying = false
	g.mu.Unlock()
}

func (g *Gate) Online() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online
}

// Pending returns a copy of the queued triggers, oldest first.
func (g *Gate) Pending() []Trigger {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Trigger(nil), g.queue...)
}

// Dropped returns how many triggers were discarded because the queue was
// full.
func (g *Gate) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
