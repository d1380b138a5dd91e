package connectivity

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docsync/internal/logging"
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the server on an interval and drives a Gate.
type Monitor struct {
	pinger   Pinger
	gate     *Gate
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger
}

func NewMonitor(p Pinger, g *Gate, interval time.Duration, logger logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		pinger:   p,
		gate:     g,
		interval: interval,
		timeout:  DefaultProbeTimeout,
		logger:   logger.With("module", "connectivity"),
	}
}

// Check probes once and updates the gate.
func (m *Monitor) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pctx)
	cancel()
	if err != nil && ctx.Err() != nil {
		return m.gate.Online()
	}
	if err != nil {
		m.logger.Debug(ctx, "server unreachable", "error", err)
	}
	m.gate.SetOnline(ctx, err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
