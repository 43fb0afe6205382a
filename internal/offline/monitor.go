package offline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/offlinehq/crmsync/internal/bus"
	"go.uber.org/zap"
)

// Pinger probes whether the remote API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor tracks connectivity by probing the remote API on an interval.
// Transition edges are published on the bus; the offline-to-online edge
// invokes the onOnline callback so queued mutations drain immediately.
type Monitor struct {
	pinger   Pinger
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	onOnline func()

	online atomic.Bool
	cancel context.CancelFunc
}

// NewMonitor creates a connectivity monitor. onOnline may be nil.
func NewMonitor(pinger Pinger, b *bus.Bus, logger *zap.Logger, interval time.Duration, onOnline func()) *Monitor {
	return &Monitor{
		pinger:   pinger,
		bus:      b,
		logger:   logger,
		interval: interval,
		onOnline: onOnline,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Start probes once immediately, then keeps probing on the interval.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.probe(ctx)
	go m.loop(ctx)
}

// Stop stops the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.pinger.Ping(ctx)
	now := err == nil
	was := m.online.Swap(now)
	if was == now {
		return
	}

	if now {
		m.logger.Info("connectivity restored")
		m.publish(bus.KindNetOnline)
		if m.onOnline != nil {
			m.onOnline()
		}
	} else {
		m.logger.Warn("connectivity lost", zap.Error(err))
		m.publish(bus.KindNetOffline)
	}
}

func (m *Monitor) publish(kind string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
}
