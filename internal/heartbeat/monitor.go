package heartbeat

import (
	"context"
	"sync"
	"time"

	"CapIot.gateway/internal/models"
)

// DeviceLister exposes the registry's current device snapshots.
type DeviceLister interface {
	List() []models.Device
}

// EvictFunc is called for each device whose silence exceeded the timeout.
// The callee re-checks staleness atomically before removing the record, so a
// heartbeat racing the sweep is never lost.
type EvictFunc func(deviceID string, timeout time.Duration)

// Monitor sweeps the registry and declares devices unreachable once nothing
// has been heard from them for the configured timeout. lastSeen values come
// from time.Now and carry a monotonic reading, so elapsed-time comparison is
// immune to wall-clock adjustments.
type Monitor struct {
	lister   DeviceLister
	evict    EvictFunc
	timeout  time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewMonitor creates a monitor. timeout should exceed the devices' nominal
// heartbeat period by a safety margin (the default config uses 3x). interval
// bounds detection latency for every device, stale or not.
func NewMonitor(lister DeviceLister, evict EvictFunc, timeout, interval time.Duration) *Monitor {
	return &Monitor{
		lister:   lister,
		evict:    evict,
		timeout:  timeout,
		interval: interval,
	}
}

// Start launches the sweep loop in its own goroutine.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep checks every device once. Eviction of one device never delays the
// check for another beyond the cost of the eviction callback itself.
func (m *Monitor) Sweep() {
	now := time.Now()
	for _, dev := range m.lister.List() {
		if now.Sub(dev.LastSeen) >= m.timeout {
			m.evict(dev.DeviceID, m.timeout)
		}
	}
}
