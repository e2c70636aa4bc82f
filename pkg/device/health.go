package device

import (
	"context"
	"log"
	"sync"
	"time"
)

// defaultHealthInterval paces the reachability loop. 12s keeps the "device
// unplugged" discovery latency tolerable without waking the battery-powered
// hotspot more than necessary.
const defaultHealthInterval = 12 * time.Second

// Monitor is the background reachability loop. Started on successful
// discovery, it sleeps first (the device was just verified), then pings the
// session's client whenever the session is idle. It must never ping during
// a transfer: the firmware cannot reliably serve a lightweight probe and a
// multipart upload at once, so a busy session skips the cycle entirely.
//
// On a failed ping the monitor marks the session disconnected and
// terminates; reconnecting requires a fresh discovery sweep.
type Monitor struct {
	session  *Session
	interval time.Duration
	logger   *log.Logger

	// mu guards cancel and done: discovery sweeps are coalesced, but both
	// callers still reach Start and must not race into two loops.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// onDisconnect, when set, is notified after the session has been
	// marked disconnected.
	onDisconnect func()
}

// NewMonitor creates a Monitor bound to session.
func NewMonitor(session *Session, logger *log.Logger) *Monitor {
	return &Monitor{
		session:  session,
		interval: defaultHealthInterval,
		logger:   logger,
	}
}

// OnDisconnect registers a callback invoked when a ping fails. Must be set
// before Start.
func (m *Monitor) OnDisconnect(fn func()) {
	m.onDisconnect = fn
}

// Start launches the monitor loop. A second Start while running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		select {
		case <-m.done:
		default:
			return
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx)
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		// Sleep first: discovery verified the device moments ago.
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !m.session.Connected() {
			m.logger.Printf("[Health] Session no longer connected, stopping monitor")
			return
		}
		if m.session.Busy() {
			// A transfer, delete or listing is in flight. Skip this cycle
			// without pinging.
			continue
		}

		client, err := m.session.Client()
		if err != nil {
			return
		}

		if !client.CheckReachability(ctx) {
			if ctx.Err() != nil {
				return
			}
			m.logger.Printf("[Health] Ping failed for %s, marking disconnected", client.Label())
			m.session.MarkDisconnected()
			if m.onDisconnect != nil {
				m.onDisconnect()
			}
			return
		}
	}
}
