package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func startTestMonitor(t *testing.T, session *Session) (*Monitor, chan struct{}) {
	t.Helper()
	m := NewMonitor(session, testLogger())
	m.interval = 10 * time.Millisecond

	disconnected := make(chan struct{})
	m.OnDisconnect(func() { close(disconnected) })
	return m, disconnected
}

func TestMonitor_FailedPingDisconnects(t *testing.T) {
	session := NewSession()
	session.Attach(&stubClient{reachable: func() bool { return false }}, "Stub firmware")

	m, disconnected := startTestMonitor(t, session)
	m.Start(context.Background())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("monitor never reported the lost device")
	}
	assert.False(t, session.Connected())

	// The loop terminated on its own; Stop must return promptly.
	m.Stop()
}

func TestMonitor_HealthyDeviceStaysConnected(t *testing.T) {
	session := NewSession()
	session.Attach(&stubClient{reachable: func() bool { return true }}, "Stub firmware")

	m, disconnected := startTestMonitor(t, session)
	m.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	m.Stop()

	select {
	case <-disconnected:
		t.Fatal("healthy device must not be disconnected")
	default:
	}
	assert.True(t, session.Connected())
}

func TestMonitor_BusySessionSkipsPing(t *testing.T) {
	session := NewSession()
	// Unreachable, but the session is mid-operation: the monitor must not
	// probe at all.
	session.Attach(&stubClient{reachable: func() bool { return false }}, "Stub firmware")
	session.BeginOp()

	m, disconnected := startTestMonitor(t, session)
	m.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	m.Stop()

	select {
	case <-disconnected:
		t.Fatal("busy session must never be pinged")
	default:
	}
	assert.True(t, session.Connected())
}

func TestMonitor_ConcurrentStartsRunOneLoop(t *testing.T) {
	session := NewSession()
	session.Attach(&stubClient{reachable: func() bool { return true }}, "Stub firmware")

	m, _ := startTestMonitor(t, session)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start(context.Background())
		}()
	}
	wg.Wait()

	// Every Start after the first is a no-op: the loop handle is unchanged,
	// so Stop tears down everything that was started.
	first := m.done
	m.Start(context.Background())
	assert.Equal(t, first, m.done)

	m.Stop()
	select {
	case <-m.done:
	default:
		t.Fatal("monitor loop still running after Stop")
	}
}

func TestMonitor_RestartAfterStop(t *testing.T) {
	session := NewSession()
	session.Attach(&stubClient{reachable: func() bool { return true }}, "Stub firmware")

	m, _ := startTestMonitor(t, session)
	m.Start(context.Background())
	m.Stop()

	// A fresh discovery restarts the monitor on a new loop.
	m.Start(context.Background())
	assert.True(t, session.Connected())
	m.Stop()
}

func TestMonitor_StopsWhenSessionGone(t *testing.T) {
	session := NewSession()
	session.Attach(&stubClient{reachable: func() bool { return true }}, "Stub firmware")

	m, disconnected := startTestMonitor(t, session)
	m.Start(context.Background())

	session.MarkDisconnected()
	time.Sleep(40 * time.Millisecond)

	select {
	case <-disconnected:
		t.Fatal("an externally cleared session is not a failed ping")
	default:
	}
	m.Stop()
}
