package dbn

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// multiCapture collects handler invocations across concurrent session
// workers.
type multiCapture struct {
	mu      sync.Mutex
	records []uint32
	fatals  []string
}

func (c *multiCapture) onError(m *Multi, fatal bool, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fatal {
		c.fatals = append(c.fatals, msg)
	}
}

func (c *multiCapture) onRecord(m *Multi, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec.InstrumentID)
}

func (c *multiCapture) recordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMultiFanOut(t *testing.T) {
	sink := &multiCapture{}

	m := NewMulti(sink.onError, sink.onRecord)
	m.BufferCapacity = 4096

	nextInstrument := uint32(0)
	m.Dial = func(ctx context.Context, fqdn string) (net.Conn, error) {
		nextInstrument++
		instrument := nextInstrument
		clientConn, serverConn := net.Pipe()
		go func() {
			serveSession(serverConn, nil)
			serverConn.Write(buildRecord(t, 16, RTypeMBP0, instrument, 0))
		}()
		return clientConn, nil
	}

	for i := 0; i < 3; i++ {
		if err := m.ConnectAndStart(
			context.Background(),
			"my_api_key12345", "EQUS.MINI", false,
			"mbp-1", "raw_symbol", []string{"TEST"}, "", false,
		); err != nil {
			t.Fatalf("ConnectAndStart %d failed: %v", i, err)
		}
	}

	if m.NumSessions() != 3 {
		t.Fatalf("NumSessions = %d, want 3", m.NumSessions())
	}

	waitFor(t, "full subscription", m.IsFullySubscribed)
	waitFor(t, "one record per session", func() bool { return sink.recordCount() == 3 })

	m.CloseAll()

	seen := map[uint32]bool{}
	sink.mu.Lock()
	for _, id := range sink.records {
		seen[id] = true
	}
	sink.mu.Unlock()
	for id := uint32(1); id <= 3; id++ {
		if !seen[id] {
			t.Errorf("missing record from session %d", id)
		}
	}
}

func TestMultiAuthFailureIsSynchronous(t *testing.T) {
	sink := &multiCapture{}

	m := NewMulti(sink.onError, sink.onRecord)
	m.BufferCapacity = 4096
	m.Dial = pipeDialer(func(conn net.Conn) { serveHandshake(conn, "0", nil) })

	err := m.ConnectAndStart(
		context.Background(),
		"my_api_key12345", "EQUS.MINI", false,
		"mbp-1", "raw_symbol", []string{"TEST"}, "", false,
	)
	if !errors.Is(err, ErrAuthDenied) {
		t.Fatalf("expected ErrAuthDenied, got %v", err)
	}
	if m.IsFullySubscribed() {
		t.Error("failed session must not count as subscribed")
	}

	m.CloseAll()
}

func TestMultiErroringSessionDoesNotStopPeers(t *testing.T) {
	sink := &multiCapture{}

	m := NewMulti(sink.onError, sink.onRecord)
	m.BufferCapacity = 4096

	session := 0
	var healthyServer net.Conn
	m.Dial = func(ctx context.Context, fqdn string) (net.Conn, error) {
		session++
		closing := session == 1
		clientConn, serverConn := net.Pipe()
		if !closing {
			healthyServer = serverConn
		}
		go func() {
			serveSession(serverConn, nil)
			if closing {
				serverConn.Close() // peer drops right after the preamble
			}
		}()
		return clientConn, nil
	}

	for i := 0; i < 2; i++ {
		if err := m.ConnectAndStart(
			context.Background(),
			"my_api_key12345", "EQUS.MINI", false,
			"mbp-1", "raw_symbol", []string{"TEST"}, "", false,
		); err != nil {
			t.Fatalf("ConnectAndStart %d failed: %v", i, err)
		}
	}

	waitFor(t, "dropped session error", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.fatals) >= 1
	})

	// The healthy session keeps streaming after its peer died.
	healthyServer.Write(buildRecord(t, 16, RTypeMBP0, 9, 0))
	waitFor(t, "record on healthy session", func() bool { return sink.recordCount() == 1 })

	m.CloseAll()
}
