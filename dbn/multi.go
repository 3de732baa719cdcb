package dbn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"dbnflow/logger"
)

// MultiErrorHandler is invoked on any session's error. Invocations may
// arrive concurrently from different session workers.
type MultiErrorHandler func(m *Multi, fatal bool, msg string)

// MultiRecordHandler is invoked for every record of every session. The same
// borrowing and reentrancy rules as RecordHandler apply, and invocations may
// arrive concurrently from different session workers.
type MultiRecordHandler func(m *Multi, rec Record)

// Multi coordinates independent parallel gateway sessions sharing one pair
// of handlers. Each session runs its receive loop on its own worker
// goroutine; there is no cross-session ordering.
type Multi struct {
	// Dial and BufferCapacity are copied to every session; see Client.
	Dial           func(ctx context.Context, fqdn string) (net.Conn, error)
	BufferCapacity int

	onError  MultiErrorHandler
	onRecord MultiRecordHandler

	mu      sync.Mutex
	clients []*Client

	workers       sync.WaitGroup
	stop          atomic.Bool
	numSubscribed atomic.Int32

	log *logger.Log
}

// NewMulti returns an empty coordinator. Either handler may be nil.
func NewMulti(onError MultiErrorHandler, onRecord MultiRecordHandler) *Multi {
	return &Multi{
		onError:  onError,
		onRecord: onRecord,
		log:      logger.GetLogger(),
	}
}

// ConnectAndStart adds one session. Connect runs synchronously so the caller
// learns of authentication failures here; subscription and the receive loop
// run on a new worker. The worker increments the subscribed count once its
// Start returns, exits quietly if the session errors, and never tears down
// peer sessions.
func (m *Multi) ConnectAndStart(
	ctx context.Context,
	apiKey, dataset string,
	tsOut bool,
	schema, symbology string,
	symbols []string,
	suffix string,
	replay bool,
) error {
	c := NewClient(
		func(c *Client, fatal bool, msg string) {
			if m.onError != nil {
				m.onError(m, fatal, msg)
			}
		},
		func(c *Client, rec Record) {
			if m.onRecord != nil {
				m.onRecord(m, rec)
			}
		},
	)
	c.Dial = m.Dial
	c.BufferCapacity = m.BufferCapacity

	m.mu.Lock()
	c.Name = fmt.Sprintf("%s-%d", dataset, len(m.clients))
	m.clients = append(m.clients, c)
	m.mu.Unlock()

	if err := c.Connect(ctx, apiKey, dataset, tsOut); err != nil {
		return err
	}

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()

		if err := c.Start(schema, symbology, symbols, suffix, replay); err != nil {
			return
		}
		m.numSubscribed.Add(1)

		for !m.stop.Load() {
			if _, err := c.Get(); err != nil {
				return
			}
		}
	}()

	return nil
}

// NumSessions returns the number of sessions added so far.
func (m *Multi) NumSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// IsFullySubscribed reports whether every session has completed its
// subscribe phase. Once true it stays true until CloseAll.
func (m *Multi) IsFullySubscribed() bool {
	return int(m.numSubscribed.Load()) == m.NumSessions()
}

// CloseAll stops every worker, closes every session and releases
// bookkeeping. Workers blocked in a completion wait are interrupted so they
// can observe the stop flag.
func (m *Multi) CloseAll() {
	m.stop.Store(true)

	m.mu.Lock()
	clients := m.clients
	m.mu.Unlock()

	for _, c := range clients {
		c.Interrupt()
	}
	m.workers.Wait()

	for _, c := range clients {
		c.Close()
	}

	m.mu.Lock()
	m.clients = nil
	m.mu.Unlock()
	m.numSubscribed.Store(0)

	m.log.WithComponent("multi").WithFields(logger.Fields{"sessions": len(clients)}).Info("all sessions closed")
}
