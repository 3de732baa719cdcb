package dbn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"

	"dbnflow/logger"
)

// DefaultBufferCapacity is the SO_RCVBUF request and receive buffer size.
// The gateway can burst an entire day of definitions in seconds; anything
// smaller risks drops between completion waits.
const DefaultBufferCapacity = 64 * 1024 * 1024

// gatewayPort is the fixed LSG control/stream port.
const gatewayPort = 13000

// ErrorHandler is invoked on session errors. fatal indicates further
// communication on this session is unlikely to succeed; fatal calls precede
// the error return of whichever operation failed. Handlers must not block.
type ErrorHandler func(c *Client, fatal bool, msg string)

// RecordHandler is invoked for every framed DBN record. rec borrows framing
// reader memory and is only valid until the handler returns; handlers copy
// what they keep and must not block on shared resources.
type RecordHandler func(c *Client, rec Record)

// Client is a single live-data gateway session: one TCP connection, two
// kernel-posted receive buffers and a carry-over buffer of the same
// capacity. A Client is owned by its creator and is not safe for concurrent
// method calls, except Interrupt and Close.
type Client struct {
	// Dial overrides gateway dialing when not nil. The default resolves the
	// dataset FQDN over IPv4 and applies the SO_RCVBUF request before
	// connecting.
	Dial func(ctx context.Context, fqdn string) (net.Conn, error)

	// BufferCapacity overrides DefaultBufferCapacity when positive. On a TCP
	// connection the effective kernel buffer governs the final capacity.
	BufferCapacity int

	// Name labels this session in logs and runtime reports. Defaults to the
	// dataset name on Connect.
	Name string

	onError  ErrorHandler
	onRecord RecordHandler

	conn          net.Conn
	capacity      int
	ring          *recvRing
	leftover      []byte
	leftoverCount int

	log *logger.Log

	mu     sync.Mutex
	closed bool
}

// NewClient returns an unconnected session. Either handler may be nil.
func NewClient(onError ErrorHandler, onRecord RecordHandler) *Client {
	return &Client{
		onError:  onError,
		onRecord: onRecord,
		log:      logger.GetLogger(),
	}
}

// GatewayFQDN derives the dataset-specific gateway name: dots in the dataset
// become hyphens under the lsg.databento.com zone.
func GatewayFQDN(dataset string) string {
	return strings.ReplaceAll(dataset, ".", "-") + ".lsg.databento.com"
}

// fail formats a message, reports it through the error handler as fatal and
// returns err wrapped with the formatted text.
func (c *Client) fail(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if c.onError != nil {
		c.onError(c, true, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Connect establishes and authenticates a gateway session for the dataset.
// tsOut requests gateway-side ts_out timestamping of every record.
func (c *Client) Connect(ctx context.Context, apiKey, dataset string, tsOut bool) error {
	capacity := c.BufferCapacity
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}

	if c.Name == "" {
		c.Name = dataset
	}
	log := c.log.WithComponent("session").WithFields(logger.Fields{"session": c.Name, "dataset": dataset})

	fqdn := GatewayFQDN(dataset)

	dial := c.Dial
	if dial == nil {
		dial = func(ctx context.Context, fqdn string) (net.Conn, error) {
			return dialGateway(ctx, fqdn, capacity)
		}
	}

	conn, err := dial(ctx, fqdn)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return c.fail(ErrResolve, "failed to resolve %s: %v", fqdn, err)
		}
		return c.fail(err, "failed to connect to %s", fqdn)
	}
	c.conn = conn

	// The kernel may round the requested buffer up; whatever it is, local
	// buffers match it. Smaller means the clamp won and the session cannot
	// meet its throughput target.
	if tc, ok := conn.(*net.TCPConn); ok {
		effective, err := recvBufferSize(tc)
		if err != nil {
			return c.fail(err, "failed to read socket buffer size")
		}
		if effective < capacity {
			return c.fail(ErrBufferTooSmall, "failed to set socket buffer size (size is %d)", effective)
		}
		capacity = effective
	}

	c.capacity = capacity
	c.leftover = make([]byte, capacity)
	c.ring = newRecvRing(conn, capacity)

	// Greeting: the gateway announces its version first.
	msg, err := readControlLine(conn)
	if err != nil {
		return c.fail(ErrBadMessage, "error receiving first control message")
	}
	if _, ok := controlField(msg, "lsg_version"); !ok {
		return c.fail(ErrBadMessage, "first control message is missing lsg_version field")
	}

	// CRAM challenge.
	msg, err = readControlLine(conn)
	if err != nil {
		return c.fail(ErrBadMessage, "error receiving second control message")
	}
	cram, ok := controlField(msg, "cram")
	if !ok {
		return c.fail(ErrBadMessage, "second control message is missing cram field")
	}

	auth, err := authLine(cram, apiKey, dataset, tsOut)
	if err != nil {
		return c.fail(ErrAuthDenied, "failed to build auth response: %v", err)
	}
	if _, err := conn.Write([]byte(auth)); err != nil {
		return c.fail(err, "error sending auth response")
	}

	// Auth result.
	msg, err = readControlLine(conn)
	if err != nil {
		return c.fail(ErrBadMessage, "error receiving third control message")
	}
	success, ok := controlField(msg, "success")
	if !ok {
		return c.fail(ErrBadMessage, "third control message is missing success field")
	}
	if success != "1" {
		return c.fail(ErrAuthDenied, "gateway authentication failed")
	}

	log.WithFields(logger.Fields{"capacity": capacity}).Info("session connected and authenticated")
	return nil
}

// Start subscribes and switches the session into DBN streaming. An empty
// symbols slice subscribes to ALL_SYMBOLS (suffix ignored); otherwise
// symbols are sent in caller order with suffix appended to each. replay
// requests intra-day replay instead of live data.
func (c *Client) Start(schema, symbology string, symbols []string, suffix string, replay bool) error {
	for _, line := range subscribeLines(schema, symbology, symbols, suffix, replay) {
		if _, err := c.conn.Write([]byte(line)); err != nil {
			return c.fail(err, "error sending subscription")
		}
	}

	if _, err := c.conn.Write([]byte(startSessionLine)); err != nil {
		return c.fail(err, "error starting session")
	}

	if err := readPreamble(c.conn); err != nil {
		return c.fail(err, "bad stream preamble")
	}

	// DBN records flow from here. Post both buffers; the receive goroutine
	// keeps one posted while records from the other are dispatched.
	c.ring.post(0)
	c.ring.post(1)

	c.log.WithComponent("session").WithFields(logger.Fields{
		"session": c.Name,
		"schema":  schema,
		"symbols": len(symbols),
		"replay":  replay,
	}).Info("session subscribed and streaming")
	return nil
}

// Get blocks until one receive completes, dispatches every whole record it
// completes to the record handler and returns the count; a completion that
// holds only part of a record dispatches none and returns 0. An Interrupt
// while waiting yields (0, nil) so callers can observe stop flags.
func (c *Client) Get() (int, error) {
	cqe, ok := c.ring.wait()
	if !ok {
		return 0, nil
	}

	if cqe.n == 0 {
		if cqe.err == nil || errors.Is(cqe.err, io.EOF) {
			return -1, c.fail(ErrPeerClosed, "connection closed unexpectedly")
		}
		return -1, c.fail(cqe.err, "error reading from socket")
	}

	buf := c.ring.buffers[cqe.buf]
	n := cqe.n

	// Prepend carry-over from the previous completion. Rare: gateway packets
	// normally hold whole records, so a split only happens when kernel and
	// userland timing misalign.
	if c.leftoverCount > 0 {
		if c.leftoverCount+n > c.capacity {
			return -1, c.fail(ErrBufferExceeded, "leftover data would cause buffer overflow")
		}
		copy(buf[c.leftoverCount:c.leftoverCount+n], buf[:n])
		copy(buf[:c.leftoverCount], c.leftover[:c.leftoverCount])
		n += c.leftoverCount
		c.leftoverCount = 0
	}

	// Split and dispatch as many whole records as arrived.
	off := 0
	count := 0
	for n >= headerSize {
		length := 4 * int(buf[off])
		if length < headerSize {
			return -1, c.fail(ErrBadMessage, "bad record length %d", length)
		}
		if n < length {
			break
		}
		if c.onRecord != nil {
			c.onRecord(c, newRecord(buf[off:off+length]))
		}
		off += length
		n -= length
		count++
	}

	// Keep any residual tail for the next completion.
	if n > 0 {
		copy(c.leftover, buf[off:off+n])
		c.leftoverCount = n
		logger.IncrementCarryOver()
	}

	logger.IncrementRecords(c.Name, count, off)

	c.ring.post(cqe.buf)
	return count, nil
}

// Interrupt wakes a Get blocked on the completion wait; that Get returns
// zero records. Safe from any goroutine.
func (c *Client) Interrupt() {
	if c.ring != nil {
		c.ring.interrupt()
	}
}

// Close disconnects and releases session buffers. Idempotent, and safe after
// a failed Connect.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	if c.ring != nil {
		c.ring.close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.leftover = nil
	c.leftoverCount = 0

	c.log.WithComponent("session").WithFields(logger.Fields{"session": c.Name}).Info("session closed")
}

// dialGateway resolves fqdn over IPv4 and connects to the LSG port, applying
// the SO_RCVBUF request before the TCP handshake so window scaling reflects
// it.
func dialGateway(ctx context.Context, fqdn string, capacity int) (net.Conn, error) {
	d := net.Dialer{
		Control: func(network, address string, raw syscall.RawConn) error {
			var serr error
			if err := raw.Control(func(fd uintptr) {
				serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, capacity)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	return d.DialContext(ctx, "tcp4", fmt.Sprintf("%s:%d", fqdn, gatewayPort))
}

// recvBufferSize reads the effective SO_RCVBUF on a connected TCP socket.
func recvBufferSize(tc *net.TCPConn) (int, error) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var size int
	var serr error
	if err := raw.Control(func(fd uintptr) {
		size, serr = syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF)
	}); err != nil {
		return 0, err
	}
	return size, serr
}
