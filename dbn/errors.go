package dbn

import "errors"

// Sentinel errors returned (wrapped) by Connect, Start and Get. Every fatal
// failure also reaches the session's error handler before the operation
// returns.
var (
	// ErrBadMessage indicates a malformed gateway control message, stream
	// preamble or record length.
	ErrBadMessage = errors.New("malformed gateway message")

	// ErrAuthDenied indicates the gateway rejected the CRAM response.
	ErrAuthDenied = errors.New("authentication rejected")

	// ErrPeerClosed indicates the gateway closed the connection mid-stream.
	ErrPeerClosed = errors.New("connection closed by peer")

	// ErrResolve indicates the gateway FQDN did not resolve.
	ErrResolve = errors.New("gateway address resolution failed")

	// ErrBufferTooSmall indicates the kernel clamped SO_RCVBUF below the
	// requested capacity; the session cannot keep up with gateway bursts.
	ErrBufferTooSmall = errors.New("kernel receive buffer too small")

	// ErrBufferExceeded indicates carry-over plus a new completion would
	// overflow a receive buffer.
	ErrBufferExceeded = errors.New("receive buffer capacity exceeded")
)
