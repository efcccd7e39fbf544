// Package daqerr defines the sentinel error kinds shared across the
// transport, framing, discovery, and session packages. Callers match on
// these with errors.Is; nothing here carries transport-specific type
// information.
package daqerr

import "errors"

var (
	// ErrInvalidConfiguration is returned when constructor arguments are
	// out of range (empty host, port outside [1,65535], invalid retry
	// policy).
	ErrInvalidConfiguration = errors.New("daqifi: invalid configuration")

	// ErrNotConnected is returned by operations that require an open
	// transport.
	ErrNotConnected = errors.New("daqifi: not connected")

	// ErrNotRunning is returned by Producer.Send when the producer has not
	// been started.
	ErrNotRunning = errors.New("daqifi: not running")

	// ErrNullMessage is returned by Producer.Send for a nil/empty message.
	ErrNullMessage = errors.New("daqifi: message is nil")

	// ErrDisposed is returned by any operation on a disposed component.
	ErrDisposed = errors.New("daqifi: disposed")

	// ErrConnectFailed is returned when all retry attempts to connect are
	// exhausted.
	ErrConnectFailed = errors.New("daqifi: connect failed")

	// ErrTimeout is returned when a receive/read exceeds its deadline.
	ErrTimeout = errors.New("daqifi: timeout")

	// ErrParse is returned by framers/decoders on malformed input.
	ErrParse = errors.New("daqifi: parse error")

	// ErrProtocol is returned when a device replies with a negative-code
	// error line during initialization.
	ErrProtocol = errors.New("daqifi: protocol error")

	// ErrTransportLost is returned/observed when the underlying transport
	// reports a disconnect while a session believed itself connected.
	ErrTransportLost = errors.New("daqifi: transport lost")

	// ErrNotOpen is returned by UdpTransport send operations when closed.
	ErrNotOpen = errors.New("daqifi: not open")
)
