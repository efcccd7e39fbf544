// Package transport implements the two wire-level transports: a retrying
// TCP byte stream (TcpTransport) and a broadcast-capable UDP datagram
// socket (UdpTransport).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
	"github.com/daqifi/daqifi-client-go/pkg/retrypolicy"
)

// operationalReadTimeout is the deadline applied to every read once a
// connection is established, independent of the retry policy's
// per-attempt timeout (which only bounds connect attempts). It is kept
// short so a Consumer's StopSafely can return promptly.
const operationalReadTimeout = 500 * time.Millisecond

// TcpTransport is a single-owner, bidirectional byte stream to one remote
// endpoint. It is not safe for concurrent Connect/Disconnect calls, but
// Read and Write may be called concurrently with each other (one reader,
// one writer: the owning session's consumer and producer).
type TcpTransport struct {
	host string
	port int
	log  *logrus.Entry

	mu       sync.Mutex
	conn     net.Conn
	status   Status
	disposed bool
	handlers []StatusHandler

	bytesRead       atomic.Uint64
	bytesWritten    atomic.Uint64
	connectAttempts atomic.Uint64
}

// Stats is a point-in-time copy of the transport's lifetime counters.
type Stats struct {
	BytesRead       uint64
	BytesWritten    uint64
	ConnectAttempts uint64
}

// Option configures a TcpTransport at construction.
type Option func(*TcpTransport)

// WithLogger attaches a logger; when omitted, logrus.StandardLogger() is
// used.
func WithLogger(log *logrus.Entry) Option {
	return func(t *TcpTransport) { t.log = log }
}

// NewTcpTransport validates host/port and returns a disconnected
// transport. Port must be in [1, 65535] and host must be non-empty.
func NewTcpTransport(host string, port int, opts ...Option) (*TcpTransport, error) {
	if host == "" || port < 1 || port > 65535 {
		return nil, fmt.Errorf("transport: host=%q port=%d: %w", host, port, daqerr.ErrInvalidConfiguration)
	}
	t := &TcpTransport{
		host:   host,
		port:   port,
		status: Disconnected,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// OnStatusChange registers a handler for status transitions. Handlers
// accumulate; there is no way to unregister a single one, only to replace
// the whole transport.
func (t *TcpTransport) OnStatusChange(h StatusHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

func (t *TcpTransport) setStatus(s Status, err error) {
	t.mu.Lock()
	t.status = s
	handlers := append([]StatusHandler(nil), t.handlers...)
	t.mu.Unlock()

	for _, h := range handlers {
		h(StatusEvent{Status: s, Err: err})
	}
}

// Status returns the current connection status.
func (t *TcpTransport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect performs 1..MaxAttempts dial attempts per policy, waiting
// policy.DelayFor(attempt) between them and bounding each attempt by
// policy.PerAttemptTimeout. It raises Connecting then Connected on
// success; on each failed attempt it raises an intermediate Connecting
// event carrying that attempt's error, and after the final failure raises
// Disconnected with the last error and returns it wrapped in
// daqerr.ErrConnectFailed.
func (t *TcpTransport) Connect(ctx context.Context, policy retrypolicy.Policy) error {
	if t.isDisposed() {
		return daqerr.ErrDisposed
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("transport: %w: %v", daqerr.ErrInvalidConfiguration, err)
	}

	t.setStatus(Connecting, nil)

	var lastErr error
	attempts := policy.Attempts()
	addr := net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))

	for attempt := uint(1); attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(policy.DelayFor(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				t.setStatus(Disconnected, lastErr)
				return fmt.Errorf("transport: %w: %v", daqerr.ErrConnectFailed, lastErr)
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.PerAttemptTimeout)
		}
		var dialer net.Dialer
		t.connectAttempts.Add(1)
		conn, err := dialer.DialContext(attemptCtx, "tcp", addr)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			t.mu.Lock()
			t.conn = conn
			t.mu.Unlock()
			tuneKeepalive(conn, t.log)
			_ = conn.SetReadDeadline(time.Now().Add(operationalReadTimeout))
			t.setStatus(Connected, nil)
			return nil
		}

		lastErr = err
		t.log.WithError(err).WithField("attempt", attempt).Warn("transport: connect attempt failed")
		t.setStatus(Connecting, err)
	}

	t.setStatus(Disconnected, lastErr)
	return fmt.Errorf("transport: %w: %v", daqerr.ErrConnectFailed, lastErr)
}

// Disconnect is idempotent: it closes the stream, if any, and raises
// Disconnected.
func (t *TcpTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.setStatus(Disconnected, nil)
	return nil
}

// Stream returns the underlying connection for direct Read/Write use by a
// Producer/Consumer pair. It fails with ErrNotConnected when disconnected
// and ErrDisposed once Dispose has been called.
func (t *TcpTransport) Stream() (net.Conn, error) {
	if t.isDisposed() {
		return nil, daqerr.ErrDisposed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, daqerr.ErrNotConnected
	}
	return t.conn, nil
}

// Read reads from the stream, refreshing the short operational read
// deadline before every call so a timeout surfaces at most
// operationalReadTimeout after the last byte, letting callers poll for
// shutdown promptly.
func (t *TcpTransport) Read(p []byte) (int, error) {
	conn, err := t.Stream()
	if err != nil {
		return 0, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(operationalReadTimeout))
	n, err := conn.Read(p)
	t.bytesRead.Add(uint64(n))
	if err != nil && !isTimeoutErr(err) {
		t.noteLost(err)
	}
	return n, err
}

// Write writes to the stream.
func (t *TcpTransport) Write(p []byte) (int, error) {
	conn, err := t.Stream()
	if err != nil {
		return 0, err
	}
	n, err := conn.Write(p)
	t.bytesWritten.Add(uint64(n))
	if err != nil && !isTimeoutErr(err) {
		t.noteLost(err)
	}
	return n, err
}

// noteLost transitions Connected -> Lost exactly once when a read or
// write fails for a reason other than the operational deadline. Deliberate
// Disconnect/Dispose never route through here; they raise Disconnected
// themselves.
func (t *TcpTransport) noteLost(err error) {
	t.mu.Lock()
	if t.status != Connected {
		t.mu.Unlock()
		return
	}
	t.status = Lost
	handlers := append([]StatusHandler(nil), t.handlers...)
	t.mu.Unlock()

	t.log.WithError(err).Warn("transport: connection lost")
	for _, h := range handlers {
		h(StatusEvent{Status: Lost, Err: err})
	}
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Stats returns the transport's lifetime byte and connect-attempt
// counters. They accumulate across reconnects and survive Disconnect.
func (t *TcpTransport) Stats() Stats {
	return Stats{
		BytesRead:       t.bytesRead.Load(),
		BytesWritten:    t.bytesWritten.Load(),
		ConnectAttempts: t.connectAttempts.Load(),
	}
}

// Dispose tears down the transport permanently; subsequent operations
// fail with ErrDisposed.
func (t *TcpTransport) Dispose() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	t.disposed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.setStatus(Disconnected, nil)
	return nil
}

func (t *TcpTransport) isDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}
