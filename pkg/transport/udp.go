package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
)

// Datagram is a received UDP payload plus the address it came from.
type Datagram struct {
	Data   []byte
	Remote *net.UDPAddr
}

// UdpTransport binds a local UDP port (0 for ephemeral), enables broadcast,
// and provides broadcast/unicast send plus timed, cancellable receive. It
// never fails a Receive for timeout or cancellation: both report as "no
// datagram this call".
type UdpTransport struct {
	log *logrus.Entry

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

// NewUdpTransport returns an unopened UdpTransport.
func NewUdpTransport(log *logrus.Entry) *UdpTransport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &UdpTransport{log: log}
}

// Open binds localPort (0 for an OS-assigned ephemeral port) and enables
// broadcast. Calling Open a second time while already open is a no-op.
func (u *UdpTransport) Open(localPort int) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		u.closed = true
		u.log.WithError(err).Warn("udp transport: bind failed")
		return err
	}
	enableBroadcast(conn, u.log)

	u.conn = conn
	u.closed = false
	return nil
}

// LocalAddr returns the bound local address, or nil if not open.
func (u *UdpTransport) LocalAddr() *net.UDPAddr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// SendBroadcast sends data to broadcastAddr:port. Fails with
// daqerr.ErrNotOpen when closed.
func (u *UdpTransport) SendBroadcast(data []byte, broadcastAddr net.IP, port int) error {
	return u.sendTo(data, &net.UDPAddr{IP: broadcastAddr, Port: port})
}

// SendUnicast sends data to a specific remote endpoint. Fails with
// daqerr.ErrNotOpen when closed.
func (u *UdpTransport) SendUnicast(data []byte, remote *net.UDPAddr) error {
	return u.sendTo(data, remote)
}

func (u *UdpTransport) sendTo(data []byte, remote *net.UDPAddr) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()

	if conn == nil {
		return daqerr.ErrNotOpen
	}
	_, err := conn.WriteToUDP(data, remote)
	return err
}

// Receive waits up to timeout for one datagram, returning nil on timeout,
// cancellation, or any socket error; Receive itself never fails.
func (u *UdpTransport) Receive(ctx context.Context, timeout time.Duration) *Datagram {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 65507)
	n, remote, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	return &Datagram{Data: buf[:n], Remote: remote}
}

// Close shuts down the socket. It is a no-op if never opened.
func (u *UdpTransport) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	u.closed = true
	return err
}
