//go:build !linux

package transport

import (
	"net"

	"github.com/sirupsen/logrus"
)

// tuneKeepalivePlatform enables basic TCP keepalive using only what
// net.TCPConn exposes portably. TCP_USER_TIMEOUT tuning is Linux-specific;
// see keepalive_linux.go.
func tuneKeepalivePlatform(conn net.Conn, log *logrus.Entry) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		logKeepaliveSkip(log, conn, "not a *net.TCPConn")
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		log.WithError(err).Debug("transport: SetKeepAlive failed")
		return
	}
	if err := tcpConn.SetKeepAlivePeriod(operationalKeepalivePeriod); err != nil {
		log.WithError(err).Debug("transport: SetKeepAlivePeriod failed")
	}
}
