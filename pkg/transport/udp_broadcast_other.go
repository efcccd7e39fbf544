//go:build !linux

package transport

import (
	"net"

	"github.com/sirupsen/logrus"
)

// enableBroadcast is a no-op outside Linux; see udp_broadcast_linux.go. The
// raw-fd sockopt path this relies on (github.com/higebu/netfd +
// golang.org/x/sys/unix) is the same one pkg/transport's keepalive tuning
// already restricts to Linux.
func enableBroadcast(conn *net.UDPConn, log *logrus.Entry) {
	log.Debug("udp transport: SO_BROADCAST tuning not available on this platform")
}
