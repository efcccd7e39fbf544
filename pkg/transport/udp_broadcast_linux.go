//go:build linux

package transport

import (
	"net"

	"github.com/higebu/netfd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on conn's underlying socket. Without it,
// writing to a directed-broadcast address fails with EACCES, so discovery's
// probe is otherwise unable to leave the host.
func enableBroadcast(conn *net.UDPConn, log *logrus.Entry) {
	fd := netfd.GetFdFromConn(conn)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		log.WithError(err).Warn("udp transport: enabling SO_BROADCAST failed")
	}
}
