//go:build linux

package transport

import (
	"net"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/higebu/netfd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// tcpUserTimeoutMinKernel is the first kernel version exposing
// TCP_USER_TIMEOUT.
var tcpUserTimeoutMinKernel = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 37}

// tuneKeepalivePlatform enables TCP keepalive and, on kernels new enough to
// support it, bounds how long unacknowledged data may go before the
// connection is dropped (TCP_USER_TIMEOUT), so a dead device is noticed
// well before the OS's default multi-minute timeout.
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

	supported, err := supportsUserTimeout()
	if err != nil || !supported {
		return
	}

	fd := netfd.GetFdFromConn(conn)
	userTimeoutMs := int(operationalKeepalivePeriod.Milliseconds()) * 3
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, userTimeoutMs); err != nil {
		log.WithError(err).Debug("transport: setting TCP_USER_TIMEOUT failed")
	}
}

func supportsUserTimeout() (bool, error) {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		return false, err
	}
	return kernel.CompareKernelVersion(*v, tcpUserTimeoutMinKernel) >= 0, nil
}
