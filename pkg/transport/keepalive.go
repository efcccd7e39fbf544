package transport

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// operationalKeepalivePeriod is how often the OS probes an idle connection
// once keepalive is enabled.
const operationalKeepalivePeriod = 30 * time.Second

// tuneKeepalive best-effort tunes OS-level keepalive behavior on a freshly
// dialed connection. Platform-specific implementations (keepalive_linux.go,
// keepalive_other.go) do the real work; failures are logged, never
// returned, since keepalive tuning is an optimization, not a correctness
// requirement.
var tuneKeepalive = tuneKeepalivePlatform

func logKeepaliveSkip(log *logrus.Entry, conn net.Conn, reason string) {
	log.WithField("remote", conn.RemoteAddr()).Debug("transport: skipping keepalive tuning: " + reason)
}
