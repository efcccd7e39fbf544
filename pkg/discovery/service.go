package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
	"github.com/daqifi/daqifi-client-go/pkg/transport"
	"github.com/daqifi/daqifi-client-go/pkg/wire"
)

// DefaultPort is the UDP port the discovery probe is broadcast to and
// devices reply on.
const DefaultPort = 30303

// Probe is the ASCII discovery request sent to every broadcast endpoint.
const Probe = "DAQiFi?\r\n"

// rejected payloads: echoes of either known probe string, and the
// device's own power-event announcement, which is not a discovery
// response.
var rejectedPayloads = []string{
	Probe,
	"Discovery: Who is out there?\r\n",
	"Power event occurred",
}

// innerReceiveTimeout bounds each individual Receive call inside the
// discovery loop so the outer deadline/cancellation is checked often.
const innerReceiveTimeout = 100 * time.Millisecond

// Handlers are observer callbacks for discovery events. Any may be nil.
type Handlers struct {
	OnDeviceDiscovered func(DeviceDescriptor)
	OnCompleted        func()
}

// Service enumerates broadcast-capable interfaces, probes them, and
// collects deduplicated device responses.
type Service struct {
	port int
	log  *logrus.Entry

	sem      chan struct{}
	mu       sync.Mutex
	disposed bool
}

// NewService returns a Service probing DefaultPort. Use Option to override.
func NewService(opts ...Option) *Service {
	s := &Service{
		port: DefaultPort,
		log:  logrus.NewEntry(logrus.StandardLogger()),
		sem:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a Service at construction.
type Option func(*Service)

// WithPort overrides the UDP discovery port (default 30303). Port 0 binds
// an ephemeral local port, useful for hermetic tests.
func WithPort(port int) Option {
	return func(s *Service) { s.port = port }
}

// WithLogger attaches a logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

// Dispose marks the Service as torn down; subsequent Discover calls fail
// with daqerr.ErrDisposed.
func (s *Service) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

func (s *Service) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Discover runs one discovery pass, probing every broadcast-capable
// interface and collecting responses until ctx is done or timeout
// elapses, whichever comes first. Concurrent calls on the same Service
// are serialized by an internal semaphore rather than rejected.
func (s *Service) Discover(ctx context.Context, timeout time.Duration, h Handlers) ([]DeviceDescriptor, error) {
	if s.isDisposed() {
		return nil, daqerr.ErrDisposed
	}

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ifaces, err := broadcastInterfaces()
	if err != nil {
		s.log.WithError(err).Warn("discovery: enumerating interfaces failed")
	}

	udp := transport.NewUdpTransport(s.log)
	if err := udp.Open(s.port); err != nil {
		return nil, err
	}
	defer udp.Close()

	for _, iface := range ifaces {
		if err := udp.SendBroadcast([]byte(Probe), iface.broadcast, s.port); err != nil {
			s.log.WithError(err).WithField("interface", iface.name).Debug("discovery: probe send failed")
		}
	}

	seen := make(map[string]bool)
	var results []DeviceDescriptor
	framer := wire.NewRecordFramer()

	for {
		select {
		case <-deadlineCtx.Done():
			if h.OnCompleted != nil {
				h.OnCompleted()
			}
			return results, nil
		default:
		}

		dg := udp.Receive(deadlineCtx, innerReceiveTimeout)
		if dg == nil {
			continue
		}

		if isRejected(dg.Data) {
			continue
		}

		msgs, _ := framer.ParseMessages(dg.Data)
		if len(msgs) == 0 {
			continue
		}
		resp, ok := decodeResponse(msgs[0])
		if !ok {
			s.log.WithField("remote", dg.Remote).Debug("discovery: failed to decode response")
			continue
		}

		local := matchInterface(ifaces, dg.Remote.IP)
		desc := descriptorFromResponse(resp, local)

		key := desc.identity()
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, desc)

		if h.OnDeviceDiscovered != nil {
			h.OnDeviceDiscovered(desc)
		}
	}
}

func isRejected(data []byte) bool {
	s := string(data)
	for _, r := range rejectedPayloads {
		if strings.Contains(s, strings.TrimRight(r, "\r\n")) {
			return true
		}
	}
	return false
}

type broadcastInterface struct {
	name      string
	localIP   net.IP
	mask      net.IPMask
	broadcast net.IP
}

// broadcastInterfaces enumerates interfaces that are up, IPv4-capable, and
// support broadcast, computing each one's directed broadcast address from
// its unicast IP and netmask.
func broadcastInterfaces() ([]broadcastInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var result []broadcastInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := directedBroadcast(ip4, ipNet.Mask)
			result = append(result, broadcastInterface{
				name:      iface.Name,
				localIP:   ip4,
				mask:      ipNet.Mask,
				broadcast: bcast,
			})
		}
	}
	return result, nil
}

func directedBroadcast(ip net.IP, mask net.IPMask) net.IP {
	bcast := make(net.IP, len(ip))
	for i := range ip {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

// matchInterface finds the interface whose localIP & mask equals
// remote & mask, returning its local address string, or "" if none match.
func matchInterface(ifaces []broadcastInterface, remote net.IP) string {
	remote4 := remote.To4()
	if remote4 == nil {
		return ""
	}
	for _, iface := range ifaces {
		if sameNetwork(iface.localIP, remote4, iface.mask) {
			return iface.localIP.String()
		}
	}
	return ""
}

func sameNetwork(a, b net.IP, mask net.IPMask) bool {
	for i := range mask {
		if a[i]&mask[i] != b[i]&mask[i] {
			return false
		}
	}
	return true
}
