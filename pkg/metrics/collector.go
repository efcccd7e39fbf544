// Package metrics exposes live session and discovery counters as a
// Prometheus collector.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
)

// sessionEntry is one tracked session's current countable state.
type sessionEntry struct {
	status            float64
	rxBytes           float64
	txBytes           float64
	reconnectAttempts float64
	parseErrors       float64
}

// Collector implements prometheus.Collector over a set of live sessions,
// keyed by their xid.ID, plus a running discovery-devices count. Add and
// Remove register/unregister a session; Collect is read-only and never
// blocks on I/O.
type Collector struct {
	mu       sync.Mutex
	sessions map[xid.ID]*sessionEntry
	devices  float64

	statusDesc      *prometheus.Desc
	bytesDesc       *prometheus.Desc
	reconnectsDesc  *prometheus.Desc
	parseErrorsDesc *prometheus.Desc
	devicesDesc     *prometheus.Desc
}

// NewCollector returns an empty Collector. Register it with a
// prometheus.Registry the way any other collector is registered.
func NewCollector() *Collector {
	return &Collector{
		sessions: make(map[xid.ID]*sessionEntry),
		statusDesc: prometheus.NewDesc(
			"daqifi_session_status", "Current ConnectionStatus value for a session.",
			[]string{"session_id"}, nil),
		bytesDesc: prometheus.NewDesc(
			"daqifi_session_bytes_total", "Bytes transferred on a session's transport.",
			[]string{"session_id", "direction"}, nil),
		reconnectsDesc: prometheus.NewDesc(
			"daqifi_session_reconnect_attempts_total", "Connect attempts made by a session's transport.",
			[]string{"session_id"}, nil),
		parseErrorsDesc: prometheus.NewDesc(
			"daqifi_session_parse_errors_total", "Record/line parse failures observed by a session.",
			[]string{"session_id"}, nil),
		devicesDesc: prometheus.NewDesc(
			"daqifi_discovery_devices_total", "Unique devices returned across all discovery runs.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.statusDesc
	descs <- c.bytesDesc
	descs <- c.reconnectsDesc
	descs <- c.parseErrorsDesc
	descs <- c.devicesDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.sessions {
		label := id.String()
		metrics <- prometheus.MustNewConstMetric(c.statusDesc, prometheus.GaugeValue, e.status, label)
		metrics <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, e.rxBytes, label, "rx")
		metrics <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, e.txBytes, label, "tx")
		metrics <- prometheus.MustNewConstMetric(c.reconnectsDesc, prometheus.CounterValue, e.reconnectAttempts, label)
		metrics <- prometheus.MustNewConstMetric(c.parseErrorsDesc, prometheus.CounterValue, e.parseErrors, label)
	}
	metrics <- prometheus.MustNewConstMetric(c.devicesDesc, prometheus.CounterValue, c.devices)
}

// Add registers a session for collection, or resets its entry if already
// registered.
func (c *Collector) Add(id xid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = &sessionEntry{}
}

// Remove unregisters a session; subsequent updates for id are no-ops.
func (c *Collector) Remove(id xid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// SetStatus records a session's current ConnectionStatus as its numeric
// value.
func (c *Collector) SetStatus(id xid.ID, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		e.status = float64(status)
	}
}

// SetBytes records a session's lifetime rx/tx byte counters, as read from
// its transport's monotonic counters.
func (c *Collector) SetBytes(id xid.ID, rx, tx uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		e.rxBytes = float64(rx)
		e.txBytes = float64(tx)
	}
}

// SetConnectAttempts records a session's lifetime connect-attempt counter.
func (c *Collector) SetConnectAttempts(id xid.ID, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		e.reconnectAttempts = float64(n)
	}
}

// IncParseErrors increments a session's parse-error counter.
func (c *Collector) IncParseErrors(id xid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		e.parseErrors++
	}
}

// IncDevicesDiscovered increments the process-wide discovered-device
// count, meant to be called once per unique DeviceDescriptor a
// DiscoveryService emits.
func (c *Collector) IncDevicesDiscovered(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices += float64(delta)
}
