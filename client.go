// Package daqifi is the root facade: it wires discovery, device sessions,
// and the Prometheus collector behind one entry point.
package daqifi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
	"github.com/daqifi/daqifi-client-go/pkg/discovery"
	"github.com/daqifi/daqifi-client-go/pkg/metrics"
	"github.com/daqifi/daqifi-client-go/pkg/retrypolicy"
	"github.com/daqifi/daqifi-client-go/pkg/session"
)

// Client is the single entry point: it owns a discovery service, a
// Prometheus collector, and every DeviceSession it opens.
type Client struct {
	log       *logrus.Entry
	discovery *discovery.Service
	metrics   *metrics.Collector
	policy    retrypolicy.Policy

	mu       sync.Mutex
	sessions map[*session.DeviceSession]struct{}
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger attaches a logger, propagated to discovery and every session
// the client opens.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// WithRetryPolicy overrides the connect retry policy applied to sessions
// this client opens.
func WithRetryPolicy(p retrypolicy.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient returns a ready-to-use Client with its own discovery service
// and metrics collector.
func NewClient(opts ...Option) *Client {
	c := &Client{
		log:      logrus.NewEntry(logrus.StandardLogger()),
		metrics:  metrics.NewCollector(),
		policy:   retrypolicy.Default(),
		sessions: make(map[*session.DeviceSession]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.discovery = discovery.NewService(discovery.WithLogger(c.log))
	return c
}

// Metrics returns the client's Prometheus collector. Register it with a
// prometheus.Registerer to expose it.
func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// Discover runs one discovery pass and returns every unique device found
// within timeout, incrementing the discovered-devices metric per device.
func (c *Client) Discover(ctx context.Context, timeout time.Duration) ([]discovery.DeviceDescriptor, error) {
	return c.discovery.Discover(ctx, timeout, discovery.Handlers{
		OnDeviceDiscovered: func(discovery.DeviceDescriptor) {
			c.metrics.IncDevicesDiscovered(1)
		},
	})
}

// Connect opens and returns a DeviceSession for the given descriptor,
// registering it with the client's metrics collector. The caller owns
// the returned session's lifecycle (Connect/Disconnect/Dispose); Close
// also disposes any session opened through this method that hasn't been
// disposed yet.
func (c *Client) Connect(ctx context.Context, d discovery.DeviceDescriptor) (*session.DeviceSession, error) {
	if d.IPAddress == "" {
		return nil, fmt.Errorf("daqifi: descriptor has no IP address")
	}
	port := int(d.TCPPort)
	if port == 0 {
		port = discovery.DefaultPort
	}

	sess, err := session.New(d.IPAddress, port,
		session.WithLogger(c.log),
		session.WithRetryPolicy(c.policy))
	if err != nil {
		return nil, err
	}

	c.metrics.Add(sess.ID())
	syncStats := func() {
		stats := sess.TransportStats()
		c.metrics.SetBytes(sess.ID(), stats.BytesRead, stats.BytesWritten)
		c.metrics.SetConnectAttempts(sess.ID(), stats.ConnectAttempts)
	}
	sess.OnStatusChange(func(e session.StatusEvent) {
		c.metrics.SetStatus(sess.ID(), int(e.Status))
		syncStats()
	})
	sess.OnMessage(func(session.StreamSample) {
		syncStats()
	})
	sess.OnError(func(err error) {
		if errors.Is(err, daqerr.ErrParse) {
			c.metrics.IncParseErrors(sess.ID())
		}
	})

	c.mu.Lock()
	c.sessions[sess] = struct{}{}
	c.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		c.metrics.Remove(sess.ID())
		c.mu.Lock()
		delete(c.sessions, sess)
		c.mu.Unlock()
		return nil, err
	}

	return sess, nil
}

// Close disposes the discovery service and every session this client
// opened that is still live.
func (c *Client) Close() {
	c.discovery.Dispose()

	c.mu.Lock()
	sessions := make([]*session.DeviceSession, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[*session.DeviceSession]struct{})
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Dispose()
		c.metrics.Remove(s.ID())
	}
}
