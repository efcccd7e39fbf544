package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/xid"
)

func TestCollectorTracksAddedSession(t *testing.T) {
	c := NewCollector()
	id := xid.New()
	c.Add(id)
	c.SetStatus(id, 2)
	c.SetBytes(id, 100, 50)
	c.SetConnectAttempts(id, 1)
	c.IncParseErrors(id)

	if got := testutil.CollectAndCount(c); got == 0 {
		t.Fatal("CollectAndCount() = 0, want at least one metric")
	}
}

func TestCollectorRemoveStopsTracking(t *testing.T) {
	c := NewCollector()
	id := xid.New()
	c.Add(id)
	c.Remove(id)

	// Updating a removed session must not panic or resurrect it.
	c.SetStatus(id, 1)
	c.SetBytes(id, 1, 1)
}

func TestCollectorDiscoveredDevicesAccumulates(t *testing.T) {
	c := NewCollector()
	c.IncDevicesDiscovered(3)
	c.IncDevicesDiscovered(2)
	if c.devices != 5 {
		t.Fatalf("devices = %v, want 5", c.devices)
	}
}
