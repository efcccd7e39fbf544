package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
	"github.com/daqifi/daqifi-client-go/pkg/transport"
)

// freeUDPPort reserves and immediately releases a UDP port so the test can
// bind a Service to a known, predictable address.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func encodeTestResponse(sn uint64, port uint64, mac []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDevicePort, protowire.VarintType)
	b = protowire.AppendVarint(b, port)
	b = protowire.AppendTag(b, fieldHostName, protowire.BytesType)
	b = protowire.AppendString(b, "daqifi-test")
	b = protowire.AppendTag(b, fieldDeviceSN, protowire.VarintType)
	b = protowire.AppendVarint(b, sn)
	if len(mac) == 6 {
		b = protowire.AppendTag(b, fieldMACAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, mac)
	}
	return b
}

func frameRecord(payload []byte) []byte {
	var out []byte
	out = protowire.AppendVarint(out, uint64(len(payload)))
	out = append(out, payload...)
	return out
}

// When no devices respond within the timeout, Discover must return an
// empty result rather than treating the timeout as a failure.
func TestDiscoverNoDevicesReturnsEmpty(t *testing.T) {
	svc := NewService(WithPort(0))
	defer svc.Dispose()

	results, err := svc.Discover(context.Background(), 150*time.Millisecond, Handlers{})
	if err != nil {
		t.Fatalf("Discover() err = %v, want nil", err)
	}
	if len(results) != 0 {
		t.Fatalf("Discover() = %v, want empty", results)
	}
}

// Two responses sharing a MAC address (e.g. a retransmitted probe reply)
// must collapse into a single DeviceDescriptor.
func TestDiscoverDedupesByMAC(t *testing.T) {
	port := freeUDPPort(t)

	u := transport.NewUdpTransport(nil)
	if err := u.Open(0); err != nil {
		t.Fatal(err)
	}
	defer u.Close()

	svc := NewService(WithPort(port))
	defer svc.Dispose()

	// Two responses sharing a MAC but carrying different serial numbers
	// must still collapse into one descriptor: MAC wins as the identity.
	mac := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
	datagrams := [][]byte{
		frameRecord(encodeTestResponse(12345, 3000, mac)),
		frameRecord(encodeTestResponse(67890, 3000, mac)),
	}
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}

	var discovered []DeviceDescriptor
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		results, err := svc.Discover(ctx, 300*time.Millisecond, Handlers{
			OnDeviceDiscovered: func(d DeviceDescriptor) { discovered = append(discovered, d) },
		})
		if err != nil {
			t.Errorf("Discover() err = %v, want nil", err)
		}
		if len(results) != 1 {
			t.Errorf("Discover() results = %v, want exactly 1 deduped descriptor", results)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	for _, dg := range datagrams {
		if err := u.SendUnicast(dg, target); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	<-done

	if len(discovered) != 1 {
		t.Fatalf("OnDeviceDiscovered fired %d times, want exactly 1", len(discovered))
	}
	if discovered[0].MACAddress != "DE-AD-BE-EF-00-01" {
		t.Fatalf("MACAddress = %q, want DE-AD-BE-EF-00-01", discovered[0].MACAddress)
	}
}

func TestDiscoverFailsWhenDisposed(t *testing.T) {
	svc := NewService()
	svc.Dispose()
	if _, err := svc.Discover(context.Background(), time.Second, Handlers{}); err != daqerr.ErrDisposed {
		t.Fatalf("err = %v, want ErrDisposed", err)
	}
}
