package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
	"github.com/daqifi/daqifi-client-go/pkg/retrypolicy"
)

func TestNewTcpTransportRejectsEmptyHost(t *testing.T) {
	if _, err := NewTcpTransport("", 1000); !errors.Is(err, daqerr.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestNewTcpTransportRejectsBadPort(t *testing.T) {
	if _, err := NewTcpTransport("localhost", 70000); !errors.Is(err, daqerr.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
	if _, err := NewTcpTransport("localhost", 0); !errors.Is(err, daqerr.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestStreamFailsNotConnected(t *testing.T) {
	tr, err := NewTcpTransport("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Stream(); !errors.Is(err, daqerr.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestStreamFailsDisposed(t *testing.T) {
	tr, err := NewTcpTransport("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Dispose(); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Stream(); !errors.Is(err, daqerr.ErrDisposed) {
		t.Fatalf("err = %v, want ErrDisposed", err)
	}
}

func TestConnectSucceedsAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr, err := NewTcpTransport(addr.IP.String(), addr.Port)
	if err != nil {
		t.Fatal(err)
	}

	var events []StatusEvent
	tr.OnStatusChange(func(e StatusEvent) { events = append(events, e) })

	policy := retrypolicy.Policy{Enabled: true, MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffMultiplier: 2, PerAttemptTimeout: time.Second}
	if err := tr.Connect(context.Background(), policy); err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}
	if tr.Status() != Connected {
		t.Fatalf("Status() = %v, want Connected", tr.Status())
	}
	if len(events) < 2 || events[0].Status != Connecting || events[len(events)-1].Status != Connected {
		t.Fatalf("events = %v, want Connecting then ... Connected", events)
	}
}

func TestConnectFailsAfterExhaustingRetries(t *testing.T) {
	// Port 1 should be closed/unreachable in the test sandbox.
	tr, err := NewTcpTransport("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	policy := retrypolicy.Policy{Enabled: true, MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 1, PerAttemptTimeout: 200 * time.Millisecond}
	err = tr.Connect(context.Background(), policy)
	if !errors.Is(err, daqerr.ErrConnectFailed) {
		t.Fatalf("err = %v, want ErrConnectFailed", err)
	}
	if tr.Status() != Disconnected {
		t.Fatalf("Status() = %v, want Disconnected", tr.Status())
	}
}

func TestReadAfterRemoteCloseRaisesLost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr, err := NewTcpTransport(addr.IP.String(), addr.Port)
	if err != nil {
		t.Fatal(err)
	}
	policy := retrypolicy.Policy{Enabled: true, MaxAttempts: 1, MaxDelay: time.Second, BackoffMultiplier: 1, PerAttemptTimeout: time.Second}
	if err := tr.Connect(context.Background(), policy); err != nil {
		t.Fatal(err)
	}

	var lost bool
	tr.OnStatusChange(func(e StatusEvent) {
		if e.Status == Lost {
			lost = true
		}
	})

	serverConn := <-accepted
	serverConn.Close()

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := tr.Read(buf); err != nil && !isTimeoutErr(err) {
			break
		}
	}

	if !lost {
		t.Fatal("Lost status never raised after remote close")
	}
	if tr.Status() != Lost {
		t.Fatalf("Status() = %v, want Lost", tr.Status())
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	tr, err := NewTcpTransport("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatal(err)
	}
}
