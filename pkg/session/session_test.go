package session

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func startEcholessListener(t *testing.T) (net.Listener, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	return ln, accepted
}

// The five handshake commands must be sent in the documented order, and
// the session must end in Ready.
func TestInitializeAsyncHandshakeOrder(t *testing.T) {
	ln, accepted := startEcholessListener(t)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	sess, err := New(addr.IP.String(), addr.Port)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()

	ctx := context.Background()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("listener never accepted a connection")
	}
	defer serverConn.Close()

	reader := bufio.NewReader(serverConn)
	lines := make(chan string, 8)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	// Shrink the handshake pacing for the test's own sake isn't possible
	// (the constants are package-level), so bound the wait generously:
	// five steps, the slowest being the 500ms info-query pause.
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sess.InitializeAsync(initCtx); err != nil {
		t.Fatalf("InitializeAsync() = %v, want nil", err)
	}
	if sess.Status() != Ready {
		t.Fatalf("Status() = %v, want Ready", sess.Status())
	}

	want := []string{
		"SYSTem:ECHO -1\r\n",
		"SYSTem:StopStreamData\r\n",
		"SYSTem:POWer:STATe 1\r\n",
		"SYSTem:STReam:FORmat 0\r\n",
		"SYSTem:SYSInfoPB?\r\n",
	}
	for i, w := range want {
		select {
		case got := <-lines:
			if got != w {
				t.Fatalf("command[%d] = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for command[%d] = %q", i, w)
		}
	}
}

// A second InitializeAsync call while Ready must be a no-op, queuing no
// additional commands.
func TestInitializeAsyncIsIdempotentWhileReady(t *testing.T) {
	ln, accepted := startEcholessListener(t)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	sess, err := New(addr.IP.String(), addr.Port)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()

	ctx := context.Background()
	if err := sess.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted
	defer serverConn.Close()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sess.InitializeAsync(initCtx); err != nil {
		t.Fatal(err)
	}

	// Drain whatever the first handshake wrote so the second call's
	// no-op-ness is observable.
	_ = serverConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 4096)
	for {
		if _, err := serverConn.Read(buf); err != nil {
			break
		}
	}

	if err := sess.InitializeAsync(context.Background()); err != nil {
		t.Fatalf("second InitializeAsync() = %v, want nil", err)
	}

	_ = serverConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err := serverConn.Read(buf)
	if err == nil {
		t.Fatalf("second InitializeAsync() wrote %q, want nothing", buf[:n])
	}
}

func TestStartStreamingRequiresReady(t *testing.T) {
	sess, err := New("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()
	if err := sess.StartStreaming(100); err == nil {
		t.Fatal("StartStreaming() = nil, want error before initialization")
	}
}

func TestStartStreamingRejectsOutOfRangeRate(t *testing.T) {
	sess, err := New("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()
	for _, rate := range []int{0, 1001, -5} {
		if err := sess.StartStreaming(rate); err == nil {
			t.Fatalf("StartStreaming(%d) = nil, want error", rate)
		}
	}
}

// TestStartStopStreamingTransitions walks the Ready <-> Streaming leg of
// the session state machine against a live listener.
func TestStartStopStreamingTransitions(t *testing.T) {
	ln, accepted := startEcholessListener(t)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	sess, err := New(addr.IP.String(), addr.Port)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()

	ctx := context.Background()
	if err := sess.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted
	defer serverConn.Close()

	reader := bufio.NewReader(serverConn)
	lines := make(chan string, 16)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sess.InitializeAsync(initCtx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		select {
		case <-lines:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining handshake commands")
		}
	}

	if err := sess.StartStreaming(100); err != nil {
		t.Fatalf("StartStreaming() = %v, want nil", err)
	}
	if sess.Status() != Streaming {
		t.Fatalf("Status() = %v, want Streaming", sess.Status())
	}
	select {
	case got := <-lines:
		if got != "SYSTem:StartStreamData 100\r\n" {
			t.Fatalf("command = %q, want StartStreamData", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for StartStreamData")
	}

	if err := sess.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming() = %v, want nil", err)
	}
	if sess.Status() != Ready {
		t.Fatalf("Status() = %v, want Ready", sess.Status())
	}
	select {
	case got := <-lines:
		if got != "SYSTem:StopStreamData\r\n" {
			t.Fatalf("command = %q, want StopStreamData", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for StopStreamData")
	}
}

// TestSessionTransitionsToLostOnTransportLoss checks the loss propagation
// path: the remote closing the connection while the session is live must
// drive the session to Lost, without auto-reconnect.
func TestSessionTransitionsToLostOnTransportLoss(t *testing.T) {
	ln, accepted := startEcholessListener(t)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	sess, err := New(addr.IP.String(), addr.Port)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted
	serverConn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Status() == Lost {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Status() = %v, want Lost after remote close", sess.Status())
}

func TestSessionSendFailsNotConnected(t *testing.T) {
	sess, err := New("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()
	if err := sess.Send("x"); err == nil {
		t.Fatal("Send() = nil, want error before Connect")
	}
}

// TestPopulateChannelsIdempotentForEqualInputs: repeated identical status
// payloads must rebuild an equal channel list and fire the event once per
// call, with each event carrying a defensive snapshot.
func TestPopulateChannelsIdempotentForEqualInputs(t *testing.T) {
	sess, err := New("127.0.0.1", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Dispose()

	events := 0
	var lastAnalog, lastDigital int
	sess.OnChannelsPopulated(func(chs []ChannelSnapshot, analog, digital int) {
		events++
		lastAnalog, lastDigital = analog, digital
	})

	cal := []calibrationEntry{{slope: 2, offset: 1, internalScale: 1, portRange: 5, resolution: 4095}}
	for i := 0; i < 2; i++ {
		sess.PopulateChannelsFromStatus(3, 4, cal)
	}

	if events != 2 {
		t.Fatalf("ChannelsPopulated fired %d times, want 2 (one per call)", events)
	}
	if lastAnalog != 3 || lastDigital != 4 {
		t.Fatalf("counts = (%d, %d), want (3, 4)", lastAnalog, lastDigital)
	}

	analog := sess.AnalogChannels()
	if len(analog) != 3 {
		t.Fatalf("len(AnalogChannels()) = %d, want 3", len(analog))
	}
	if analog[0].Name != "AI0" || analog[0].CalibrationSlope != 2 || analog[0].Resolution != 4095 {
		t.Fatalf("AI0 = %+v, want supplied calibration applied", analog[0])
	}
	// Channels beyond the calibration array fall back to the defaults.
	if analog[2].CalibrationSlope != 1 || analog[2].Resolution != 65535 {
		t.Fatalf("AI2 = %+v, want default calibration", analog[2])
	}
	digital := sess.DigitalChannels()
	if len(digital) != 4 || digital[3].Name != "DIO3" {
		t.Fatalf("DigitalChannels() = %v, want 4 ending in DIO3", digital)
	}
}
