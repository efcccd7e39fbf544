package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProducerSendBeforeStartFailsNotRunning(t *testing.T) {
	p := NewProducer(&lockedBuffer{}, nil)
	if err := p.Send([]byte("x")); !errors.Is(err, daqerr.ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestProducerSendNilFailsNullMessage(t *testing.T) {
	p := NewProducer(&lockedBuffer{}, nil)
	p.Start()
	defer p.Stop()
	if err := p.Send(nil); !errors.Is(err, daqerr.ErrNullMessage) {
		t.Fatalf("err = %v, want ErrNullMessage", err)
	}
}

func TestProducerDeliversInOrder(t *testing.T) {
	sink := &lockedBuffer{}
	p := NewProducer(sink, nil)
	p.Start()

	for _, msg := range []string{"a", "b", "c"} {
		if err := p.Send([]byte(msg)); err != nil {
			t.Fatal(err)
		}
	}
	if !p.StopSafely(time.Second) {
		t.Fatal("StopSafely() = false, want drain to complete")
	}
	if got := sink.String(); got != "abc" {
		t.Fatalf("sink = %q, want %q", got, "abc")
	}
}

func TestProducerStartIsIdempotent(t *testing.T) {
	p := NewProducer(&lockedBuffer{}, nil)
	p.Start()
	p.Start()
	defer p.Stop()
	if err := p.Send([]byte("x")); err != nil {
		t.Fatal(err)
	}
}

func TestProducerSendRaceWithStopSafelyNeverPanics(t *testing.T) {
	sink := &lockedBuffer{}
	p := NewProducer(sink, nil)
	p.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = p.Send([]byte("x"))
		}
	}()

	p.StopSafely(time.Second)
	wg.Wait()
}

func TestProducerStopWithQueuedMessagesRejectsLaterSends(t *testing.T) {
	sink := &lockedBuffer{}
	p := NewProducer(sink, nil)
	p.Start()
	// Queue several messages, then stop immediately.
	for i := 0; i < 8; i++ {
		_ = p.Send([]byte("x"))
	}
	p.Stop()
	if err := p.Send([]byte("y")); !errors.Is(err, daqerr.ErrNotRunning) {
		t.Fatalf("Send() after Stop() err = %v, want ErrNotRunning", err)
	}
}
