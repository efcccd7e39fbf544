package session

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
)

// producerQueueDepth is how many outbound commands may be buffered before
// Send blocks.
const producerQueueDepth = 64

// Producer is the single background worker that FIFO-drains outbound text
// commands to a byte sink. Send may be called concurrently from any
// goroutine; the channel it enqueues onto preserves delivery order.
type Producer struct {
	sink io.Writer
	log  *logrus.Entry

	mu      sync.Mutex
	running bool
	queue   chan []byte
	abort   chan struct{}
	done    chan struct{}
}

// NewProducer returns a Producer writing to sink once started.
func NewProducer(sink io.Writer, log *logrus.Entry) *Producer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Producer{sink: sink, log: log}
}

// Start is idempotent: it spins up the background worker if not already
// running.
func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.queue = make(chan []byte, producerQueueDepth)
	p.abort = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.queue, p.abort, p.done)
}

func (p *Producer) run(queue chan []byte, abort, done chan struct{}) {
	defer close(done)
	for {
		select {
		case msg, ok := <-queue:
			if !ok {
				return
			}
			if _, err := p.sink.Write(msg); err != nil {
				p.log.WithError(err).Warn("producer: write failed")
			}
		case <-abort:
			return
		}
	}
}

// Send enqueues msg for delivery. It fails with ErrNotRunning when the
// producer is stopped and ErrNullMessage for an empty message. The enqueue
// itself happens under the same lock Stop/StopSafely use to flip running
// and close the queue, so a concurrent shutdown can never close the queue
// out from under an in-flight send.
func (p *Producer) Send(msg []byte) error {
	if len(msg) == 0 {
		return daqerr.ErrNullMessage
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return daqerr.ErrNotRunning
	}
	p.queue <- msg
	return nil
}

// Stop discards any queued-but-unsent messages and returns immediately.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.abort)
}

// StopSafely stops accepting new sends and lets the worker drain whatever
// is already queued, waiting up to timeout. It returns whether the drain
// completed before the deadline; it never returns an error for a timeout.
func (p *Producer) StopSafely(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return true
	}
	p.running = false
	close(p.queue)
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
