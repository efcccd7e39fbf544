package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daqifi/daqifi-client-go/pkg/wire"
)

// ioRetryBackoff is how long the consumer waits after a non-timeout read
// error before retrying.
const ioRetryBackoff = 100 * time.Millisecond

// readChunkSize is how much the consumer asks the source for per Read.
const readChunkSize = 4096

// rawMessageHandler is called with one complete frame as delivered by the
// configured Framer.
type rawMessageHandler func(msg []byte)

// rawErrorHandler is called for any non-timeout IO error from the source.
type rawErrorHandler func(err error)

// Consumer is the single background worker that reads from a byte source,
// feeds a Framer, and emits framed messages and IO errors to subscribers.
// Read timeouts are expected (they bound the operational read deadline)
// and are treated as "no data yet", not an error.
type Consumer struct {
	source io.Reader
	framer wire.Framer
	log    *logrus.Entry

	mu        sync.Mutex
	running   bool
	abort     chan struct{}
	done      chan struct{}
	buf       []byte
	onMessage rawMessageHandler
	onError   rawErrorHandler
}

// NewConsumer returns a Consumer reading from source through framer.
func NewConsumer(source io.Reader, framer wire.Framer, log *logrus.Entry) *Consumer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Consumer{source: source, framer: framer, log: log}
}

// OnMessage registers the handler invoked for each framed message.
func (c *Consumer) OnMessage(h rawMessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

// OnError registers the handler invoked for each non-timeout IO error.
func (c *Consumer) OnError(h rawErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = h
}

// Start is idempotent: it spins up the background worker if not already
// running.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.abort = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.abort, c.done)
}

func (c *Consumer) run(abort, done chan struct{}) {
	defer close(done)
	readBuf := make([]byte, readChunkSize)

	for {
		select {
		case <-abort:
			return
		default:
		}

		n, err := c.source.Read(readBuf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if handler := c.errorHandler(); handler != nil {
				handler(err)
			}
			select {
			case <-time.After(ioRetryBackoff):
			case <-abort:
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		c.buf = append(c.buf, readBuf[:n]...)
		messages, consumed := c.framer.ParseMessages(c.buf)

		// Deliver before compacting: the framed slices alias the front of
		// c.buf, which the compaction below overwrites.
		if handler := c.messageHandler(); handler != nil {
			for _, m := range messages {
				handler(m)
			}
		}

		if consumed > 0 {
			remaining := len(c.buf) - consumed
			copy(c.buf, c.buf[consumed:])
			c.buf = c.buf[:remaining]
		}
	}
}

func (c *Consumer) messageHandler() rawMessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onMessage
}

func (c *Consumer) errorHandler() rawErrorHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onError
}

// FlushSource discards any bytes already buffered by this consumer plus
// whatever the source can deliver before its read deadline expires, so a
// freshly (re)started consumer doesn't parse stale data from a previous
// mode. It must only be called while the consumer is stopped.
func (c *Consumer) FlushSource() {
	c.mu.Lock()
	c.buf = c.buf[:0]
	c.mu.Unlock()

	scratch := make([]byte, readChunkSize)
	for {
		n, err := c.source.Read(scratch)
		if err != nil || n == 0 {
			return
		}
	}
}

// Stop aborts the read loop immediately without waiting for it to exit.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	abort := c.abort
	c.mu.Unlock()
	close(abort)
}

// StopSafely signals the read loop to exit and waits up to timeout for it
// to do so, relying on the source's short operational read deadline to
// unblock the in-flight Read promptly. It returns whether the loop exited
// before the deadline.
func (c *Consumer) StopSafely(timeout time.Duration) bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return true
	}
	c.running = false
	abort := c.abort
	done := c.done
	c.mu.Unlock()

	close(abort)

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
