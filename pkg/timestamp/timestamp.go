// Package timestamp reconstructs absolute time from the wrapping 32-bit
// tick counter each device publishes on its stream records.
package timestamp

import (
	"sync"
	"time"
)

// TickPeriod is the duration of one device tick. It is a policy constant:
// changing it changes how TickPeriod's wrap window (~85.9s) relates
// to RolloverSanityThreshold below.
const TickPeriod = 20 * time.Nanosecond

// RolloverSanityThreshold is a heuristic boundary: a rollover that would
// imply more than this many seconds elapsed is far more likely an
// out-of-order message than a genuine wrap, since uint32.max * TickPeriod
// is only about 85.9s.
const RolloverSanityThreshold = 10 * time.Second

// Result is what Process returns for a single tick observation.
type Result struct {
	Instant          time.Time
	WasRollover      bool
	TicksSinceLast   uint32
	SecondsSinceLast float64
	IsFirst          bool
}

type state struct {
	mu         sync.Mutex
	lastTick   uint32
	hasLast    bool
	anchorTime time.Time
}

// Processor holds per-device-id timestamp state. It is safe for concurrent
// use by multiple goroutines, including concurrent calls for distinct
// device ids; calls sharing an id are serialized so exactly one first-call
// result is produced per id.
type Processor struct {
	mu     sync.Mutex
	states map[string]*state
	now    func() time.Time
}

// NewProcessor returns an empty Processor.
func NewProcessor() *Processor {
	return &Processor{states: make(map[string]*state), now: time.Now}
}

func (p *Processor) stateFor(deviceID string) *state {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[deviceID]
	if !ok {
		s = &state{}
		p.states[deviceID] = s
	}
	return s
}

// Process converts tick, a device's wrapping 32-bit counter reading, into
// an absolute instant plus rollover/elapsed information relative to the
// previous call for the same deviceID.
func (p *Processor) Process(deviceID string, tick uint32) Result {
	s := p.stateFor(deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := p.now()

	if !s.hasLast {
		s.lastTick = tick
		s.hasLast = true
		s.anchorTime = now
		return Result{Instant: now, IsFirst: true}
	}

	var ticks uint32
	var wasRollover bool
	if tick >= s.lastTick {
		ticks = tick - s.lastTick
	} else {
		ticks = (^uint32(0) - s.lastTick) + tick + 1
		wasRollover = true
	}

	seconds := float64(ticks) * TickPeriod.Seconds()

	if wasRollover && time.Duration(seconds*float64(time.Second)) > RolloverSanityThreshold {
		// Almost certainly an out-of-order message, not a true rollover:
		// signal the anomaly with a negative duration without discarding
		// the observation.
		seconds = -seconds
	}

	s.lastTick = tick
	s.anchorTime = now

	return Result{
		Instant:          now,
		WasRollover:      wasRollover,
		TicksSinceLast:   ticks,
		SecondsSinceLast: seconds,
	}
}

// Reset clears state for a single device id.
func (p *Processor) Reset(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, deviceID)
}

// ResetAll clears state for every device id.
func (p *Processor) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = make(map[string]*state)
}
