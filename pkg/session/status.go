package session

import "time"

// Status is the session-level lifecycle state, a superset of the
// transport's connection status: it additionally tracks the handshake
// (Initializing/Ready) and streaming phases layered on top of a live
// transport.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Initializing
	Ready
	Streaming
	Lost
	Error
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Streaming:
		return "streaming"
	case Lost:
		return "lost"
	case Error:
		return "error"
	default:
		return "disconnected"
	}
}

// StatusEvent is delivered to a StatusHandler on every session transition.
type StatusEvent struct {
	Status Status
	Err    error
}

// StatusHandler observes session lifecycle transitions.
type StatusHandler func(StatusEvent)

// ChannelSnapshot is a read-only, point-in-time view of one channel,
// handed to ChannelsPopulated subscribers instead of a live pointer.
type ChannelSnapshot struct {
	Index    uint
	Name     string
	Enabled  bool
	IsAnalog bool
}

// ChannelsHandler observes a freshly rebuilt channel list.
type ChannelsHandler func(channels []ChannelSnapshot, analogCount, digitalCount int)

// MessageHandler observes a decoded stream record.
type MessageHandler func(StreamSample)

// ErrorHandler observes a non-fatal parse or IO error surfaced while the
// session's consumer is running. The session keeps running; this is a
// notification, not a transition.
type ErrorHandler func(error)

// StreamSample is the decoded, timestamped payload of one stream record,
// handed to subscribers registered with DeviceSession.OnMessage.
type StreamSample struct {
	DeviceTick       uint32
	Instant          time.Time
	WasRollover      bool
	SecondsSinceLast float64
	AnalogRaw        []float64
	DigitalBits      []bool
}
