// Package session drives one device's connection lifecycle: dialing the
// TCP data channel, running the init handshake, routing decoded records
// to metadata/channel state or external stream subscribers, and the
// record/line framer handoff that backs ExecuteTextCommand.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/daqifi/daqifi-client-go/pkg/channel"
	"github.com/daqifi/daqifi-client-go/pkg/daqerr"
	"github.com/daqifi/daqifi-client-go/pkg/metadata"
	"github.com/daqifi/daqifi-client-go/pkg/retrypolicy"
	"github.com/daqifi/daqifi-client-go/pkg/timestamp"
	"github.com/daqifi/daqifi-client-go/pkg/transport"
	"github.com/daqifi/daqifi-client-go/pkg/wire"
)

// Handshake commands and pacing.
const (
	cmdDisableEcho    = "SYSTem:ECHO -1\r\n"
	cmdStopStream     = "SYSTem:StopStreamData\r\n"
	cmdPowerOn        = "SYSTem:POWer:STATe 1\r\n"
	cmdStreamFormat   = "SYSTem:STReam:FORmat 0\r\n"
	cmdSysInfo        = "SYSTem:SYSInfoPB?\r\n"
	handshakeInterval = 100 * time.Millisecond
	infoQueryInterval = 500 * time.Millisecond

	// handshakeCompletionTimeout bounds how long InitializeAsync waits for
	// its temporary line consumer to stop before restoring the record
	// consumer.
	handshakeCompletionTimeout = 2 * time.Second

	// errorLinePrefix marks a device reply as a negative-code protocol
	// error (e.g. "**ERROR: -1").
	errorLinePrefix = "**ERROR: -"
)

// StartStreamCommand returns the command that starts streaming at rateHz
// (1..1000).
func StartStreamCommand(rateHz int) string {
	return fmt.Sprintf("SYSTem:StartStreamData %d\r\n", rateHz)
}

// EnableAnalogMaskCommand returns the per-channel enable command for the
// given LSB-first channel bitmask.
func EnableAnalogMaskCommand(mask uint32) string {
	return fmt.Sprintf("ENAble:VOLTage:DC %d\r\n", mask)
}

// Option configures a DeviceSession at construction.
type Option func(*DeviceSession)

// WithLogger attaches a logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *DeviceSession) { s.log = log }
}

// WithRetryPolicy overrides the connect retry policy (default
// retrypolicy.Default()).
func WithRetryPolicy(p retrypolicy.Policy) Option {
	return func(s *DeviceSession) { s.policy = p }
}

// DeviceSession owns one device's transport, producer, consumer, and
// derived state (metadata, channels). It is the sole owner of all of
// these; none are shared with another session.
type DeviceSession struct {
	id  xid.ID
	log *logrus.Entry

	transport *transport.TcpTransport
	policy    retrypolicy.Policy

	mu          sync.Mutex
	status      Status
	initialized bool
	disposed    bool

	producer *Producer
	consumer *Consumer

	metadata        *metadata.Metadata
	analogChannels  []*channel.Analog
	digitalChannels []*channel.Digital
	ts              *timestamp.Processor

	statusHandlers   []StatusHandler
	channelsHandlers []ChannelsHandler
	messageHandlers  []MessageHandler
	errorHandlers    []ErrorHandler
}

// ID returns the session's correlation id, used as a logging field and as
// the metrics label identifying this session.
func (s *DeviceSession) ID() xid.ID { return s.id }

// New returns a DeviceSession for host:port, not yet connected.
func New(host string, port int, opts ...Option) (*DeviceSession, error) {
	tr, err := transport.NewTcpTransport(host, port)
	if err != nil {
		return nil, err
	}

	s := &DeviceSession{
		id:        xid.New(),
		log:       logrus.NewEntry(logrus.StandardLogger()),
		transport: tr,
		policy:    retrypolicy.Default(),
		metadata:  metadata.New(),
		ts:        timestamp.NewProcessor(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("session_id", s.id.String())

	s.transport.OnStatusChange(s.onTransportStatusChange)
	return s, nil
}

// OnStatusChange registers a session status observer.
func (s *DeviceSession) OnStatusChange(h StatusHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusHandlers = append(s.statusHandlers, h)
}

// OnChannelsPopulated registers an observer invoked after every channel
// list rebuild.
func (s *DeviceSession) OnChannelsPopulated(h ChannelsHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelsHandlers = append(s.channelsHandlers, h)
}

// OnMessage registers an observer invoked for every decoded stream
// record.
func (s *DeviceSession) OnMessage(h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandlers = append(s.messageHandlers, h)
}

// OnError registers an observer invoked for every parse or IO error the
// session's consumer surfaces. These are notifications only; the consumer
// loop keeps running.
func (s *DeviceSession) OnError(h ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandlers = append(s.errorHandlers, h)
}

// emitError logs and fans out a non-fatal consumer error (IO or
// parse/decode) to every registered ErrorHandler.
func (s *DeviceSession) emitError(err error) {
	s.log.WithError(err).Warn("session: consumer error")

	s.mu.Lock()
	handlers := append([]ErrorHandler(nil), s.errorHandlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

func (s *DeviceSession) setStatus(status Status, err error) {
	s.mu.Lock()
	s.status = status
	handlers := append([]StatusHandler(nil), s.statusHandlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(StatusEvent{Status: status, Err: err})
	}
}

// Status returns the current session status.
func (s *DeviceSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *DeviceSession) onTransportStatusChange(e transport.StatusEvent) {
	if e.Status != transport.Lost && e.Status != transport.Disconnected {
		return
	}
	s.mu.Lock()
	wasLive := s.status == Connected || s.status == Initializing || s.status == Ready || s.status == Streaming
	s.mu.Unlock()
	if wasLive && e.Status == transport.Lost {
		s.setStatus(Lost, daqerr.ErrTransportLost)
	}
}

// Connect drives the transport to Connected, then starts a producer over
// its write side and a consumer over its read side using the record
// framer. Failure rolls the session back to Disconnected and returns the
// underlying error.
func (s *DeviceSession) Connect(ctx context.Context) error {
	if s.isDisposed() {
		return daqerr.ErrDisposed
	}

	s.setStatus(Connecting, nil)

	if err := s.transport.Connect(ctx, s.policy); err != nil {
		s.setStatus(Disconnected, err)
		return err
	}

	producer := NewProducer(s.transport, s.log)
	consumer := NewConsumer(s.transport, wire.NewRecordFramer(), s.log)
	consumer.OnMessage(s.handleRecord)
	consumer.OnError(s.emitError)

	s.mu.Lock()
	s.producer = producer
	s.consumer = consumer
	s.mu.Unlock()

	producer.Start()
	consumer.Start()

	s.setStatus(Connected, nil)
	return nil
}

// Disconnect stops the consumer then the producer (each via StopSafely),
// closes the transport, and resets the session to Disconnected. It is
// safe to call even if never connected.
func (s *DeviceSession) Disconnect() error {
	s.mu.Lock()
	consumer := s.consumer
	producer := s.producer
	s.consumer = nil
	s.producer = nil
	s.initialized = false
	s.mu.Unlock()

	if consumer != nil {
		consumer.StopSafely(2 * time.Second)
	}
	if producer != nil {
		producer.StopSafely(2 * time.Second)
	}
	if err := s.transport.Disconnect(); err != nil {
		return err
	}
	s.setStatus(Disconnected, nil)
	return nil
}

// Send enqueues a text command via the producer. It requires the session
// to be Connected, Initializing, Ready, or Streaming.
func (s *DeviceSession) Send(message string) error {
	producer, err := s.requireProducer()
	if err != nil {
		return err
	}
	return producer.Send([]byte(message))
}

func (s *DeviceSession) requireProducer() (*Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, daqerr.ErrDisposed
	}
	if s.status != Connected && s.status != Ready && s.status != Streaming && s.status != Initializing {
		return nil, daqerr.ErrNotConnected
	}
	if s.producer == nil {
		return nil, daqerr.ErrNotConnected
	}
	return s.producer, nil
}

// InitializeAsync runs the fixed-pacing init handshake: disable echo, stop
// any active stream, power on, select the record stream format, then
// request device info. While it runs, the consumer is swapped to line mode
// (via ExecuteTextCommand) so any reply lines can be inspected; a
// negative-code reply ("**ERROR: -...")
// transitions the session to Error and is returned as daqerr.ErrProtocol.
// InitializeAsync is idempotent while Ready. On any other failure it also
// transitions to Error and returns the failing error.
func (s *DeviceSession) InitializeAsync(ctx context.Context) error {
	if s.Status() == Ready {
		return nil
	}

	if _, err := s.requireProducer(); err != nil {
		s.setStatus(Error, err)
		return err
	}

	s.setStatus(Initializing, nil)

	steps := []struct {
		cmd   string
		pause time.Duration
	}{
		{cmdDisableEcho, handshakeInterval},
		{cmdStopStream, handshakeInterval},
		{cmdPowerOn, handshakeInterval},
		{cmdStreamFormat, handshakeInterval},
		{cmdSysInfo, infoQueryInterval},
	}

	lines, err := s.ExecuteTextCommand(ctx, func() error {
		producer, perr := s.requireProducer()
		if perr != nil {
			return perr
		}
		for _, step := range steps {
			if err := producer.Send([]byte(step.cmd)); err != nil {
				return err
			}
			if err := sleepCtx(ctx, step.pause); err != nil {
				return err
			}
		}
		return nil
	}, 0, handshakeCompletionTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("session: init handshake: %w: %w", daqerr.ErrTimeout, err)
		}
		s.setStatus(Error, err)
		return err
	}

	if err := protocolErrorIn(lines); err != nil {
		s.setStatus(Error, err)
		return err
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.setStatus(Ready, nil)
	return nil
}

// protocolErrorIn reports daqerr.ErrProtocol if any reply line carries a
// negative-code error marker.
func protocolErrorIn(lines []string) error {
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), errorLinePrefix) {
			return daqerr.ErrProtocol
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteTextCommand temporarily swaps the consumer from record mode to
// line mode, runs setup (which sends commands via the producer),
// collects plain-text reply lines for responseTimeout, then restores the
// record consumer. The record consumer is resumed even if an earlier step
// fails.
func (s *DeviceSession) ExecuteTextCommand(ctx context.Context, setup func() error, responseTimeout, completionTimeout time.Duration) ([]string, error) {
	s.mu.Lock()
	recordConsumer := s.consumer
	s.mu.Unlock()
	if recordConsumer == nil {
		return nil, daqerr.ErrNotConnected
	}

	recordConsumer.StopSafely(completionTimeout)
	// Discard stale record bytes so reply lines aren't parsed against the
	// tail of an interrupted binary frame.
	recordConsumer.FlushSource()

	var mu sync.Mutex
	var lines []string
	lineConsumer := NewConsumer(s.transport, wire.NewLineFramer(), s.log)
	lineConsumer.OnMessage(func(msg []byte) {
		mu.Lock()
		lines = append(lines, string(msg))
		mu.Unlock()
	})

	var setupErr error
	defer func() {
		lineConsumer.StopSafely(completionTimeout)

		newRecordConsumer := NewConsumer(s.transport, wire.NewRecordFramer(), s.log)
		newRecordConsumer.OnMessage(s.handleRecord)
		newRecordConsumer.OnError(s.emitError)
		newRecordConsumer.Start()

		s.mu.Lock()
		s.consumer = newRecordConsumer
		s.mu.Unlock()
	}()

	lineConsumer.Start()

	if setup != nil {
		setupErr = setup()
	}
	if setupErr != nil {
		return nil, setupErr
	}

	if err := sleepCtx(ctx, responseTimeout); err != nil {
		return nil, err
	}

	mu.Lock()
	result := append([]string(nil), lines...)
	mu.Unlock()
	return result, nil
}

// StartStreaming asks the device to stream at rateHz (1..1000 Hz) and
// moves the session from Ready to Streaming. The session must be
// initialized first.
func (s *DeviceSession) StartStreaming(rateHz int) error {
	if rateHz < 1 || rateHz > 1000 {
		return fmt.Errorf("session: rate %d Hz out of range [1,1000]: %w", rateHz, daqerr.ErrInvalidConfiguration)
	}

	s.mu.Lock()
	if s.status != Ready && s.status != Streaming {
		s.mu.Unlock()
		return daqerr.ErrNotConnected
	}
	producer := s.producer
	s.mu.Unlock()

	if err := producer.Send([]byte(StartStreamCommand(rateHz))); err != nil {
		return err
	}
	s.setStatus(Streaming, nil)
	return nil
}

// StopStreaming asks the device to stop streaming and moves the session
// back to Ready. It is a no-op when not Streaming.
func (s *DeviceSession) StopStreaming() error {
	s.mu.Lock()
	if s.status != Streaming {
		s.mu.Unlock()
		return nil
	}
	producer := s.producer
	s.mu.Unlock()

	if err := producer.Send([]byte(cmdStopStream)); err != nil {
		return err
	}
	s.setStatus(Ready, nil)
	return nil
}

// TransportStats returns the underlying transport's lifetime byte and
// connect-attempt counters, for callers feeding metrics.
func (s *DeviceSession) TransportStats() transport.Stats {
	return s.transport.Stats()
}

// handleRecord is the protocol handler: it classifies each decoded record
// as Status or Stream and routes it accordingly.
func (s *DeviceSession) handleRecord(payload []byte) {
	rec, ok := decodeRecord(payload)
	if !ok {
		s.emitError(daqerr.ErrParse)
		return
	}

	if rec.isStream() {
		s.handleStreamRecord(rec)
		return
	}
	s.handleStatusRecord(rec)
}

// mergeMetadataFrom applies whatever identity/configuration fields rec
// carries to the session's metadata under the non-empty-wins rule. Firmware
// occasionally embeds these in stream records too, so both record roles
// funnel through here.
func (s *DeviceSession) mergeMetadataFrom(rec record) {
	s.metadata.Merge(metadata.Fields{
		PartNumber:             rec.devicePN,
		SerialNumber:           rec.deviceSN,
		FirmwareRev:            rec.deviceFWRev,
		HardwareRev:            rec.hardwareRev,
		HostName:               rec.hostName,
		SSID:                   rec.ssid,
		DevicePort:             uint16(rec.devicePort),
		WifiSecurityMode:       rec.wifiSecMode,
		WifiInfrastructureMode: rec.wifiInfra,
		IPBytes:                rec.ipAddr,
		MACBytes:               rec.macAddr,
	})
}

func (s *DeviceSession) handleStatusRecord(rec record) {
	s.mergeMetadataFrom(rec)
	s.PopulateChannelsFromStatus(rec.analogPortCount, rec.digitalPortCount, rec.calibration)
}

// PopulateChannelsFromStatus rebuilds the channel list from scratch:
// analogPortCount analog channels (AI0..AI(n-1)) using calibration[i] when
// present (defaulting otherwise), and digitalPortCount digital channels
// (DIO0..DIO(m-1)). It emits ChannelsPopulated with a defensive snapshot.
func (s *DeviceSession) PopulateChannelsFromStatus(analogPortCount, digitalPortCount int, calibration []calibrationEntry) {
	analog := make([]*channel.Analog, 0, analogPortCount)
	for i := 0; i < analogPortCount; i++ {
		ch := channel.NewAnalog(uint(i), fmt.Sprintf("AI%d", i))
		if i < len(calibration) {
			cal := calibration[i]
			ch.CalibrationSlope = cal.slope
			ch.CalibrationOffset = cal.offset
			ch.InternalScale = cal.internalScale
			ch.PortRange = cal.portRange
			ch.Resolution = uint(cal.resolution)
		}
		analog = append(analog, ch)
	}

	digital := make([]*channel.Digital, 0, digitalPortCount)
	for i := 0; i < digitalPortCount; i++ {
		digital = append(digital, channel.NewDigital(uint(i), fmt.Sprintf("DIO%d", i)))
	}

	s.mu.Lock()
	s.analogChannels = analog
	s.digitalChannels = digital
	handlers := append([]ChannelsHandler(nil), s.channelsHandlers...)
	s.mu.Unlock()

	snapshot := make([]ChannelSnapshot, 0, len(analog)+len(digital))
	for _, ch := range analog {
		snapshot = append(snapshot, ChannelSnapshot{Index: ch.Index, Name: ch.Name, Enabled: ch.Enabled, IsAnalog: true})
	}
	for _, ch := range digital {
		snapshot = append(snapshot, ChannelSnapshot{Index: ch.Index, Name: ch.Name, Enabled: ch.Enabled, IsAnalog: false})
	}

	for _, h := range handlers {
		h(snapshot, len(analog), len(digital))
	}
}

func (s *DeviceSession) handleStreamRecord(rec record) {
	s.mergeMetadataFrom(rec)

	result := s.ts.Process(s.id.String(), rec.tick)

	s.mu.Lock()
	analogChannels := s.analogChannels
	digitalChannels := s.digitalChannels
	handlers := append([]MessageHandler(nil), s.messageHandlers...)
	s.mu.Unlock()

	values := rec.analogFloat
	if len(values) == 0 {
		values = make([]float64, len(rec.analogInt))
		for i, v := range rec.analogInt {
			values[i] = float64(v)
		}
	}
	for i, raw := range values {
		if i < len(analogChannels) {
			analogChannels[i].SetActiveSample(raw, result.Instant)
		}
	}

	bits := make([]bool, 0, len(rec.digitalData)*8)
	for _, b := range rec.digitalData {
		for bit := 0; bit < 8; bit++ {
			set := b&(1<<uint(bit)) != 0
			bits = append(bits, set)
			idx := len(bits) - 1
			if idx < len(digitalChannels) {
				digitalChannels[idx].SetActiveSample(set, result.Instant)
			}
		}
	}

	sample := StreamSample{
		DeviceTick:       rec.tick,
		Instant:          result.Instant,
		WasRollover:      result.WasRollover,
		SecondsSinceLast: result.SecondsSinceLast,
		AnalogRaw:        values,
		DigitalBits:      bits,
	}
	for _, h := range handlers {
		h(sample)
	}
}

// Metadata returns a snapshot of the session's accumulated device
// metadata.
func (s *DeviceSession) Metadata() metadata.Snapshot {
	return s.metadata.Snapshot()
}

// AnalogChannels returns the current analog channel list. The slice
// itself is a fresh copy; the channels it holds are still shared,
// mutable, lock-guarded instances.
func (s *DeviceSession) AnalogChannels() []*channel.Analog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*channel.Analog(nil), s.analogChannels...)
}

// DigitalChannels returns the current digital channel list.
func (s *DeviceSession) DigitalChannels() []*channel.Digital {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*channel.Digital(nil), s.digitalChannels...)
}

func (s *DeviceSession) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose tears the session down permanently: disconnects, then marks the
// session and its transport disposed. Subsequent operations fail with
// ErrDisposed.
func (s *DeviceSession) Dispose() error {
	_ = s.Disconnect()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	return s.transport.Dispose()
}
