package engine

import (
	"fmt"

	"github.com/opd-ai/a2dpsink/a2dp"
	"github.com/opd-ai/a2dpsink/limits"
	"github.com/opd-ai/a2dpsink/transport"
	"github.com/sirupsen/logrus"
)

// scratchSize holds the largest codec unit (16 blocks, 8 subbands, 2 channels).
const scratchSize = 16 * 8 * 2 * 2

// Engine is the transmit engine of one A2DP stream. It owns the ready queue,
// the encoder, the transmit buffer and the pacing state.
//
// An Engine is single-threaded: every method, and every callback it makes,
// runs on one goroutine. Loop provides that goroutine and the event sources.
type Engine struct {
	opts      Options
	log       *logrus.Entry
	transport transport.MediaTransport
	callbacks Callbacks
	sched     Scheduler
	observer  Observer
	adapter   *BitpoolAdapter

	format     AudioFormat
	haveFormat bool
	threshold  int
	pool       BufferPool

	started bool
	busy    bool
	inPull  bool
	healthy bool

	sock       transport.Socket
	enc        *Encoder
	tx         *Transmitter
	pacing     PacingState
	maxBitpool int
	sequence   uint16

	underrunning     bool
	underrunWarned   bool
	frameCountWarned bool

	silence []byte
	scratch []byte
	stats   Stats
}

// New creates a stopped engine for tr.
//
// Parameters:
//   - tr: Media transport, acquired at Start and released at Stop
//   - cb: Producer callbacks
//   - sched: Timer and writability sources
//   - opts: Engine options, nil for DefaultOptions()
//
// Returns:
//   - *Engine: The engine
//   - error: ErrInvalidArgument if a collaborator is nil
func New(tr transport.MediaTransport, cb Callbacks, sched Scheduler, opts *Options) (*Engine, error) {
	if tr == nil || cb == nil || sched == nil {
		return nil, fmt.Errorf("%w: transport, callbacks and scheduler are required", ErrInvalidArgument)
	}

	o := opts.withDefaults()
	e := &Engine{
		opts:      o,
		transport: tr,
		callbacks: cb,
		sched:     sched,
		observer:  o.Observer,
		threshold: limits.DefaultLatency,
		silence:   make([]byte, limits.TransmitBufferSize),
		scratch:   make([]byte, scratchSize),
		log:       logrus.WithField("stream", o.StreamID),
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if o.Adaptation != nil {
		e.adapter = NewBitpoolAdapter(o.Adaptation)
	}

	e.log.WithFields(logrus.Fields{
		"function":        "New",
		"max_frame_count": o.MaxFrameCount,
		"fill_frames":     o.FillFrames,
		"adaptation":      e.adapter != nil,
	}).Debug("Engine created")

	return e, nil
}

// StreamID returns the id carried on the engine's logs.
func (e *Engine) StreamID() string {
	return e.opts.StreamID
}

// Adapter returns the bitpool adapter, or nil when adaptation is disabled.
func (e *Engine) Adapter() *BitpoolAdapter {
	return e.adapter
}

// Started reports whether the stream is started.
func (e *Engine) Started() bool {
	return e.started
}

// Format returns the configured format and whether one is set.
func (e *Engine) Format() (AudioFormat, bool) {
	return e.format, e.haveFormat
}

// SetFormat sets the PCM input format and the pull threshold in frames.
// A nil format clears the format and every registered buffer.
func (e *Engine) SetFormat(format *AudioFormat, threshold int) error {
	if e.started {
		return ErrStarted
	}

	if format == nil {
		e.haveFormat = false
		e.format = AudioFormat{}
		e.pool.Clear()
		e.log.WithField("function", "SetFormat").Debug("Format cleared")
		return nil
	}

	if format.Rate == 0 || format.Channels < 1 || format.Channels > 2 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidFormat, format.Rate, format.Channels)
	}
	if err := limits.ValidateLatency(int64(threshold)); err != nil {
		return fmt.Errorf("%w: threshold: %w", ErrInvalidArgument, err)
	}

	e.format = *format
	e.haveFormat = true
	e.threshold = threshold

	e.log.WithFields(logrus.Fields{
		"function":   "SetFormat",
		"rate":       format.Rate,
		"channels":   format.Channels,
		"frame_size": format.FrameSize(),
		"threshold":  threshold,
	}).Debug("Format set")

	return nil
}

// UseBuffers registers the producer's buffers. Every buffer starts outstanding
// and its ID is set to its index. An empty slice clears the registration.
func (e *Engine) UseBuffers(bufs []*Buffer) error {
	if e.started {
		return ErrStarted
	}
	if !e.haveFormat {
		return ErrNoFormat
	}
	if err := e.pool.Use(bufs); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"function": "UseBuffers",
		"count":    len(bufs),
	}).Debug("Buffers registered")

	return nil
}

// Start acquires the transport, configures the encoder from the negotiated
// codec configuration, tunes the socket and enables the event sources.
// Starting a started engine is a no-op.
//
// Returns:
//   - error: ErrNoFormat, ErrNoBuffers, ErrAcquireFailed or ErrConfig
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	if !e.haveFormat {
		return ErrNoFormat
	}
	if e.pool.Len() == 0 {
		return ErrNoBuffers
	}

	if err := e.transport.Acquire(false); err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Error("Failed to acquire transport")
		return fmt.Errorf("%w: %w", ErrAcquireFailed, err)
	}

	if err := e.setup(); err != nil {
		if relErr := e.transport.Release(); relErr != nil {
			e.log.WithFields(logrus.Fields{
				"function": "Start",
				"error":    relErr.Error(),
			}).Warn("Failed to release transport")
		}
		e.sock = nil
		e.enc = nil
		e.tx = nil
		return err
	}

	e.tuneSocket()
	e.reset()
	e.started = true
	e.healthy = true
	e.sched.WatchWritable(e.sock.FD(), true)

	e.log.WithFields(logrus.Fields{
		"function":      "Start",
		"fd":            e.sock.FD(),
		"rate":          e.format.Rate,
		"channels":      e.format.Channels,
		"bitpool":       e.enc.Bitpool(),
		"write_samples": e.enc.writeSamples,
	}).Info("Stream started")

	return nil
}

// setup builds the socket wrapper and the encoder for the acquired transport.
func (e *Engine) setup() error {
	conf, err := a2dp.ParseSBCConfiguration(e.transport.Configuration())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg, err := conf.EncoderConfig()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.Rate() != e.format.Rate || cfg.Channels() != e.format.Channels {
		return fmt.Errorf("%w: codec is %d Hz/%d channels, input is %d Hz/%d channels",
			ErrConfig, cfg.Rate(), cfg.Channels(), e.format.Rate, e.format.Channels)
	}

	sock, err := e.opts.SocketFactory(e.transport.FD())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	e.pacing = PacingState{}
	enc, err := newEncoder(cfg, e.format, e.transport.ReadMTU(), e.transport.WriteMTU(),
		e.opts.MaxFrameCount, &e.pacing)
	if err != nil {
		return err
	}
	enc.framer.SetSequenceNumber(e.sequence)

	e.sock = sock
	e.enc = enc
	e.maxBitpool = cfg.Bitpool
	e.tx = &Transmitter{
		sock:     sock,
		enc:      enc,
		pacing:   &e.pacing,
		observer: e.observer,
		stats:    &e.stats,
	}
	e.observer.BitpoolChanged(cfg.Bitpool)
	e.frameCountWarned = false
	e.checkFrameCount()
	return nil
}

// checkFrameCount warns once per stream when a datagram can hold more frames
// than the payload header can count.
func (e *Engine) checkFrameCount() {
	frames := e.enc.FramesPerDatagram()
	if e.frameCountWarned || frames <= limits.PayloadFrameCountMax {
		return
	}
	e.frameCountWarned = true
	e.log.WithFields(logrus.Fields{
		"function":        "checkFrameCount",
		"frames":          frames,
		"write_size":      e.enc.writeSize,
		"frame_length":    e.enc.frameLength,
		"max_frame_count": e.opts.MaxFrameCount,
	}).Warn("Datagram holds more frames than the payload header can count")
}

// tuneSocket sizes the socket queues to the MTU. Failures only degrade latency.
func (e *Engine) tuneSocket() {
	sndbuf := limits.SendBufferMTUs * e.transport.WriteMTU()
	if err := e.sock.SetSendBuffer(sndbuf); err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "tuneSocket",
			"sndbuf":   sndbuf,
			"error":    err.Error(),
		}).Warn("Failed to set SO_SNDBUF")
	}
	if actual, err := e.sock.SendBuffer(); err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "tuneSocket",
			"error":    err.Error(),
		}).Warn("Failed to read SO_SNDBUF")
	} else {
		e.log.WithFields(logrus.Fields{
			"function": "tuneSocket",
			"sndbuf":   actual,
		}).Debug("Send buffer size")
	}

	rcvbuf := limits.FillFrames * e.transport.ReadMTU()
	if err := e.sock.SetReceiveBuffer(rcvbuf); err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "tuneSocket",
			"rcvbuf":   rcvbuf,
			"error":    err.Error(),
		}).Warn("Failed to set SO_RCVBUF")
	}

	if err := e.sock.SetPriority(limits.SocketPriority); err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "tuneSocket",
			"error":    err.Error(),
		}).Warn("Failed to set SO_PRIORITY")
	}
}

// reset clears the per-stream state for a fresh start.
func (e *Engine) reset() {
	e.pacing = PacingState{}
	if e.enc != nil {
		e.enc.Reset()
	}
	e.busy = false
	e.inPull = false
	e.underrunning = false
	e.underrunWarned = false
	e.stats = Stats{}
	if e.adapter != nil {
		e.adapter.Reset()
	}
}

// Stop disables the event sources, returns every queued buffer to the
// producer and releases the transport. Stopping a stopped engine is a no-op.
// It may be called from inside a callback.
func (e *Engine) Stop() error {
	if !e.started {
		return nil
	}

	e.sched.DisarmTimer()
	e.sched.WatchWritable(-1, false)
	e.started = false

	for _, id := range e.pool.ReleaseAll() {
		e.reuse(id)
	}

	e.sequence = e.enc.framer.SequenceNumber()
	e.enc.Reset()
	e.pacing = PacingState{}

	e.log.WithFields(logrus.Fields{
		"function":  "Stop",
		"datagrams": e.stats.Datagrams,
		"underruns": e.stats.Underruns,
	}).Info("Stream stopped")

	if err := e.transport.Release(); err != nil {
		return fmt.Errorf("%w: release: %v", ErrTransport, err)
	}
	return nil
}

// Push queues an outstanding buffer for encoding and runs a pacing cycle,
// unless it is called from inside NeedInput.
func (e *Engine) Push(id uint32) error {
	if !e.started {
		return ErrNotStarted
	}

	queued, err := e.pool.Enqueue(id)
	if err != nil {
		return err
	}
	if !queued {
		// Nothing to read; hand it straight back.
		e.reuse(id)
		return nil
	}

	if !e.inPull {
		e.cycle("push")
	}
	return nil
}

// OnTimer runs the pacing cycle for an expired timer.
func (e *Engine) OnTimer() {
	e.cycle("timer")
}

// OnWritable runs the pacing cycle once the socket accepts data again.
func (e *Engine) OnWritable() {
	e.cycle("writable")
}

// SetBitpool applies bitpool, clamped to the supported range, and returns
// the applied value. The current datagram keeps the frames already encoded.
func (e *Engine) SetBitpool(bitpool int) (int, error) {
	if !e.started {
		return 0, ErrNotStarted
	}

	previous := e.enc.Bitpool()
	applied, err := e.enc.SetBitpool(bitpool)
	if err != nil {
		if _, restoreErr := e.enc.SetBitpool(previous); restoreErr != nil {
			e.log.WithFields(logrus.Fields{
				"function": "SetBitpool",
				"error":    restoreErr.Error(),
			}).Error("Failed to restore bitpool")
		}
		return previous, err
	}

	if applied != previous {
		e.checkFrameCount()
		e.observer.BitpoolChanged(applied)
		e.log.WithFields(logrus.Fields{
			"function": "SetBitpool",
			"previous": previous,
			"bitpool":  applied,
		}).Info("Bitpool changed")
	}
	return applied, nil
}

// ReduceBitpool lowers the bitpool by one step.
func (e *Engine) ReduceBitpool() (int, error) {
	if !e.started {
		return 0, ErrNotStarted
	}
	return e.SetBitpool(e.enc.Bitpool() - 1)
}

// IncreaseBitpool raises the bitpool by one step.
func (e *Engine) IncreaseBitpool() (int, error) {
	if !e.started {
		return 0, ErrNotStarted
	}
	return e.SetBitpool(e.enc.Bitpool() + 1)
}

// Stats returns a snapshot of the stream counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Healthy = e.healthy
	if e.started {
		s.State = StateStarted
		s.Bitpool = e.enc.Bitpool()
		s.CodeSize = e.enc.codesize
		s.FrameLength = e.enc.frameLength
		s.WriteSize = e.enc.writeSize
		s.WriteSamples = e.enc.writeSamples
		s.FramesPerDatagram = e.enc.FramesPerDatagram()
		s.Sequence = e.enc.framer.SequenceNumber()
	} else {
		s.Sequence = e.sequence
	}
	s.SampleCount = e.pacing.SampleCount
	s.SampleTime = e.pacing.SampleTime
	s.Timestamp = e.pacing.Timestamp
	return s
}

// BufferState returns the ownership state of buffer id.
func (e *Engine) BufferState(id uint32) (BufferState, error) {
	return e.pool.State(id)
}
