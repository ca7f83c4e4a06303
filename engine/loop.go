package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/a2dpsink/clock"
	"github.com/opd-ai/a2dpsink/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRunning is returned when starting a running loop.
	ErrAlreadyRunning = errors.New("loop is already running")

	// ErrLoopStopped is returned by Invoke when the loop exits before the
	// command could be applied.
	ErrLoopStopped = errors.New("loop stopped")
)

// Loop runs an Engine on a dedicated goroutine. It owns the pacing timer and
// the writability notifier, and marshals commands from other goroutines onto
// the engine goroutine with Invoke.
type Loop struct {
	eng         *Engine
	clock       clock.Clock
	newNotifier transport.NotifierFactory
	commands    chan func()

	// Owned by the loop goroutine, or by Invoke while the loop is not running.
	timer    *time.Timer
	notifier transport.WritableNotifier
	watchFD  int
	watching bool

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	shutdownErr error
}

// NewLoop creates a stopped loop and its engine.
//
// Parameters:
//   - tr: Media transport of the stream
//   - cb: Producer callbacks, called on the loop goroutine
//   - opts: Engine options, nil for DefaultOptions()
//
// Returns:
//   - *Loop: The loop
//   - error: Any error from New
func NewLoop(tr transport.MediaTransport, cb Callbacks, opts *Options) (*Loop, error) {
	l := &Loop{
		commands: make(chan func()),
		watchFD:  -1,
	}

	eng, err := New(tr, cb, l, opts)
	if err != nil {
		return nil, err
	}
	l.eng = eng
	l.clock = eng.opts.Clock
	l.newNotifier = eng.opts.NotifierFactory

	l.timer = time.NewTimer(time.Hour)
	l.timer.Stop()

	return l, nil
}

// Engine returns the loop's engine. It may only be used from callbacks and
// Invoke functions, or while the loop is not running.
func (l *Loop) Engine() *Engine {
	return l.eng
}

// Start runs the loop until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.aliveLocked() {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.shutdownErr = nil

	go l.run(ctx, l.done)

	logrus.WithFields(logrus.Fields{
		"function": "Loop.Start",
		"stream":   l.eng.StreamID(),
	}).Info("Engine loop started")

	return nil
}

// Stop stops the stream, releases the event sources and waits for the loop
// goroutine to exit. It returns the error of stopping the stream.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false

	logrus.WithFields(logrus.Fields{
		"function": "Loop.Stop",
		"stream":   l.eng.StreamID(),
	}).Info("Engine loop stopped")

	return l.shutdownErr
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aliveLocked()
}

func (l *Loop) aliveLocked() bool {
	if !l.running {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Invoke applies fn to the engine on the loop goroutine and waits for its
// result. The loop applies one command at a time. When the loop is not
// running fn is applied on the calling goroutine.
//
// Invoke must not be called from a callback; producers push from NeedInput
// through the Pusher they are given. If ctx ends after fn was handed to the
// loop, fn may still run.
func (l *Loop) Invoke(ctx context.Context, fn func(*Engine) error) error {
	l.mu.Lock()
	if !l.aliveLocked() {
		defer l.mu.Unlock()
		return fn(l.eng)
	}
	done := l.done
	l.mu.Unlock()

	result := make(chan error, 1)
	cmd := func() { result <- fn(l.eng) }

	select {
	case l.commands <- cmd:
	case <-done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the engine's counters.
func (l *Loop) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := l.Invoke(ctx, func(e *Engine) error {
		s = e.Stats()
		return nil
	})
	return s, err
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		var ready <-chan struct{}
		if l.notifier != nil {
			ready = l.notifier.Ready()
		}

		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case cmd := <-l.commands:
			cmd()
		case <-l.timer.C:
			l.eng.OnTimer()
		case <-ready:
			if l.watching {
				l.watching = false
				l.eng.OnWritable()
			}
		}
	}
}

func (l *Loop) shutdown() {
	err := l.eng.Stop()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Loop.shutdown",
			"stream":   l.eng.StreamID(),
			"error":    err.Error(),
		}).Warn("Failed to stop stream")
	}
	l.timer.Stop()
	l.closeNotifier()

	l.mu.Lock()
	l.shutdownErr = err
	l.mu.Unlock()
}

// ArmTimer implements Scheduler.
func (l *Loop) ArmTimer(deadline time.Duration) {
	d := deadline - l.clock.Now()
	if d < 0 {
		d = 0
	}
	l.timer.Reset(d)
}

// DisarmTimer implements Scheduler.
func (l *Loop) DisarmTimer() {
	l.timer.Stop()
}

// WatchWritable implements Scheduler.
func (l *Loop) WatchWritable(fd int, enabled bool) {
	if fd < 0 {
		l.closeNotifier()
		return
	}
	if !enabled {
		l.watching = false
		return
	}

	if l.notifier == nil || l.watchFD != fd {
		l.closeNotifier()
		n, err := l.newNotifier(fd)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Loop.WatchWritable",
				"fd":       fd,
				"error":    err.Error(),
			}).Error("Failed to watch socket")
			return
		}
		l.notifier = n
		l.watchFD = fd
	}
	l.watching = true
	l.notifier.Arm()
}

func (l *Loop) closeNotifier() {
	l.watching = false
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Loop.closeNotifier",
			"fd":       l.watchFD,
			"error":    err.Error(),
		}).Warn("Failed to close notifier")
	}
	l.notifier = nil
	l.watchFD = -1
}
