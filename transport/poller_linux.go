//go:build linux

package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Poller is a WritableNotifier backed by poll(2) on the descriptor and a wake pipe.
type Poller struct {
	fd    int
	wakeR int
	wakeW int

	arm   chan struct{}
	ready chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPoller starts a poller for fd. The returned notifier is idle until armed.
func NewPoller(fd int) (WritableNotifier, error) {
	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}

	p := &Poller{
		fd:    fd,
		wakeR: pipe[0],
		wakeW: pipe[1],
		arm:   make(chan struct{}, 1),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	logrus.WithFields(logrus.Fields{
		"function": "NewPoller",
		"fd":       fd,
	}).Debug("Writable poller started")

	return p, nil
}

// Arm requests one notification once the descriptor is writable.
func (p *Poller) Arm() {
	select {
	case p.arm <- struct{}{}:
	default:
	}
}

// Ready delivers notifications.
func (p *Poller) Ready() <-chan struct{} {
	return p.ready
}

// Close stops the poller goroutine and closes the wake pipe. It returns the
// first error from closing the pipe; later calls return nil.
func (p *Poller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		_, _ = unix.Write(p.wakeW, []byte{0})
		p.wg.Wait()
		if cerr := unix.Close(p.wakeR); cerr != nil {
			err = fmt.Errorf("close wake pipe: %w", cerr)
		}
		if cerr := unix.Close(p.wakeW); cerr != nil && err == nil {
			err = fmt.Errorf("close wake pipe: %w", cerr)
		}
	})
	return err
}

func (p *Poller) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-p.arm:
		}

		if !p.waitWritable() {
			return
		}

		select {
		case p.ready <- struct{}{}:
		default:
		}
	}
}

// waitWritable blocks until fd is writable or errored. It returns false when closed.
func (p *Poller) waitWritable() bool {
	fds := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLOUT},
		{Fd: int32(p.wakeR), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Poller.waitWritable",
				"fd":       p.fd,
				"error":    err.Error(),
			}).Error("Poll failed")
			return false
		}

		if fds[1].Revents != 0 {
			select {
			case <-p.done:
				return false
			default:
			}
			var scratch [16]byte
			_, _ = unix.Read(p.wakeR, scratch[:])
		}
		if fds[0].Revents != 0 {
			return true
		}
	}
}
