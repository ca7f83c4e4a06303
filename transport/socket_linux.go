//go:build linux

package transport

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FDSocket is a Socket over a raw descriptor. It does not own the descriptor.
//
// A write the kernel accepts only in part is reported complete. The unsent
// tail goes out ahead of the next write, so a stream socket carries every
// datagram exactly once.
type FDSocket struct {
	fd      int
	pending []byte
}

// NewSocket puts fd into non-blocking mode and wraps it.
func NewSocket(fd int) (Socket, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: descriptor %d", ErrNotAcquired, fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	return &FDSocket{fd: fd}, nil
}

// FD returns the underlying descriptor.
func (s *FDSocket) FD() int {
	return s.fd
}

// Write sends p as one datagram. It returns ErrWouldBlock, with nothing of p
// written, while the socket cannot take more data.
func (s *FDSocket) Write(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n, err := s.write(s.pending)
		if err != nil {
			return 0, err
		}
		s.pending = s.pending[n:]
		if len(s.pending) > 0 {
			return 0, ErrWouldBlock
		}
	}

	n, err := s.write(p)
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		s.pending = append(s.pending[:0], p[n:]...)
		logrus.WithFields(logrus.Fields{
			"function": "FDSocket.Write",
			"fd":       s.fd,
			"written":  n,
			"length":   len(p),
		}).Debug("Partial write, tail deferred")
	}
	return len(p), nil
}

// Pending returns the bytes of an earlier partial write not yet sent.
func (s *FDSocket) Pending() int {
	return len(s.pending)
}

func (s *FDSocket) write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			logrus.WithFields(logrus.Fields{
				"function": "FDSocket.Write",
				"fd":       s.fd,
				"length":   len(p),
				"error":    err.Error(),
			}).Trace("Socket write failed")
			return 0, err
		}
	}
}

// SetSendBuffer sets SO_SNDBUF.
func (s *FDSocket) SetSendBuffer(bytes int) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

// SendBuffer reads SO_SNDBUF back. The kernel usually reports double the requested size.
func (s *FDSocket) SendBuffer() (int, error) {
	return unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
}

// SetReceiveBuffer sets SO_RCVBUF.
func (s *FDSocket) SetReceiveBuffer(bytes int) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

// SetPriority sets SO_PRIORITY.
func (s *FDSocket) SetPriority(priority int) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_PRIORITY, priority)
}

// OutQueue returns the unsent byte count via TIOCOUTQ.
func (s *FDSocket) OutQueue() (int, error) {
	return unix.IoctlGetInt(s.fd, unix.TIOCOUTQ)
}
