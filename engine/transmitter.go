package engine

import (
	"errors"
	"fmt"

	"github.com/opd-ai/a2dpsink/transport"
	"github.com/sirupsen/logrus"
)

// Transmitter writes the datagram built by the Encoder to the media socket.
type Transmitter struct {
	sock     transport.Socket
	enc      *Encoder
	pacing   *PacingState
	observer Observer
	stats    *Stats
}

// Flush writes the datagram when force is set or the datagram is full.
// It returns the bytes written, or 0 when nothing was due.
//
// On ErrWouldBlock the datagram is kept intact for a later retry. Any other
// write failure is returned wrapped in ErrTransport.
func (t *Transmitter) Flush(force bool) (int, error) {
	if !force && !t.enc.NeedsFlush() {
		return 0, nil
	}
	return t.send()
}

func (t *Transmitter) send() (int, error) {
	// The first sample of the datagram; never decreases between datagrams.
	timestamp := t.pacing.SampleCount - t.pacing.SampleQueued

	datagram, err := t.enc.framer.Seal(uint32(timestamp))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	frames := t.enc.framer.FrameCount()

	if queued, err := t.sock.OutQueue(); err == nil {
		t.stats.OutQueue = queued
		t.observer.OutQueue(queued)
	}

	n, err := t.sock.Write(datagram)
	if errors.Is(err, transport.ErrWouldBlock) {
		t.stats.WouldBlocks++
		t.observer.WouldBlock()
		logrus.WithFields(logrus.Fields{
			"function":  "Transmitter.send",
			"sequence":  t.enc.framer.SequenceNumber(),
			"timestamp": timestamp,
			"length":    len(datagram),
		}).Trace("Write would block")
		return 0, transport.ErrWouldBlock
	}
	if err != nil {
		t.stats.TransportErrors++
		t.observer.TransportError()
		return 0, fmt.Errorf("%w: write: %v", ErrTransport, err)
	}

	t.pacing.SampleTime += t.pacing.SampleQueued
	t.pacing.Timestamp = t.pacing.SampleCount
	t.pacing.Backoff = 0
	t.enc.framer.Advance()
	t.pacing.SampleQueued = 0

	t.stats.Datagrams++
	t.stats.BytesSent += uint64(n)
	t.stats.LastTimestamp = uint32(timestamp)
	t.observer.DatagramSent(n, frames)

	logrus.WithFields(logrus.Fields{
		"function":    "Transmitter.send",
		"written":     n,
		"frame_count": frames,
		"timestamp":   timestamp,
		"sample_time": t.pacing.SampleTime,
	}).Trace("Datagram sent")

	return n, nil
}
