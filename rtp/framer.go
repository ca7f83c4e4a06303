package rtp

import (
	"errors"
	"fmt"

	"github.com/opd-ai/a2dpsink/limits"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const (
	// PayloadType is the RTP payload type used for SBC media packets.
	PayloadType = 1

	// SSRC is the fixed synchronization source of the stream.
	SSRC = 1

	// frameCountMask selects the frame count bits of the media payload header.
	frameCountMask = 0x0f
)

var (
	// ErrPayloadTooLarge indicates a commit beyond the datagram capacity.
	ErrPayloadTooLarge = errors.New("payload exceeds datagram capacity")

	// ErrInvalidCapacity indicates a datagram capacity outside the transmit buffer.
	ErrInvalidCapacity = errors.New("invalid datagram capacity")
)

// Framer accumulates codec frames into one RTP datagram at a time.
//
// The first limits.DatagramHeaderSize bytes of the transmit buffer are reserved
// for the RTP header and the media payload header, which are written in place
// when the datagram is sealed. A Framer is not safe for concurrent use.
type Framer struct {
	buf        []byte
	capacity   int
	used       int
	frameCount int
	seq        uint16
}

// NewFramer creates a framer whose datagrams never exceed capacity bytes.
//
// Parameters:
//   - capacity: Maximum datagram length including headers
//
// Returns:
//   - *Framer: New framer with an empty transmit buffer
//   - error: ErrInvalidCapacity if capacity cannot hold a header plus payload
func NewFramer(capacity int) (*Framer, error) {
	f := &Framer{buf: make([]byte, limits.TransmitBufferSize)}
	if err := f.SetCapacity(capacity); err != nil {
		return nil, err
	}
	f.Reset()
	return f, nil
}

// SetCapacity changes the maximum datagram length. The accumulated payload is kept
// and may exceed the new capacity until the next flush.
func (f *Framer) SetCapacity(capacity int) error {
	if capacity <= limits.DatagramHeaderSize || capacity > len(f.buf) {
		return fmt.Errorf("%w: %d not in (%d, %d]", ErrInvalidCapacity, capacity, limits.DatagramHeaderSize, len(f.buf))
	}
	f.capacity = capacity
	return nil
}

// Capacity returns the maximum datagram length.
func (f *Framer) Capacity() int {
	return f.capacity
}

// Reset discards the accumulated payload. The sequence number is kept.
func (f *Framer) Reset() {
	f.used = limits.DatagramHeaderSize
	f.frameCount = 0
}

// Free returns the unused part of the datagram where the next frame is written.
func (f *Framer) Free() []byte {
	if f.used >= f.capacity {
		return f.buf[f.used:f.used]
	}
	return f.buf[f.used:f.capacity]
}

// Commit accounts n bytes written into Free as frames codec frames.
func (f *Framer) Commit(n, frames int) error {
	if n < 0 || f.used+n > f.capacity {
		return fmt.Errorf("%w: %d + %d > %d", ErrPayloadTooLarge, f.used, n, f.capacity)
	}
	f.used += n
	f.frameCount += frames
	return nil
}

// FrameCount returns the number of codec frames in the datagram.
func (f *Framer) FrameCount() int {
	return f.frameCount
}

// Len returns the datagram length including headers.
func (f *Framer) Len() int {
	return f.used
}

// PayloadLen returns the number of encoded bytes accumulated.
func (f *Framer) PayloadLen() int {
	return f.used - limits.DatagramHeaderSize
}

// Empty reports whether no frame has been committed since the last reset.
func (f *Framer) Empty() bool {
	return f.frameCount == 0
}

// NeedsFlush reports whether one more frame of frameLength bytes would not fit,
// or the datagram already holds maxFrames frames.
func (f *Framer) NeedsFlush(frameLength, maxFrames int) bool {
	return f.used+frameLength > f.capacity || f.frameCount >= maxFrames
}

// SequenceNumber returns the sequence number the next datagram carries.
func (f *Framer) SequenceNumber() uint16 {
	return f.seq
}

// Seal writes the RTP and payload headers in front of the accumulated payload
// and returns the complete datagram. The returned slice aliases the transmit
// buffer and is valid until the next Commit or Reset.
//
// Sealing twice without Advance produces the same datagram, so a write that
// would block can be retried without re-encoding.
func (f *Framer) Seal(timestamp uint32) ([]byte, error) {
	header := rtp.Header{
		Version:        2,
		PayloadType:    PayloadType,
		SequenceNumber: f.seq,
		Timestamp:      timestamp,
		SSRC:           SSRC,
	}
	if _, err := header.MarshalTo(f.buf[:limits.RTPHeaderSize]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Framer.Seal",
			"error":    err.Error(),
		}).Error("Failed to marshal RTP header")
		return nil, fmt.Errorf("failed to marshal RTP header: %w", err)
	}
	f.buf[limits.RTPHeaderSize] = byte(f.frameCount & frameCountMask)

	logrus.WithFields(logrus.Fields{
		"function":    "Framer.Seal",
		"sequence":    f.seq,
		"timestamp":   timestamp,
		"frame_count": f.frameCount,
		"length":      f.used,
	}).Trace("Sealed datagram")

	return f.buf[:f.used], nil
}

// Advance moves to the next sequence number (wrapping at 16 bits) and resets the payload.
// Call it after the sealed datagram has been written.
func (f *Framer) Advance() {
	f.seq++
	f.Reset()
}

// SetSequenceNumber resets the payload and continues numbering at seq.
func (f *Framer) SetSequenceNumber(seq uint16) {
	f.seq = seq
	f.Reset()
}
