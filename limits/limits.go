// Package limits provides the size and range constants shared by every layer of the
// A2DP sink. This ensures the codec, framer, engine and node agree on the same bounds.
package limits

import (
	"errors"
	"fmt"
	"math"
)

const (
	// RTPHeaderSize is the fixed RTP header without CSRCs or extensions.
	RTPHeaderSize = 12

	// PayloadHeaderSize is the one-byte A2DP media payload header carrying the frame count.
	PayloadHeaderSize = 1

	// DatagramHeaderSize is the region reserved at the start of every transmit buffer.
	DatagramHeaderSize = RTPHeaderSize + PayloadHeaderSize

	// MTUSlack is subtracted from the link MTU on top of the headers when sizing
	// the encoded payload of one datagram.
	MTUSlack = 24

	// TransmitBufferSize is the capacity of the in-progress datagram buffer.
	TransmitBufferSize = 4096

	// MaxFrameCount is the default ceiling of codec frames per datagram.
	MaxFrameCount = 256

	// PayloadFrameCountMax is the largest frame count the 4-bit field of the
	// payload header can carry.
	PayloadFrameCountMax = 15

	// FillFrames is the number of silence datagrams used to prime the link,
	// and the multiplier for the socket receive buffer.
	FillFrames = 3

	// MaxBuffers is the maximum number of buffers a producer may register.
	MaxBuffers = 32

	// MinBuffers is the minimum number of buffers offered during negotiation.
	MinBuffers = 2

	// BufferAlign is the alignment requested for registered buffers.
	BufferAlign = 16

	// MinBitpool and MaxBitpool bound the bitpool accepted by the engine.
	MinBitpool = 16
	MaxBitpool = 51

	// DefaultLatency is the default min/max latency in frames.
	DefaultLatency = 1024

	// MinLatency and MaxLatency bound the latency properties.
	MinLatency = 1
	MaxLatency = math.MaxInt32

	// SendBufferMTUs is the number of write MTUs the socket send buffer is sized to.
	SendBufferMTUs = 3

	// SocketPriority is the SO_PRIORITY applied to the media socket.
	SocketPriority = 6
)

var (
	// ErrOutOfRange indicates a value outside its permitted range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrMTUTooSmall indicates an MTU that cannot hold a header and one codec frame.
	ErrMTUTooSmall = errors.New("mtu too small")
)

// ValidateLatency checks a latency property (in frames) against [MinLatency, MaxLatency].
func ValidateLatency(frames int64) error {
	if frames < MinLatency || frames > MaxLatency {
		return fmt.Errorf("%w: latency %d not in [%d, %d]", ErrOutOfRange, frames, MinLatency, MaxLatency)
	}
	return nil
}

// ValidateBufferCount checks the number of buffers a producer wants to register.
// Zero is accepted and means "clear the registration".
func ValidateBufferCount(n int) error {
	if n < 0 || n > MaxBuffers {
		return fmt.Errorf("%w: %d buffers not in [0, %d]", ErrOutOfRange, n, MaxBuffers)
	}
	return nil
}

// ClampBitpool limits a bitpool to [MinBitpool, MaxBitpool].
func ClampBitpool(bitpool int) int {
	if bitpool < MinBitpool {
		return MinBitpool
	}
	if bitpool > MaxBitpool {
		return MaxBitpool
	}
	return bitpool
}

// PayloadSize returns the encoded-audio budget of one datagram for a link MTU:
// the MTU minus the datagram headers and MTUSlack, capped at TransmitBufferSize.
// Returns an error with context if nothing would be left for payload.
func PayloadSize(mtu int) (int, error) {
	size := mtu - DatagramHeaderSize - MTUSlack
	if size <= DatagramHeaderSize {
		return 0, fmt.Errorf("%w: mtu %d leaves %d bytes", ErrMTUTooSmall, mtu, size)
	}
	if size > TransmitBufferSize {
		size = TransmitBufferSize
	}
	return size, nil
}
