package transport

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWouldBlock indicates the socket send queue is full. It is a normal
	// outcome of a non-blocking write, never a failure.
	ErrWouldBlock = errors.New("write would block")

	// ErrNotAcquired indicates use of a transport outside Acquire/Release.
	ErrNotAcquired = errors.New("transport not acquired")

	// ErrInvalidAddress indicates an address the dialer cannot parse.
	ErrInvalidAddress = errors.New("invalid transport address")

	// ErrUnsupportedPlatform indicates a socket operation not available on this OS.
	ErrUnsupportedPlatform = errors.New("media sockets are not supported on this platform")
)

// MediaTransport is the Bluetooth transport collaborator: it owns the connected
// media socket, the negotiated codec configuration and the link MTUs.
type MediaTransport interface {
	// Acquire makes the socket available. When optional is true the caller
	// tolerates a transport that is not yet ready.
	Acquire(optional bool) error

	// Release gives the socket back to its owner.
	Release() error

	// FD returns the connected socket descriptor, or -1 when not acquired.
	FD() int

	// ReadMTU and WriteMTU return the link MTUs in bytes.
	ReadMTU() int
	WriteMTU() int

	// Configuration returns the negotiated codec information element.
	Configuration() []byte
}

// Socket is a non-blocking, datagram-preserving media socket.
type Socket interface {
	// Write sends one datagram. A full send queue returns ErrWouldBlock.
	Write(p []byte) (int, error)

	// FD returns the underlying descriptor.
	FD() int

	// SetSendBuffer and SendBuffer control SO_SNDBUF.
	SetSendBuffer(bytes int) error
	SendBuffer() (int, error)

	// SetReceiveBuffer controls SO_RCVBUF.
	SetReceiveBuffer(bytes int) error

	// SetPriority controls SO_PRIORITY.
	SetPriority(priority int) error

	// OutQueue returns the number of bytes not yet sent by the kernel.
	OutQueue() (int, error)
}

// SocketFactory wraps an acquired descriptor into a Socket.
type SocketFactory func(fd int) (Socket, error)

// WritableNotifier delivers one notification on Ready each time it is armed
// and the watched descriptor becomes writable.
type WritableNotifier interface {
	Arm()
	Ready() <-chan struct{}
	Close() error
}

// NotifierFactory creates a WritableNotifier for a descriptor.
type NotifierFactory func(fd int) (WritableNotifier, error)

// Config describes a media transport that is not negotiated by a Bluetooth daemon.
type Config struct {
	ReadMTU       int
	WriteMTU      int
	Configuration []byte
}

// ParseBDAddr parses "AA:BB:CC:DD:EE:FF" into a Bluetooth device address.
func ParseBDAddr(address string) ([6]uint8, error) {
	var out [6]uint8
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for i, part := range parts {
		b, err := hex.DecodeString(part)
		if err != nil || len(b) != 1 {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		out[i] = b[0]
	}
	return out, nil
}
