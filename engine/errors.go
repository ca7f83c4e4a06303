package engine

import (
	"errors"
	"fmt"

	"github.com/opd-ai/a2dpsink/transport"
)

// Error classes. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	// ErrConfig indicates an unsupported sample rate, channel mode or codec parameter.
	ErrConfig = errors.New("unsupported configuration")

	// ErrInvalidState indicates an operation issued in the wrong stream or buffer state.
	ErrInvalidState = errors.New("invalid state")

	// ErrTransport indicates a transport acquisition or write failure.
	ErrTransport = errors.New("transport error")

	// ErrInvalidArgument indicates a malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEncoderOverflow signals that the current datagram must be flushed before
	// more audio can be encoded. It never leaves the pacing cycle.
	ErrEncoderOverflow = errors.New("encoder overflow")
)

// ErrWouldBlock is the transport's would-block condition. It is not an error
// for the engine; the datagram is kept and retried.
var ErrWouldBlock = transport.ErrWouldBlock

// Specific errors, each wrapping its class.
var (
	ErrNoFormat             = fmt.Errorf("%w: no format configured", ErrInvalidState)
	ErrNoBuffers            = fmt.Errorf("%w: no buffers configured", ErrInvalidState)
	ErrNotStarted           = fmt.Errorf("%w: stream not started", ErrInvalidState)
	ErrStarted              = fmt.Errorf("%w: stream started", ErrInvalidState)
	ErrBufferNotOutstanding = fmt.Errorf("%w: buffer not outstanding", ErrInvalidState)
	ErrUnknownBuffer        = fmt.Errorf("%w: unknown buffer", ErrInvalidState)
	ErrAcquireFailed        = fmt.Errorf("%w: acquire failed", ErrTransport)
	ErrNoMemory             = fmt.Errorf("%w: buffer has no data", ErrInvalidArgument)
	ErrTooManyBuffers       = fmt.Errorf("%w: too many buffers", ErrInvalidArgument)
	ErrInvalidFormat        = fmt.Errorf("%w: invalid audio format", ErrInvalidArgument)
)
