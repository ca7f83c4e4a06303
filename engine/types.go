package engine

import "time"

// InputPort is the only port of the sink.
const InputPort uint32 = 0

// AudioFormat is the negotiated PCM format. Samples are always signed 16-bit
// little-endian and interleaved.
type AudioFormat struct {
	Rate     uint32
	Channels int
}

// FrameSize returns the bytes of one PCM frame (one sample for every channel).
func (f AudioFormat) FrameSize() int {
	return f.Channels * 2
}

// Chunk describes the valid region of a buffer's data. The region starts at
// Offset modulo len(Data) and wraps around the end of Data.
type Chunk struct {
	Offset int
	Size   int
}

// Buffer is an audio buffer owned by the producer. The engine only reads it
// between Push and the matching ReuseBuffer callback.
type Buffer struct {
	ID    uint32
	Data  []byte
	Chunk Chunk
}

// BufferState is the ownership state of a registered buffer.
type BufferState int

const (
	// BufferOutstanding buffers are held by the producer and may be pushed.
	BufferOutstanding BufferState = iota
	// BufferReady buffers are queued for encoding.
	BufferReady
)

func (s BufferState) String() string {
	if s == BufferReady {
		return "ready"
	}
	return "outstanding"
}

// PullRequest is the hint passed with a request for more input.
// Sizes are in bytes.
type PullRequest struct {
	Offset  uint64
	MinSize int
	MaxSize int
}

// Pusher queues a filled buffer. It is handed to NeedInput so the producer can
// push synchronously from inside the callback.
type Pusher interface {
	Push(id uint32) error
}

// Callbacks connect the engine to its producer. They run on the engine's
// goroutine and must not block.
type Callbacks interface {
	// NeedInput asks for more data. The producer may call p.Push before returning.
	NeedInput(p Pusher, req PullRequest)

	// ReuseBuffer returns a fully drained buffer to the producer.
	ReuseBuffer(port, id uint32)
}

// Scheduler provides the engine's event sources. Times are in the engine
// clock's domain.
type Scheduler interface {
	// ArmTimer schedules one OnTimer call at deadline, replacing any earlier one.
	ArmTimer(deadline time.Duration)

	// DisarmTimer cancels a pending OnTimer call.
	DisarmTimer()

	// WatchWritable arms (enabled) or cancels one OnWritable call for when fd
	// can accept data. A negative fd releases the watch entirely.
	WatchWritable(fd int, enabled bool)
}

// Observer receives stream events, typically to export metrics.
type Observer interface {
	DatagramSent(bytes, frames int)
	WouldBlock()
	TransportError()
	Underrun(deficit int64)
	Backlog(filled int64)
	OutQueue(bytes int)
	BitpoolChanged(bitpool int)
	BufferReused()
}

type nopObserver struct{}

func (nopObserver) DatagramSent(int, int) {}
func (nopObserver) WouldBlock()           {}
func (nopObserver) TransportError()       {}
func (nopObserver) Underrun(int64)        {}
func (nopObserver) Backlog(int64)         {}
func (nopObserver) OutQueue(int)          {}
func (nopObserver) BitpoolChanged(int)    {}
func (nopObserver) BufferReused()         {}
