package engine

import (
	"fmt"

	"github.com/opd-ai/a2dpsink/limits"
)

type bufferSlot struct {
	buf   *Buffer
	state BufferState
}

// BufferPool tracks ownership of the registered buffers and the FIFO of
// ready buffers waiting to be encoded.
//
// readyOffset is the number of bytes of the head buffer already consumed and
// is always below the head's chunk size while the queue is non-empty.
type BufferPool struct {
	slots       []bufferSlot
	ready       []uint32
	readyOffset int
	available   int
}

// Use registers bufs, replacing any earlier registration. Every buffer starts
// outstanding. An empty slice clears the registration.
func (p *BufferPool) Use(bufs []*Buffer) error {
	if err := limits.ValidateBufferCount(len(bufs)); err != nil {
		return fmt.Errorf("%w: %w", ErrTooManyBuffers, err)
	}
	for i, b := range bufs {
		if b == nil || len(b.Data) == 0 {
			return fmt.Errorf("%w: buffer %d", ErrNoMemory, i)
		}
	}

	p.Clear()
	p.slots = make([]bufferSlot, len(bufs))
	for i, b := range bufs {
		b.ID = uint32(i)
		p.slots[i] = bufferSlot{buf: b, state: BufferOutstanding}
	}
	return nil
}

// Clear drops every registration and empties the queue.
func (p *BufferPool) Clear() {
	p.slots = nil
	p.ready = p.ready[:0]
	p.readyOffset = 0
	p.available = 0
}

// Len returns the number of registered buffers.
func (p *BufferPool) Len() int {
	return len(p.slots)
}

// State returns the ownership state of buffer id.
func (p *BufferPool) State(id uint32) (BufferState, error) {
	if int(id) >= len(p.slots) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	return p.slots[id].state, nil
}

// Buffer returns the registered buffer id.
func (p *BufferPool) Buffer(id uint32) (*Buffer, error) {
	if int(id) >= len(p.slots) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	return p.slots[id].buf, nil
}

// Enqueue moves an outstanding buffer to the tail of the ready queue.
// A buffer with an empty chunk is not queued and stays outstanding;
// queued reports whether it was added.
func (p *BufferPool) Enqueue(id uint32) (queued bool, err error) {
	if int(id) >= len(p.slots) {
		return false, fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	slot := &p.slots[id]
	if slot.state != BufferOutstanding {
		return false, fmt.Errorf("%w: %d is %s", ErrBufferNotOutstanding, id, slot.state)
	}

	size := chunkSize(slot.buf)
	if size == 0 {
		return false, nil
	}

	slot.state = BufferReady
	p.ready = append(p.ready, id)
	p.available += size
	return true, nil
}

// Empty reports whether no buffer is queued.
func (p *BufferPool) Empty() bool {
	return len(p.ready) == 0
}

// Available returns the unconsumed bytes over all queued buffers.
func (p *BufferPool) Available() int {
	return p.available
}

// ReadyOffset returns the consumed bytes of the head buffer.
func (p *BufferPool) ReadyOffset() int {
	return p.readyOffset
}

// Head returns the longest contiguous unconsumed region of the head buffer.
// The region ends at the chunk end or at the end of the data, whichever comes first.
func (p *BufferPool) Head() []byte {
	if len(p.ready) == 0 {
		return nil
	}
	b := p.slots[p.ready[0]].buf
	return segment(b, p.readyOffset)
}

// Peek copies unconsumed bytes into dst, crossing segment and buffer
// boundaries, without consuming them. It returns the bytes copied.
func (p *BufferPool) Peek(dst []byte) int {
	n := 0
	offset := p.readyOffset
	for _, id := range p.ready {
		b := p.slots[id].buf
		for n < len(dst) {
			seg := segment(b, offset)
			if len(seg) == 0 {
				break
			}
			c := copy(dst[n:], seg)
			n += c
			offset += c
		}
		if n == len(dst) {
			break
		}
		offset = 0
	}
	return n
}

// Drain consumes n bytes from the front of the queue. Buffers whose chunk is
// fully consumed are popped, marked outstanding and returned in queue order.
// Draining never goes past the queued bytes.
func (p *BufferPool) Drain(n int) (released []uint32) {
	if n > p.available {
		n = p.available
	}
	for len(p.ready) > 0 {
		id := p.ready[0]
		remaining := chunkSize(p.slots[id].buf) - p.readyOffset
		if n < remaining {
			p.readyOffset += n
			p.available -= n
			break
		}
		n -= remaining
		p.available -= remaining
		p.ready = p.ready[1:]
		p.readyOffset = 0
		p.slots[id].state = BufferOutstanding
		released = append(released, id)
	}
	return released
}

// ReleaseAll returns every queued buffer to the producer side.
func (p *BufferPool) ReleaseAll() []uint32 {
	released := append([]uint32(nil), p.ready...)
	for _, id := range released {
		p.slots[id].state = BufferOutstanding
	}
	p.ready = p.ready[:0]
	p.readyOffset = 0
	p.available = 0
	return released
}

// chunkSize is the readable size of b, never more than its data.
func chunkSize(b *Buffer) int {
	size := b.Chunk.Size
	if size < 0 {
		return 0
	}
	if size > len(b.Data) {
		return len(b.Data)
	}
	return size
}

// segment returns the contiguous readable bytes of b starting consumed bytes into its chunk.
func segment(b *Buffer, consumed int) []byte {
	remaining := chunkSize(b) - consumed
	if remaining <= 0 {
		return nil
	}
	start := (b.Chunk.Offset + consumed) % len(b.Data)
	if start < 0 {
		start += len(b.Data)
	}
	end := start + remaining
	if end > len(b.Data) {
		end = len(b.Data)
	}
	return b.Data[start:end]
}
