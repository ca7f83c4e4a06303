package main

import (
	"errors"
	"io"
	"sync"

	"github.com/opd-ai/a2dpsink/engine"
	"github.com/sirupsen/logrus"
)

// filePlayer feeds a pcmSource to the engine. It implements engine.Callbacks.
type filePlayer struct {
	src     io.Reader
	buffers []*engine.Buffer

	mu    sync.Mutex
	free  []uint32
	eof   bool
	err   error
	read  int64
	done  chan struct{}
	ended bool
}

func newFilePlayer(src io.Reader) *filePlayer {
	return &filePlayer{
		src:  src,
		done: make(chan struct{}),
	}
}

// Allocate creates count buffers of size bytes, all free, and returns them
// for registration with the node.
func (p *filePlayer) Allocate(count, size int) []*engine.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffers = p.buffers[:0]
	p.free = p.free[:0]
	for i := 0; i < count; i++ {
		p.buffers = append(p.buffers, &engine.Buffer{ID: uint32(i), Data: make([]byte, size)})
		p.free = append(p.free, uint32(i))
	}
	return p.buffers
}

// Done is closed once the whole input has been handed to the engine.
func (p *filePlayer) Done() <-chan struct{} {
	return p.done
}

// Err returns the read error that ended playback, if any.
func (p *filePlayer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// BytesRead returns the PCM bytes read from the input.
func (p *filePlayer) BytesRead() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read
}

// NeedInput fills free buffers and pushes them until the request's maximum is
// covered or the input ends.
func (p *filePlayer) NeedInput(pusher engine.Pusher, req engine.PullRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.eof {
		p.finishLocked()
		return
	}

	pushed := 0
	for len(p.free) > 0 && pushed < max(req.MaxSize, req.MinSize) {
		id := p.free[0]
		buf := p.buffers[id]

		n, err := io.ReadFull(p.src, buf.Data)
		p.read += int64(n)
		if err != nil {
			p.eof = true
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				p.err = err
			}
		}
		if n == 0 {
			break
		}

		buf.Chunk = engine.Chunk{Offset: 0, Size: n}
		p.free = p.free[1:]
		if err := pusher.Push(id); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "filePlayer.NeedInput",
				"buffer":   id,
				"error":    err.Error(),
			}).Error("Failed to push buffer")
			p.free = append(p.free, id)
			return
		}
		pushed += n

		if p.eof {
			break
		}
	}

	if p.eof && pushed == 0 {
		p.finishLocked()
	}
}

// ReuseBuffer returns a drained buffer to the free list.
func (p *filePlayer) ReuseBuffer(port, id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, id)
}

func (p *filePlayer) finishLocked() {
	if p.ended {
		return
	}
	p.ended = true
	close(p.done)

	logrus.WithFields(logrus.Fields{
		"function": "filePlayer.finish",
		"bytes":    p.read,
	}).Info("Input exhausted")
}
