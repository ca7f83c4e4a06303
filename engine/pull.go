package engine

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// dry reports whether the ready queue cannot supply one codec unit.
func (e *Engine) dry() bool {
	return e.pool.Available() < e.enc.codesize
}

// maybePull asks the producer for more input when a started engine's ready
// queue is dry.
// Pushes made from inside NeedInput are queued without starting a nested cycle.
func (e *Engine) maybePull() {
	if !e.started || e.inPull || !e.dry() {
		return
	}

	req := PullRequest{
		Offset:  e.pacing.SampleCount * uint64(e.format.FrameSize()),
		MinSize: e.threshold * e.format.FrameSize(),
		MaxSize: e.enc.writeSamples * e.format.FrameSize(),
	}

	e.log.WithFields(logrus.Fields{
		"function": "maybePull",
		"offset":   req.Offset,
		"min_size": req.MinSize,
		"max_size": req.MaxSize,
	}).Trace("Requesting input")

	e.inPull = true
	e.callbacks.NeedInput(e, req)
	e.inPull = false
	e.stats.Pulls++
}

// drain encodes ready data until the queue is dry or the datagram is full.
// Short head segments are stitched with the following bytes so chunk sizes
// that are not multiples of the codec unit still drain completely.
func (e *Engine) drain() {
	codesize := e.enc.codesize
	for e.started && !e.dry() {
		pcm := e.pool.Head()
		if len(pcm) < codesize {
			n := e.pool.Peek(e.scratch[:codesize])
			pcm = e.scratch[:n]
		}

		n, err := e.enc.Encode(pcm)
		if err != nil {
			if !errors.Is(err, ErrEncoderOverflow) {
				e.log.WithFields(logrus.Fields{
					"function": "drain",
					"error":    err.Error(),
				}).Error("Encoding failed")
			}
			return
		}
		if n == 0 {
			return
		}

		if released := e.pool.Drain(n); len(released) > 0 {
			for _, id := range released {
				e.reuse(id)
			}
			e.maybePull()
		}
	}
}

// reuse hands a drained buffer back to the producer.
func (e *Engine) reuse(id uint32) {
	e.log.WithFields(logrus.Fields{
		"function":  "reuse",
		"buffer_id": id,
	}).Trace("Reusing buffer")

	e.stats.BuffersReused++
	e.observer.BufferReused()
	e.callbacks.ReuseBuffer(InputPort, id)
}
