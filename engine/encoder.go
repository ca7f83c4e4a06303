package engine

import (
	"errors"
	"fmt"

	"github.com/opd-ai/a2dpsink/limits"
	"github.com/opd-ai/a2dpsink/rtp"
	"github.com/opd-ai/a2dpsink/sbc"
	"github.com/sirupsen/logrus"
)

// Encoder feeds PCM to the SBC codec and accumulates the frames in the
// datagram being built. It owns the per-datagram frame accounting and the
// encoded sample counters of the PacingState.
type Encoder struct {
	codec     *sbc.Encoder
	framer    *rtp.Framer
	pacing    *PacingState
	frameSize int
	maxFrames int
	readMTU   int
	writeMTU  int

	codesize     int
	frameLength  int
	readSize     int
	writeSize    int
	writeSamples int
}

func newEncoder(cfg sbc.Config, format AudioFormat, readMTU, writeMTU, maxFrames int, pacing *PacingState) (*Encoder, error) {
	writeSize, err := limits.PayloadSize(writeMTU)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	codec, err := sbc.NewEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	framer, err := rtp.NewFramer(writeSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	e := &Encoder{
		codec:     codec,
		framer:    framer,
		pacing:    pacing,
		frameSize: format.FrameSize(),
		maxFrames: maxFrames,
		readMTU:   readMTU,
		writeMTU:  writeMTU,
	}
	if _, err := e.SetBitpool(cfg.Bitpool); err != nil {
		return nil, err
	}
	return e, nil
}

// SetBitpool clamps bitpool to [limits.MinBitpool, limits.MaxBitpool], applies it
// and recomputes the frame and transmit geometry. It returns the applied value.
func (e *Encoder) SetBitpool(bitpool int) (int, error) {
	bitpool = limits.ClampBitpool(bitpool)

	if err := e.codec.SetBitpool(bitpool); err != nil {
		return e.codec.Config().Bitpool, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	e.codesize = e.codec.CodeSize()
	e.frameLength = e.codec.FrameLength()
	e.readSize = e.readMTU - limits.DatagramHeaderSize - limits.MTUSlack
	if e.readSize < 0 {
		e.readSize = 0
	}
	e.writeSize = e.framer.Capacity()
	e.writeSamples = (e.writeSize / e.frameLength) * (e.codesize / e.frameSize)

	if limits.DatagramHeaderSize+e.frameLength > e.writeSize {
		return bitpool, fmt.Errorf("%w: %d byte frames do not fit a %d byte datagram",
			ErrConfig, e.frameLength, e.writeSize)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Encoder.SetBitpool",
		"bitpool":       bitpool,
		"codesize":      e.codesize,
		"frame_length":  e.frameLength,
		"read_size":     e.readSize,
		"write_size":    e.writeSize,
		"write_samples": e.writeSamples,
	}).Debug("Bitpool applied")

	return bitpool, nil
}

// Bitpool returns the active bitpool.
func (e *Encoder) Bitpool() int {
	return e.codec.Config().Bitpool
}

// Encode encodes one codec unit from pcm into the current datagram and
// returns the PCM bytes consumed.
//
// Returns 0 with a nil error when pcm is shorter than one codec unit, and
// ErrEncoderOverflow when the datagram holds maxFrames frames or has no room
// for another frame.
func (e *Encoder) Encode(pcm []byte) (int, error) {
	if e.framer.FrameCount() >= e.maxFrames {
		return 0, ErrEncoderOverflow
	}

	consumed, written, err := e.codec.Encode(pcm, e.framer.Free())
	if errors.Is(err, sbc.ErrOutputTooSmall) {
		return 0, ErrEncoderOverflow
	}
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	if consumed == 0 {
		return 0, nil
	}

	if err := e.framer.Commit(written, consumed/e.codesize); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEncoderOverflow, err)
	}
	samples := uint64(consumed / e.frameSize)
	e.pacing.SampleCount += samples
	e.pacing.SampleQueued += samples

	logrus.WithFields(logrus.Fields{
		"function":    "Encoder.Encode",
		"consumed":    consumed,
		"written":     written,
		"frame_count": e.framer.FrameCount(),
		"used":        e.framer.Len(),
	}).Trace("Encoded frame")

	return consumed, nil
}

// NeedsFlush reports whether another frame would not fit the datagram or the
// frame ceiling has been reached.
func (e *Encoder) NeedsFlush() bool {
	return e.framer.NeedsFlush(e.frameLength, e.maxFrames)
}

// Reset discards the datagram being built.
func (e *Encoder) Reset() {
	e.framer.Reset()
	e.pacing.SampleQueued = 0
}

// FramesPerDatagram returns how many frames a full datagram holds with the
// current geometry and frame ceiling.
func (e *Encoder) FramesPerDatagram() int {
	n := (e.writeSize - limits.DatagramHeaderSize) / e.frameLength
	if n > e.maxFrames {
		n = e.maxFrames
	}
	return n
}

// FrameCount returns the frames in the datagram being built.
func (e *Encoder) FrameCount() int {
	return e.framer.FrameCount()
}
