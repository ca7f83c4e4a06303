package sbc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a codec parameter outside what SBC can encode.
	ErrInvalidConfig = errors.New("invalid sbc configuration")

	// ErrOutputTooSmall indicates an output slice shorter than one frame.
	ErrOutputTooSmall = errors.New("output buffer smaller than sbc frame")
)

// Frequency is the 2-bit sampling frequency code carried in the frame header.
type Frequency uint8

const (
	Frequency16000 Frequency = iota
	Frequency32000
	Frequency44100
	Frequency48000
)

// Rate returns the sampling rate in Hz, or 0 for an unknown code.
func (f Frequency) Rate() uint32 {
	switch f {
	case Frequency16000:
		return 16000
	case Frequency32000:
		return 32000
	case Frequency44100:
		return 44100
	case Frequency48000:
		return 48000
	default:
		return 0
	}
}

// FrequencyFromRate maps a sampling rate in Hz to its code.
func FrequencyFromRate(rate uint32) (Frequency, error) {
	switch rate {
	case 16000:
		return Frequency16000, nil
	case 32000:
		return Frequency32000, nil
	case 44100:
		return Frequency44100, nil
	case 48000:
		return Frequency48000, nil
	}
	return 0, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, rate)
}

// ChannelMode is the 2-bit channel mode code carried in the frame header.
type ChannelMode uint8

const (
	Mono ChannelMode = iota
	DualChannel
	Stereo
	JointStereo
)

// Channels returns the number of audio channels of the mode.
func (m ChannelMode) Channels() int {
	if m == Mono {
		return 1
	}
	return 2
}

func (m ChannelMode) String() string {
	switch m {
	case Mono:
		return "mono"
	case DualChannel:
		return "dual"
	case Stereo:
		return "stereo"
	case JointStereo:
		return "joint"
	default:
		return fmt.Sprintf("ChannelMode(%d)", uint8(m))
	}
}

// Allocation selects how bits are distributed over subbands.
type Allocation uint8

const (
	Loudness Allocation = iota
	SNR
)

func (a Allocation) String() string {
	if a == SNR {
		return "snr"
	}
	return "loudness"
}

// Config describes one SBC stream.
type Config struct {
	Frequency  Frequency
	Mode       ChannelMode
	Subbands   int // 4 or 8
	Blocks     int // 4, 8, 12 or 16
	Allocation Allocation
	Bitpool    int
}

// Validate checks every field, including the bitpool against the channel mode.
func (c Config) Validate() error {
	if c.Frequency > Frequency48000 {
		return fmt.Errorf("%w: frequency code %d", ErrInvalidConfig, c.Frequency)
	}
	if c.Mode > JointStereo {
		return fmt.Errorf("%w: channel mode %d", ErrInvalidConfig, c.Mode)
	}
	if c.Subbands != 4 && c.Subbands != 8 {
		return fmt.Errorf("%w: %d subbands", ErrInvalidConfig, c.Subbands)
	}
	switch c.Blocks {
	case 4, 8, 12, 16:
	default:
		return fmt.Errorf("%w: %d blocks", ErrInvalidConfig, c.Blocks)
	}
	if c.Allocation > SNR {
		return fmt.Errorf("%w: allocation %d", ErrInvalidConfig, c.Allocation)
	}
	if c.Bitpool < 2 || c.Bitpool > c.MaxBitpool() {
		return fmt.Errorf("%w: bitpool %d not in [2, %d]", ErrInvalidConfig, c.Bitpool, c.MaxBitpool())
	}
	return nil
}

// MaxBitpool returns the largest bitpool representable for the mode and subbands.
func (c Config) MaxBitpool() int {
	limit := 16 * c.Subbands
	if c.Mode == Stereo || c.Mode == JointStereo {
		limit = 32 * c.Subbands
	}
	if limit > 250 {
		limit = 250
	}
	return limit
}

// Channels returns the channel count of the configuration.
func (c Config) Channels() int {
	return c.Mode.Channels()
}

// Rate returns the sampling rate in Hz.
func (c Config) Rate() uint32 {
	return c.Frequency.Rate()
}

// CodeSize returns the number of PCM bytes (S16LE, interleaved) one frame consumes.
func (c Config) CodeSize() int {
	return c.Subbands * c.Blocks * c.Channels() * 2
}

// FrameLength returns the encoded size of one frame in bytes.
func (c Config) FrameLength() int {
	ch := c.Channels()
	switch c.Mode {
	case Mono, DualChannel:
		return 4 + (4*c.Subbands*ch)/8 + ceilDiv(c.Blocks*ch*c.Bitpool, 8)
	case Stereo:
		return 4 + c.Subbands + ceilDiv(c.Blocks*c.Bitpool, 8)
	default:
		return 4 + c.Subbands + ceilDiv(c.Subbands+c.Blocks*c.Bitpool, 8)
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
