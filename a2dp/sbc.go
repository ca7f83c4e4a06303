package a2dp

import (
	"errors"
	"fmt"

	"github.com/opd-ai/a2dpsink/limits"
	"github.com/opd-ai/a2dpsink/sbc"
	"github.com/sirupsen/logrus"
)

var (
	// ErrShortConfiguration indicates a configuration blob shorter than SBCConfigSize.
	ErrShortConfiguration = errors.New("a2dp sbc configuration too short")

	// ErrUnsupported indicates a configuration with no usable value for a field.
	ErrUnsupported = errors.New("unsupported a2dp sbc configuration")
)

// SBCConfigSize is the length of the SBC codec information element.
const SBCConfigSize = 4

// Sampling frequency flags.
const (
	Frequency16000 uint8 = 1 << 3
	Frequency32000 uint8 = 1 << 2
	Frequency44100 uint8 = 1 << 1
	Frequency48000 uint8 = 1 << 0
)

// Channel mode flags.
const (
	ChannelModeMono        uint8 = 1 << 3
	ChannelModeDualChannel uint8 = 1 << 2
	ChannelModeStereo      uint8 = 1 << 1
	ChannelModeJointStereo uint8 = 1 << 0
)

// Block length flags.
const (
	BlockLength4  uint8 = 1 << 3
	BlockLength8  uint8 = 1 << 2
	BlockLength12 uint8 = 1 << 1
	BlockLength16 uint8 = 1 << 0
)

// Subband flags.
const (
	Subbands4 uint8 = 1 << 1
	Subbands8 uint8 = 1 << 0
)

// Allocation method flags.
const (
	AllocationSNR      uint8 = 1 << 1
	AllocationLoudness uint8 = 1 << 0
)

// SBCConfiguration is the decoded SBC codec information element.
// Each flag field may carry several bits when it describes capabilities
// rather than a single selected configuration.
type SBCConfiguration struct {
	Frequencies  uint8
	ChannelModes uint8
	BlockLengths uint8
	Subbands     uint8
	Allocations  uint8
	MinBitpool   uint8
	MaxBitpool   uint8
}

// ParseSBCConfiguration decodes the 4-byte codec information element.
func ParseSBCConfiguration(blob []byte) (SBCConfiguration, error) {
	if len(blob) < SBCConfigSize {
		return SBCConfiguration{}, fmt.Errorf("%w: %d bytes", ErrShortConfiguration, len(blob))
	}
	return SBCConfiguration{
		Frequencies:  blob[0] >> 4,
		ChannelModes: blob[0] & 0x0f,
		BlockLengths: blob[1] >> 4,
		Subbands:     (blob[1] >> 2) & 0x03,
		Allocations:  blob[1] & 0x03,
		MinBitpool:   blob[2],
		MaxBitpool:   blob[3],
	}, nil
}

// Bytes encodes the configuration back into its wire form.
func (c SBCConfiguration) Bytes() []byte {
	return []byte{
		c.Frequencies<<4 | c.ChannelModes&0x0f,
		c.BlockLengths<<4 | (c.Subbands&0x03)<<2 | c.Allocations&0x03,
		c.MinBitpool,
		c.MaxBitpool,
	}
}

// Frequency picks the preferred sampling frequency: 48 kHz, then 44.1, 32 and 16 kHz.
func (c SBCConfiguration) Frequency() (sbc.Frequency, error) {
	switch {
	case c.Frequencies&Frequency48000 != 0:
		return sbc.Frequency48000, nil
	case c.Frequencies&Frequency44100 != 0:
		return sbc.Frequency44100, nil
	case c.Frequencies&Frequency32000 != 0:
		return sbc.Frequency32000, nil
	case c.Frequencies&Frequency16000 != 0:
		return sbc.Frequency16000, nil
	}
	return 0, fmt.Errorf("%w: frequency flags %#x", ErrUnsupported, c.Frequencies)
}

// ChannelMode picks the preferred channel mode: joint stereo, then stereo, dual channel and mono.
func (c SBCConfiguration) ChannelMode() (sbc.ChannelMode, error) {
	switch {
	case c.ChannelModes&ChannelModeJointStereo != 0:
		return sbc.JointStereo, nil
	case c.ChannelModes&ChannelModeStereo != 0:
		return sbc.Stereo, nil
	case c.ChannelModes&ChannelModeDualChannel != 0:
		return sbc.DualChannel, nil
	case c.ChannelModes&ChannelModeMono != 0:
		return sbc.Mono, nil
	}
	return 0, fmt.Errorf("%w: channel mode flags %#x", ErrUnsupported, c.ChannelModes)
}

// Rate returns the sample rate in Hz of the preferred frequency.
func (c SBCConfiguration) Rate() (uint32, error) {
	f, err := c.Frequency()
	if err != nil {
		return 0, err
	}
	return f.Rate(), nil
}

// Channels returns the channel count of the preferred channel mode.
func (c SBCConfiguration) Channels() (int, error) {
	m, err := c.ChannelMode()
	if err != nil {
		return 0, err
	}
	return m.Channels(), nil
}

// EncoderConfig selects one value per field and returns the encoder configuration.
// Frequency and channel mode follow the preference order; subbands and block
// length must each carry exactly one selected flag. The initial bitpool is MaxBitpool clamped to the engine's bitpool range.
func (c SBCConfiguration) EncoderConfig() (sbc.Config, error) {
	var cfg sbc.Config
	var err error

	if cfg.Frequency, err = c.Frequency(); err != nil {
		return sbc.Config{}, err
	}
	if cfg.Mode, err = c.ChannelMode(); err != nil {
		return sbc.Config{}, err
	}

	switch c.Subbands {
	case Subbands4:
		cfg.Subbands = 4
	case Subbands8:
		cfg.Subbands = 8
	default:
		return sbc.Config{}, fmt.Errorf("%w: subband flags %#x", ErrUnsupported, c.Subbands)
	}

	switch c.BlockLengths {
	case BlockLength4:
		cfg.Blocks = 4
	case BlockLength8:
		cfg.Blocks = 8
	case BlockLength12:
		cfg.Blocks = 12
	case BlockLength16:
		cfg.Blocks = 16
	default:
		return sbc.Config{}, fmt.Errorf("%w: block length flags %#x", ErrUnsupported, c.BlockLengths)
	}

	if c.Allocations&AllocationLoudness != 0 {
		cfg.Allocation = sbc.Loudness
	} else {
		cfg.Allocation = sbc.SNR
	}

	cfg.Bitpool = limits.ClampBitpool(int(c.MaxBitpool))

	logrus.WithFields(logrus.Fields{
		"function":    "EncoderConfig",
		"rate":        cfg.Rate(),
		"mode":        cfg.Mode.String(),
		"subbands":    cfg.Subbands,
		"blocks":      cfg.Blocks,
		"allocation":  cfg.Allocation.String(),
		"min_bitpool": c.MinBitpool,
		"max_bitpool": c.MaxBitpool,
		"bitpool":     cfg.Bitpool,
	}).Debug("Selected SBC encoder configuration")

	if err := cfg.Validate(); err != nil {
		return sbc.Config{}, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return cfg, nil
}

// FromEncoderConfig builds the single-choice configuration element for cfg,
// advertising the bitpool range [minBitpool, maxBitpool].
func FromEncoderConfig(cfg sbc.Config, minBitpool, maxBitpool int) SBCConfiguration {
	out := SBCConfiguration{
		MinBitpool: uint8(minBitpool),
		MaxBitpool: uint8(maxBitpool),
	}
	switch cfg.Frequency {
	case sbc.Frequency16000:
		out.Frequencies = Frequency16000
	case sbc.Frequency32000:
		out.Frequencies = Frequency32000
	case sbc.Frequency44100:
		out.Frequencies = Frequency44100
	default:
		out.Frequencies = Frequency48000
	}
	switch cfg.Mode {
	case sbc.Mono:
		out.ChannelModes = ChannelModeMono
	case sbc.DualChannel:
		out.ChannelModes = ChannelModeDualChannel
	case sbc.Stereo:
		out.ChannelModes = ChannelModeStereo
	default:
		out.ChannelModes = ChannelModeJointStereo
	}
	switch cfg.Blocks {
	case 4:
		out.BlockLengths = BlockLength4
	case 8:
		out.BlockLengths = BlockLength8
	case 12:
		out.BlockLengths = BlockLength12
	default:
		out.BlockLengths = BlockLength16
	}
	if cfg.Subbands == 4 {
		out.Subbands = Subbands4
	} else {
		out.Subbands = Subbands8
	}
	if cfg.Allocation == sbc.SNR {
		out.Allocations = AllocationSNR
	} else {
		out.Allocations = AllocationLoudness
	}
	return out
}
