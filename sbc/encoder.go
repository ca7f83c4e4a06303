package sbc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Encoder turns interleaved S16LE PCM into SBC frames, one frame per call.
// An Encoder keeps filterbank history between calls and is not safe for
// concurrent use.
type Encoder struct {
	cfg       Config
	analyzers [2]*analyzer

	in    [8]float64
	sb    [16][2][8]float64
	sf    [2][8]int
	bits  [2][8]int
	joint [8]bool
}

// NewEncoder creates an encoder for cfg.
//
// Returns ErrInvalidConfig (wrapped with the offending field) if cfg cannot be encoded.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Encoder{cfg: cfg}
	for ch := 0; ch < cfg.Channels(); ch++ {
		e.analyzers[ch] = newAnalyzer(cfg.Subbands)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewEncoder",
		"rate":         cfg.Rate(),
		"mode":         cfg.Mode.String(),
		"subbands":     cfg.Subbands,
		"blocks":       cfg.Blocks,
		"allocation":   cfg.Allocation.String(),
		"bitpool":      cfg.Bitpool,
		"codesize":     cfg.CodeSize(),
		"frame_length": cfg.FrameLength(),
	}).Debug("SBC encoder created")

	return e, nil
}

// Config returns the active configuration.
func (e *Encoder) Config() Config {
	return e.cfg
}

// CodeSize returns the PCM bytes consumed per frame.
func (e *Encoder) CodeSize() int {
	return e.cfg.CodeSize()
}

// FrameLength returns the encoded bytes produced per frame at the current bitpool.
func (e *Encoder) FrameLength() int {
	return e.cfg.FrameLength()
}

// SetBitpool changes the bitpool used for the following frames.
// The filterbank history is kept.
func (e *Encoder) SetBitpool(bitpool int) error {
	next := e.cfg
	next.Bitpool = bitpool
	if err := next.Validate(); err != nil {
		return err
	}
	e.cfg = next
	return nil
}

// Reset clears the filterbank history.
func (e *Encoder) Reset() {
	for _, a := range e.analyzers {
		if a != nil {
			a.reset()
		}
	}
}

// Encode consumes one frame worth of PCM from pcm and writes one frame to out.
//
// Returns (0, 0, nil) when pcm holds less than CodeSize bytes, and
// ErrOutputTooSmall when out cannot hold FrameLength bytes.
func (e *Encoder) Encode(pcm, out []byte) (consumed, written int, err error) {
	codesize := e.cfg.CodeSize()
	frameLength := e.cfg.FrameLength()
	if len(pcm) < codesize {
		return 0, 0, nil
	}
	if len(out) < frameLength {
		return 0, 0, fmt.Errorf("%w: have %d, need %d", ErrOutputTooSmall, len(out), frameLength)
	}

	e.analyze(pcm)
	e.computeScaleFactors()
	if e.cfg.Mode == JointStereo {
		e.applyJointStereo()
	}
	allocateBits(e.cfg, &e.sf, &e.bits)
	e.pack(out[:frameLength])

	return codesize, frameLength, nil
}

func (e *Encoder) analyze(pcm []byte) {
	m := e.cfg.Subbands
	channels := e.cfg.Channels()
	for blk := 0; blk < e.cfg.Blocks; blk++ {
		for ch := 0; ch < channels; ch++ {
			for i := 0; i < m; i++ {
				off := ((blk*m+i)*channels + ch) * 2
				e.in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
			}
			e.analyzers[ch].process(e.in[:m], e.sb[blk][ch][:m])
		}
	}
}

func (e *Encoder) computeScaleFactors() {
	for ch := 0; ch < e.cfg.Channels(); ch++ {
		for sb := 0; sb < e.cfg.Subbands; sb++ {
			var peak float64
			for blk := 0; blk < e.cfg.Blocks; blk++ {
				peak = math.Max(peak, math.Abs(e.sb[blk][ch][sb]))
			}
			e.sf[ch][sb] = scaleFactor(peak)
		}
	}
}

// applyJointStereo codes a subband as mid/side when that lowers the combined
// scale factors. The last subband is always coded left/right.
func (e *Encoder) applyJointStereo() {
	for sb := 0; sb < e.cfg.Subbands; sb++ {
		e.joint[sb] = false
		if sb == e.cfg.Subbands-1 {
			continue
		}

		var peakMid, peakSide float64
		for blk := 0; blk < e.cfg.Blocks; blk++ {
			l, r := e.sb[blk][0][sb], e.sb[blk][1][sb]
			peakMid = math.Max(peakMid, math.Abs((l+r)/2))
			peakSide = math.Max(peakSide, math.Abs((l-r)/2))
		}
		sfMid, sfSide := scaleFactor(peakMid), scaleFactor(peakSide)
		if sfMid+sfSide >= e.sf[0][sb]+e.sf[1][sb] {
			continue
		}

		e.joint[sb] = true
		e.sf[0][sb], e.sf[1][sb] = sfMid, sfSide
		for blk := 0; blk < e.cfg.Blocks; blk++ {
			l, r := e.sb[blk][0][sb], e.sb[blk][1][sb]
			e.sb[blk][0][sb], e.sb[blk][1][sb] = (l+r)/2, (l-r)/2
		}
	}
}

func (e *Encoder) pack(out []byte) {
	for i := range out {
		out[i] = 0
	}
	m := e.cfg.Subbands
	channels := e.cfg.Channels()

	out[0] = syncWord
	out[1] = headerByte(e.cfg)
	out[2] = byte(e.cfg.Bitpool)

	w := bitWriter{buf: out, pos: 32}
	if e.cfg.Mode == JointStereo {
		for sb := 0; sb < m; sb++ {
			var j uint32
			if e.joint[sb] {
				j = 1
			}
			w.write(j, 1)
		}
	}
	for ch := 0; ch < channels; ch++ {
		for sb := 0; sb < m; sb++ {
			w.write(uint32(e.sf[ch][sb]), 4)
		}
	}

	crc := crc8(crcInit, out[1:3], 16)
	out[3] = crc8(crc, out[4:], w.pos-32)

	for blk := 0; blk < e.cfg.Blocks; blk++ {
		for ch := 0; ch < channels; ch++ {
			for sb := 0; sb < m; sb++ {
				if n := e.bits[ch][sb]; n > 0 {
					w.write(quantize(e.sb[blk][ch][sb], e.sf[ch][sb], n), n)
				}
			}
		}
	}
}

// scaleFactor returns the smallest sf in [0, 15] with peak < 2^(sf+1).
func scaleFactor(peak float64) int {
	sf := 0
	for sf < 15 && peak >= float64(int(2)<<uint(sf)) {
		sf++
	}
	return sf
}

// quantize maps a subband sample onto 2^bits-1 uniform levels.
func quantize(sample float64, sf, bits int) uint32 {
	levels := int64(1)<<uint(bits) - 1
	q := int64(math.Floor((sample/float64(int(2)<<uint(sf)) + 1) * float64(levels) / 2))
	if q < 0 {
		q = 0
	}
	if q > levels-1 {
		q = levels - 1
	}
	return uint32(q)
}
