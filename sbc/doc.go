// Package sbc implements an encoder for the low-complexity sub-band codec used by the
// Bluetooth Advanced Audio Distribution Profile.
//
// The encoder consumes interleaved signed 16-bit little-endian PCM and produces one SBC
// frame per call. A frame covers Blocks x Subbands samples per channel:
//
//	enc, err := sbc.NewEncoder(sbc.Config{
//		Frequency:  sbc.Frequency48000,
//		Mode:       sbc.JointStereo,
//		Subbands:   8,
//		Blocks:     16,
//		Allocation: sbc.Loudness,
//		Bitpool:    51,
//	})
//	consumed, written, err := enc.Encode(pcm, out)
//
// # Frame Geometry
//
// CodeSize reports how many PCM bytes one frame consumes and FrameLength how many
// encoded bytes it produces. FrameLength depends on the bitpool, so SetBitpool changes
// the output size of every following frame while keeping the filterbank history.
//
// # Encoding Pipeline
//
// Each frame runs through the polyphase analysis filterbank, per-subband scale factor
// selection, the optional mid/side decision for joint stereo, loudness or SNR bit
// allocation, and uniform quantization. The header CRC-8 covers the second and third
// header bytes plus the join flags and scale factors.
//
// # Short Input
//
// Encode returns (0, 0, nil) when fewer than CodeSize bytes are supplied. Callers treat
// that as "need more input" rather than an error.
package sbc
