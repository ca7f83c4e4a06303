// Package a2dp decodes the SBC codec information element negotiated over AVDTP
// and turns it into an encoder configuration.
//
// The element is four bytes:
//
//	byte 0: sampling frequency flags (high nibble) | channel mode flags (low nibble)
//	byte 1: block length flags (high nibble) | subband flags (bits 2-3) | allocation flags (bits 0-1)
//	byte 2: minimum bitpool
//	byte 3: maximum bitpool
//
// When more than one flag is set in a field the highest quality choice wins:
// 48 kHz over 44.1, 32 and 16 kHz, joint stereo over stereo, dual channel and mono,
// and loudness allocation over SNR.
package a2dp
