// Package rtp frames SBC audio into RTP datagrams for the A2DP media channel.
//
// A Framer owns a fixed-capacity transmit buffer. Encoded frames are written
// directly into Free() and accounted with Commit; when the datagram is full the
// caller seals it with the RTP timestamp of its first sample and writes it out:
//
//	framer, _ := rtp.NewFramer(writeSize)
//	n := encode(framer.Free())
//	framer.Commit(n, 1)
//	if framer.NeedsFlush(frameLength, maxFrames) {
//		datagram, _ := framer.Seal(timestamp)
//		if _, err := sock.Write(datagram); err == nil {
//			framer.Advance()
//		}
//	}
//
// # Wire Format
//
// Each datagram is a 12-byte RTP header (version 2, payload type 1, fixed SSRC 1,
// big-endian sequence number and timestamp) followed by a one-byte media payload
// header whose low four bits carry the frame count, then the SBC frames back to back.
// The header is produced with github.com/pion/rtp.
package rtp
