// Package limits provides the constants and validation helpers shared across the
// A2DP sink: datagram header sizes, the transmit buffer capacity, the per-datagram
// frame ceiling, buffer negotiation bounds, bitpool bounds and latency ranges.
//
// # Datagram Sizing
//
// Every datagram written to the media socket starts with a 12-byte RTP header and a
// one-byte A2DP payload header. The encoded payload budget for a link is derived from
// its MTU:
//
//	size, err := limits.PayloadSize(writeMTU) // writeMTU - 13 - 24, capped at 4096
//
// # Bitpool and Latency
//
// The engine never runs the codec outside [MinBitpool, MaxBitpool]:
//
//	bitpool = limits.ClampBitpool(requested)
//
// Latency properties are expressed in frames and validated with ValidateLatency.
//
// # Error Types
//
//   - ErrOutOfRange: a property or count outside its permitted range
//   - ErrMTUTooSmall: an MTU that leaves no room for encoded audio
package limits
