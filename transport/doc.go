// Package transport provides the media transport collaborator of the A2DP sink and
// the non-blocking socket it writes RTP datagrams to.
//
// # Media Transports
//
// A MediaTransport hands out a connected socket descriptor between Acquire and
// Release, together with the link MTUs and the negotiated codec configuration.
// Three implementations are provided:
//
//   - NewFDTransport: a descriptor inherited from a Bluetooth daemon or parent process
//   - NewL2CAPTransport: a Bluetooth L2CAP sequential-packet connection
//   - NewUDPTransport: a UDP socket, useful for capturing the stream on another host
//
// # Sockets
//
// NewSocket wraps a descriptor in non-blocking mode. Write maps EAGAIN to
// ErrWouldBlock so callers can defer the datagram instead of failing:
//
//	sock, err := transport.NewSocket(t.FD())
//	if _, err := sock.Write(datagram); errors.Is(err, transport.ErrWouldBlock) {
//		// keep the datagram, wait for writability
//	}
//
// The socket also exposes SO_SNDBUF, SO_RCVBUF and SO_PRIORITY tuning and the
// kernel send queue depth (TIOCOUTQ).
//
// # Writability
//
// NewPoller returns a WritableNotifier that waits in poll(2) on the descriptor and
// a wake pipe. Each Arm yields at most one notification on Ready.
//
// Sockets, pollers and dialers are implemented for Linux only.
package transport
