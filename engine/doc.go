// Package engine implements the transmit engine of an A2DP sink.
//
// The engine accepts PCM buffers from a producer, encodes them with SBC,
// packs the frames into RTP datagrams and writes the datagrams to a
// non-blocking media socket at the pace of the playback clock.
//
// # Architecture
//
//   - BufferPool: ownership of the producer's buffers and the ready queue
//   - Encoder: SBC encoding into the datagram being built, bitpool control
//   - Transmitter: RTP sealing and non-blocking writes
//   - PacingState: wall-clock to sample conversion and wake deadlines
//   - Engine: the Stopped/Started state machine and the pacing cycle
//   - Loop: the engine goroutine, its timer and writability notifier
//   - BitpoolAdapter: optional bitpool stepping under backpressure
//
// # Buffer Ownership
//
// Registered buffers start outstanding. Push moves a buffer to the ready
// queue; once the encoder has consumed its whole chunk the buffer becomes
// outstanding again and is handed back exactly once through ReuseBuffer.
// When the ready queue cannot supply one codec unit the engine calls
// NeedInput, during which the producer may push through the given Pusher.
//
// # Pacing
//
// The first cycle after Start primes the link with a few datagrams of
// silence. From then on a full datagram is written only once the audio sent
// before it is due to have played out; otherwise the timer is armed for that
// moment. A write that would block keeps the datagram intact, pushes the
// next deadline back and waits for the socket to become writable.
//
// # Usage
//
//	loop, err := engine.NewLoop(tr, producer, nil)
//	if err != nil {
//	    return err
//	}
//	if err := loop.Start(ctx); err != nil {
//	    return err
//	}
//	defer loop.Stop()
//
//	err = loop.Invoke(ctx, func(e *engine.Engine) error {
//	    if err := e.SetFormat(&engine.AudioFormat{Rate: 48000, Channels: 2}, 1024); err != nil {
//	        return err
//	    }
//	    if err := e.UseBuffers(buffers); err != nil {
//	        return err
//	    }
//	    return e.Start()
//	})
//
// # Error Types
//
// Every error is classified by one of ErrConfig, ErrInvalidState,
// ErrTransport and ErrInvalidArgument. ErrWouldBlock and ErrEncoderOverflow
// are handled inside the pacing cycle and never returned.
package engine
