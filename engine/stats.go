package engine

// StreamState is the state of an Engine.
type StreamState int

const (
	StateStopped StreamState = iota
	StateStarted
)

// String returns a human-readable stream state.
func (s StreamState) String() string {
	if s == StateStarted {
		return "started"
	}
	return "stopped"
}

// Stats is a snapshot of the stream counters.
type Stats struct {
	State   StreamState
	Healthy bool

	// Codec and transmit geometry, valid while started.
	Bitpool      int
	CodeSize     int
	FrameLength  int
	WriteSize    int
	WriteSamples int

	// FramesPerDatagram is the frame count of a full datagram.
	FramesPerDatagram int

	// Pacing
	SampleCount   uint64
	SampleTime    uint64
	Timestamp     uint64
	Sequence      uint16
	LastTimestamp uint32
	Filled        int64

	Datagrams       uint64
	BytesSent       uint64
	WouldBlocks     uint64
	TransportErrors uint64

	// Underruns counts cycles in which playback had overtaken the encoder.
	// UnderrunDeficit is the shortfall in samples seen by the latest one.
	Underruns       uint64
	UnderrunDeficit int64

	OutQueue      int
	Pulls         uint64
	BuffersReused uint64
}
