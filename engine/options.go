package engine

import (
	"github.com/google/uuid"
	"github.com/opd-ai/a2dpsink/clock"
	"github.com/opd-ai/a2dpsink/limits"
	"github.com/opd-ai/a2dpsink/transport"
)

// Options tune an Engine. A nil *Options means DefaultOptions().
type Options struct {
	// MaxFrameCount is the ceiling of codec frames per datagram.
	MaxFrameCount int

	// FillFrames is the number of silence datagrams used to prime the link.
	FillFrames int

	// Clock is the pacing time source.
	Clock clock.Clock

	// SocketFactory wraps the acquired descriptor. Defaults to transport.NewSocket.
	SocketFactory transport.SocketFactory

	// NotifierFactory creates the writability notifier used by Loop.
	// Defaults to transport.NewPoller.
	NotifierFactory transport.NotifierFactory

	// Adaptation enables automatic bitpool adaptation when non-nil.
	Adaptation *AdaptationConfig

	// StreamID labels logs and metrics. Empty means a random UUID.
	StreamID string

	// Observer receives stream events. Nil disables them.
	Observer Observer
}

// DefaultOptions returns the default engine options.
func DefaultOptions() *Options {
	return &Options{
		MaxFrameCount:   limits.MaxFrameCount,
		FillFrames:      limits.FillFrames,
		Clock:           clock.Default(),
		SocketFactory:   transport.NewSocket,
		NotifierFactory: transport.NewPoller,
	}
}

// withDefaults fills unset fields.
func (o *Options) withDefaults() Options {
	out := *DefaultOptions()
	if o == nil {
		out.StreamID = uuid.NewString()
		return out
	}
	if o.MaxFrameCount > 0 {
		out.MaxFrameCount = o.MaxFrameCount
	}
	if o.FillFrames > 0 {
		out.FillFrames = o.FillFrames
	}
	if o.Clock != nil {
		out.Clock = o.Clock
	}
	if o.SocketFactory != nil {
		out.SocketFactory = o.SocketFactory
	}
	if o.NotifierFactory != nil {
		out.NotifierFactory = o.NotifierFactory
	}
	out.Adaptation = o.Adaptation
	out.Observer = o.Observer
	out.StreamID = o.StreamID
	if out.StreamID == "" {
		out.StreamID = uuid.NewString()
	}
	return out
}
