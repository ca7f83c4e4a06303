package a2dpsink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/a2dpsink/a2dp"
	"github.com/opd-ai/a2dpsink/engine"
	"github.com/opd-ai/a2dpsink/limits"
	"github.com/opd-ai/a2dpsink/transport"
	"github.com/sirupsen/logrus"
)

// Command is a stream control command.
type Command int

const (
	// CommandStart acquires the transport and starts streaming.
	CommandStart Command = iota
	// CommandPause stops streaming and releases the transport.
	CommandPause
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandPause:
		return "pause"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// ErrUnknownCommand is returned by SendCommand for commands the node does not handle.
var ErrUnknownCommand = errors.New("unknown command")

// BufferParams are the buffer negotiation parameters offered once a format is set.
// Sizes are in bytes.
type BufferParams struct {
	Size       int
	MaxSize    int
	Buffers    int
	MinBuffers int
	MaxBuffers int
	Align      int
}

// Node is the sink node: one input port feeding one engine. Its methods may be
// called from any goroutine; engine operations are marshalled onto the loop.
type Node struct {
	tr   transport.MediaTransport
	loop *engine.Loop

	mu    sync.Mutex
	props Props
}

// NewNode creates a node streaming to tr. The loop is not running until Run.
//
// Parameters:
//   - tr: Media transport of the stream
//   - cb: Producer callbacks
//   - opts: Engine options, nil for engine.DefaultOptions()
//
// Returns:
//   - *Node: The node
//   - error: Any error creating the engine
func NewNode(tr transport.MediaTransport, cb engine.Callbacks, opts *engine.Options) (*Node, error) {
	loop, err := engine.NewLoop(tr, cb, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine loop: %w", err)
	}

	n := &Node{
		tr:    tr,
		loop:  loop,
		props: DefaultProps(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewNode",
		"stream":   loop.Engine().StreamID(),
	}).Info("A2DP sink node created")

	return n, nil
}

// StreamID returns the id labelling the node's logs and metrics.
func (n *Node) StreamID() string {
	return n.loop.Engine().StreamID()
}

// Run starts the engine loop. It returns immediately; the loop runs until ctx
// is cancelled or Close is called.
func (n *Node) Run(ctx context.Context) error {
	return n.loop.Start(ctx)
}

// Close stops streaming and the engine loop.
func (n *Node) Close() error {
	return n.loop.Stop()
}

// Props returns the current props.
func (n *Node) Props() Props {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.props
}

// SetProps replaces the props. A nil props restores the defaults. The minimum
// latency takes effect on the next SetFormat.
func (n *Node) SetProps(props *Props) error {
	p := DefaultProps()
	if props != nil {
		p = *props
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrInvalidArgument, err)
	}

	n.mu.Lock()
	n.props = p
	n.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Node.SetProps",
		"min_latency": p.MinLatency,
		"max_latency": p.MaxLatency,
	}).Debug("Props updated")

	return nil
}

// EnumFormats returns the formats the port accepts: S16LE at the rate and
// channel count of the transport configuration.
func (n *Node) EnumFormats() ([]engine.AudioFormat, error) {
	cfg, err := a2dp.ParseSBCConfiguration(n.tr.Configuration())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrConfig, err)
	}
	rate, err := cfg.Rate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrConfig, err)
	}
	channels, err := cfg.Channels()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrConfig, err)
	}
	return []engine.AudioFormat{{Rate: rate, Channels: channels}}, nil
}

// SetFormat sets or, with nil, clears the port format. The pull threshold is
// captured from the current minimum latency.
func (n *Node) SetFormat(ctx context.Context, format *engine.AudioFormat) error {
	threshold := int(n.Props().MinLatency)
	return n.loop.Invoke(ctx, func(e *engine.Engine) error {
		return e.SetFormat(format, threshold)
	})
}

// BufferParams returns the buffer negotiation parameters for the current format.
func (n *Node) BufferParams(ctx context.Context) (BufferParams, error) {
	var format engine.AudioFormat
	err := n.loop.Invoke(ctx, func(e *engine.Engine) error {
		f, ok := e.Format()
		if !ok {
			return engine.ErrNoFormat
		}
		format = f
		return nil
	})
	if err != nil {
		return BufferParams{}, err
	}

	return BufferParams{
		Size:       int(n.Props().MinLatency) * format.FrameSize(),
		MaxSize:    limits.MaxLatency,
		Buffers:    limits.MinBuffers,
		MinBuffers: limits.MinBuffers,
		MaxBuffers: limits.MaxBuffers,
		Align:      limits.BufferAlign,
	}, nil
}

// UseBuffers registers the producer's buffers. An empty list clears them.
func (n *Node) UseBuffers(ctx context.Context, bufs []*engine.Buffer) error {
	return n.loop.Invoke(ctx, func(e *engine.Engine) error {
		return e.UseBuffers(bufs)
	})
}

// Push queues a filled buffer from outside the NeedInput callback.
func (n *Node) Push(ctx context.Context, id uint32) error {
	return n.loop.Invoke(ctx, func(e *engine.Engine) error {
		return e.Push(id)
	})
}

// SendCommand applies a control command on the engine goroutine and waits for
// its result.
func (n *Node) SendCommand(ctx context.Context, cmd Command) error {
	logrus.WithFields(logrus.Fields{
		"function": "Node.SendCommand",
		"stream":   n.StreamID(),
		"command":  cmd.String(),
	}).Debug("Dispatching command")

	switch cmd {
	case CommandStart:
		return n.loop.Invoke(ctx, (*engine.Engine).Start)
	case CommandPause:
		return n.loop.Invoke(ctx, (*engine.Engine).Stop)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

// SetBitpool changes the bitpool of a started stream and returns the value applied.
func (n *Node) SetBitpool(ctx context.Context, bitpool int) (int, error) {
	var applied int
	err := n.loop.Invoke(ctx, func(e *engine.Engine) error {
		v, err := e.SetBitpool(bitpool)
		applied = v
		return err
	})
	return applied, err
}

// Stats returns the stream counters.
func (n *Node) Stats(ctx context.Context) (engine.Stats, error) {
	return n.loop.Stats(ctx)
}
