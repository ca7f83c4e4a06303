package a2dpsink

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/a2dpsink/engine"
	"github.com/opd-ai/a2dpsink/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T) (*Node, *mockTransport, *mockSocket, *mockProducer) {
	t.Helper()
	tr := &mockTransport{config: stereo44k()}
	sock := &mockSocket{}
	producer := &mockProducer{}

	node, err := NewNode(tr, producer, testOptions(sock))
	require.NoError(t, err)
	return node, tr, sock, producer
}

func TestPropsDefaultsAndReset(t *testing.T) {
	node, _, _, _ := newTestNode(t)
	assert.Equal(t, Props{MinLatency: 1024, MaxLatency: 1024}, node.Props())

	require.NoError(t, node.SetProps(&Props{MinLatency: 256, MaxLatency: 4096}))
	assert.Equal(t, int64(256), node.Props().MinLatency)

	require.NoError(t, node.SetProps(nil))
	assert.Equal(t, DefaultProps(), node.Props())
}

func TestPropsValidation(t *testing.T) {
	tests := []struct {
		name  string
		props Props
		ok    bool
	}{
		{"defaults", DefaultProps(), true},
		{"lower bound", Props{MinLatency: 1, MaxLatency: 1}, true},
		{"upper bound", Props{MinLatency: limits.MaxLatency, MaxLatency: limits.MaxLatency}, true},
		{"zero min", Props{MinLatency: 0, MaxLatency: 1024}, false},
		{"negative max", Props{MinLatency: 1024, MaxLatency: -1}, false},
		{"max overflow", Props{MinLatency: 1024, MaxLatency: limits.MaxLatency + 1}, false},
	}

	node, _, _, _ := newTestNode(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := node.SetProps(&tt.props)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, engine.ErrInvalidArgument)
			assert.ErrorIs(t, err, limits.ErrOutOfRange)
		})
	}
}

func TestPropInfos(t *testing.T) {
	infos := PropInfos()
	require.Len(t, infos, 2)
	assert.Equal(t, "min_latency", infos[0].Name)
	assert.Equal(t, "max_latency", infos[1].Name)
	for _, info := range infos {
		assert.Equal(t, int64(1024), info.Default)
		assert.Equal(t, int64(1), info.Min)
		assert.Equal(t, int64(limits.MaxLatency), info.Max)
	}
}

func TestEnumFormats(t *testing.T) {
	node, tr, _, _ := newTestNode(t)

	formats, err := node.EnumFormats()
	require.NoError(t, err)
	assert.Equal(t, []engine.AudioFormat{{Rate: 44100, Channels: 2}}, formats)

	tr.config = []byte{0xff}
	_, err = node.EnumFormats()
	assert.ErrorIs(t, err, engine.ErrConfig)
}

func TestBufferParams(t *testing.T) {
	node, _, _, _ := newTestNode(t)
	ctx := context.Background()

	_, err := node.BufferParams(ctx)
	assert.ErrorIs(t, err, engine.ErrNoFormat)

	require.NoError(t, node.SetProps(&Props{MinLatency: 512, MaxLatency: 1024}))
	require.NoError(t, node.SetFormat(ctx, &engine.AudioFormat{Rate: 44100, Channels: 2}))

	params, err := node.BufferParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, BufferParams{
		Size:       512 * 4,
		MaxSize:    limits.MaxLatency,
		Buffers:    2,
		MinBuffers: 2,
		MaxBuffers: 32,
		Align:      16,
	}, params)

	require.NoError(t, node.SetFormat(ctx, nil))
	_, err = node.BufferParams(ctx)
	assert.ErrorIs(t, err, engine.ErrNoFormat)
}

func TestSendCommand(t *testing.T) {
	node, tr, _, _ := newTestNode(t)
	ctx := context.Background()

	err := node.SendCommand(ctx, CommandStart)
	assert.ErrorIs(t, err, engine.ErrNoFormat)

	require.NoError(t, node.SetFormat(ctx, &engine.AudioFormat{Rate: 44100, Channels: 2}))
	err = node.SendCommand(ctx, CommandStart)
	assert.ErrorIs(t, err, engine.ErrNoBuffers)

	bufs := []*engine.Buffer{{Data: make([]byte, 4096)}, {Data: make([]byte, 4096)}}
	require.NoError(t, node.UseBuffers(ctx, bufs))
	require.NoError(t, node.SendCommand(ctx, CommandStart))
	require.NoError(t, node.SendCommand(ctx, CommandPause))
	require.NoError(t, node.SendCommand(ctx, CommandPause))

	acquired, released := tr.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)

	err = node.SendCommand(ctx, Command(9))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestSetBitpoolRequiresStarted(t *testing.T) {
	node, _, _, _ := newTestNode(t)
	_, err := node.SetBitpool(context.Background(), 32)
	assert.ErrorIs(t, err, engine.ErrNotStarted)
}

func TestNodeStreamsOnRunningLoop(t *testing.T) {
	node, tr, sock, producer := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, node.Run(ctx))

	formats, err := node.EnumFormats()
	require.NoError(t, err)
	require.NoError(t, node.SetFormat(ctx, &formats[0]))

	params, err := node.BufferParams(ctx)
	require.NoError(t, err)
	bufs := make([]*engine.Buffer, params.Buffers)
	for i := range bufs {
		bufs[i] = &engine.Buffer{Data: make([]byte, params.Size)}
	}
	require.NoError(t, node.UseBuffers(ctx, bufs))
	require.NoError(t, node.SendCommand(ctx, CommandStart))

	bufs[0].Chunk = engine.Chunk{Size: params.Size}
	require.NoError(t, node.Push(ctx, 0))

	assert.Eventually(t, func() bool {
		return sock.datagrams() >= limits.FillFrames
	}, 2*time.Second, 10*time.Millisecond)

	stats, err := node.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateStarted, stats.State)
	assert.Equal(t, "node-test", node.StreamID())

	require.NoError(t, node.Close())
	_, released := tr.counts()
	assert.Equal(t, 1, released)
	assert.Equal(t, []uint32{0}, producer.reusedIDs())
}
