package a2dpsink

import (
	"sync"

	"github.com/opd-ai/a2dpsink/a2dp"
	"github.com/opd-ai/a2dpsink/engine"
	"github.com/opd-ai/a2dpsink/sbc"
	"github.com/opd-ai/a2dpsink/transport"
)

type mockTransport struct {
	mu       sync.Mutex
	config   []byte
	acquired int
	released int
}

func (t *mockTransport) Acquire(optional bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acquired++
	return nil
}

func (t *mockTransport) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released++
	return nil
}

func (t *mockTransport) FD() int               { return 7 }
func (t *mockTransport) ReadMTU() int          { return 672 }
func (t *mockTransport) WriteMTU() int         { return 672 }
func (t *mockTransport) Configuration() []byte { return t.config }

func (t *mockTransport) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquired, t.released
}

type mockSocket struct {
	mu      sync.Mutex
	written int
}

func (s *mockSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written++
	return len(p), nil
}

func (s *mockSocket) FD() int                          { return 7 }
func (s *mockSocket) SetSendBuffer(bytes int) error    { return nil }
func (s *mockSocket) SendBuffer() (int, error)         { return 0, nil }
func (s *mockSocket) SetReceiveBuffer(bytes int) error { return nil }
func (s *mockSocket) SetPriority(priority int) error   { return nil }
func (s *mockSocket) OutQueue() (int, error)           { return 0, nil }

func (s *mockSocket) datagrams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

type mockNotifier struct {
	ready chan struct{}
}

func (n *mockNotifier) Arm() {
	select {
	case n.ready <- struct{}{}:
	default:
	}
}

func (n *mockNotifier) Ready() <-chan struct{} { return n.ready }
func (n *mockNotifier) Close() error           { return nil }

type mockProducer struct {
	mu     sync.Mutex
	reused []uint32
}

func (p *mockProducer) NeedInput(engine.Pusher, engine.PullRequest) {}

func (p *mockProducer) ReuseBuffer(port, id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reused = append(p.reused, id)
}

func (p *mockProducer) reusedIDs() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.reused...)
}

// stereo44k is 44.1 kHz joint stereo with 8 subbands and 16 blocks.
func stereo44k() []byte {
	cfg := sbc.Config{
		Frequency:  sbc.Frequency44100,
		Mode:       sbc.JointStereo,
		Subbands:   8,
		Blocks:     16,
		Allocation: sbc.Loudness,
		Bitpool:    53,
	}
	return a2dp.FromEncoderConfig(cfg, 2, 53).Bytes()
}

func testOptions(sock *mockSocket) *engine.Options {
	return &engine.Options{
		StreamID: "node-test",
		SocketFactory: func(fd int) (transport.Socket, error) {
			return sock, nil
		},
		NotifierFactory: func(fd int) (transport.WritableNotifier, error) {
			return &mockNotifier{ready: make(chan struct{}, 1)}, nil
		},
	}
}
