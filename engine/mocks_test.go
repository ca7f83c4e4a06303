package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/a2dpsink/a2dp"
	"github.com/opd-ai/a2dpsink/clock"
	"github.com/opd-ai/a2dpsink/sbc"
	"github.com/opd-ai/a2dpsink/transport"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// fakeSocket records datagrams and can be told to block or fail.
// ---------------------------------------------------------------------------

type fakeSocket struct {
	mu       sync.Mutex
	fd       int
	written  [][]byte
	attempts [][]byte
	block    int
	fail     error
	sndbuf   int
	rcvbuf   int
	priority int
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, append([]byte(nil), p...))
	if s.fail != nil {
		return 0, s.fail
	}
	if s.block > 0 {
		s.block--
		return 0, transport.ErrWouldBlock
	}
	s.written = append(s.written, append([]byte(nil), p...))
	return len(p), nil
}

func (s *fakeSocket) FD() int { return s.fd }

func (s *fakeSocket) SetSendBuffer(bytes int) error {
	s.sndbuf = bytes
	return nil
}

func (s *fakeSocket) SendBuffer() (int, error) { return s.sndbuf * 2, nil }

func (s *fakeSocket) SetReceiveBuffer(bytes int) error {
	s.rcvbuf = bytes
	return nil
}

func (s *fakeSocket) SetPriority(priority int) error {
	s.priority = priority
	return nil
}

func (s *fakeSocket) OutQueue() (int, error) { return 0, nil }

func (s *fakeSocket) datagrams() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

func (s *fakeSocket) setBlock(n int) {
	s.mu.Lock()
	s.block = n
	s.mu.Unlock()
}

func (s *fakeSocket) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *fakeSocket) factory() transport.SocketFactory {
	return func(fd int) (transport.Socket, error) {
		s.fd = fd
		return s, nil
	}
}

// ---------------------------------------------------------------------------
// fakeTransport hands out a fixed descriptor and configuration.
// ---------------------------------------------------------------------------

type fakeTransport struct {
	mu         sync.Mutex
	fd         int
	readMTU    int
	writeMTU   int
	config     []byte
	acquireErr error
	acquired   int
	released   int
}

func newFakeTransport(config []byte) *fakeTransport {
	return &fakeTransport{fd: 42, readMTU: 672, writeMTU: 672, config: config}
}

func (t *fakeTransport) Acquire(optional bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.acquireErr != nil {
		return t.acquireErr
	}
	t.acquired++
	return nil
}

func (t *fakeTransport) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released++
	return nil
}

func (t *fakeTransport) FD() int               { return t.fd }
func (t *fakeTransport) ReadMTU() int          { return t.readMTU }
func (t *fakeTransport) WriteMTU() int         { return t.writeMTU }
func (t *fakeTransport) Configuration() []byte { return t.config }

func (t *fakeTransport) counts() (acquired, released int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquired, t.released
}

// ---------------------------------------------------------------------------
// fakeScheduler records timer and writability requests; tests fire them.
// ---------------------------------------------------------------------------

type watchCall struct {
	fd      int
	enabled bool
}

type fakeScheduler struct {
	armed    bool
	deadline time.Duration
	arms     int
	watches  []watchCall
}

func (s *fakeScheduler) ArmTimer(deadline time.Duration) {
	s.armed = true
	s.deadline = deadline
	s.arms++
}

func (s *fakeScheduler) DisarmTimer() {
	s.armed = false
}

func (s *fakeScheduler) WatchWritable(fd int, enabled bool) {
	s.watches = append(s.watches, watchCall{fd: fd, enabled: enabled})
}

func (s *fakeScheduler) lastWatch() watchCall {
	if len(s.watches) == 0 {
		return watchCall{fd: -2}
	}
	return s.watches[len(s.watches)-1]
}

// ---------------------------------------------------------------------------
// recordingProducer records pull requests and reused buffers.
// ---------------------------------------------------------------------------

type recordingProducer struct {
	mu      sync.Mutex
	pulls   []PullRequest
	reused  []uint32
	onPull  func(p Pusher, req PullRequest)
	onReuse func(id uint32)
}

func (r *recordingProducer) NeedInput(p Pusher, req PullRequest) {
	r.mu.Lock()
	r.pulls = append(r.pulls, req)
	onPull := r.onPull
	r.mu.Unlock()

	if onPull != nil {
		onPull(p, req)
	}
}

func (r *recordingProducer) ReuseBuffer(port, id uint32) {
	r.mu.Lock()
	r.reused = append(r.reused, id)
	onReuse := r.onReuse
	r.mu.Unlock()

	if onReuse != nil {
		onReuse(id)
	}
}

func (r *recordingProducer) reusedIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.reused...)
}

func (r *recordingProducer) pullCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pulls)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// hqConfig is 48 kHz joint stereo, 8 subbands, 16 blocks, loudness, bitpool 51:
// 512-byte codec units, 115-byte frames, 5 frames per 672-byte MTU datagram.
func hqConfig() []byte {
	cfg := sbc.Config{
		Frequency:  sbc.Frequency48000,
		Mode:       sbc.JointStereo,
		Subbands:   8,
		Blocks:     16,
		Allocation: sbc.Loudness,
		Bitpool:    51,
	}
	return a2dp.FromEncoderConfig(cfg, 2, 51).Bytes()
}

var stereo48k = AudioFormat{Rate: 48000, Channels: 2}

type harness struct {
	eng      *Engine
	tr       *fakeTransport
	sock     *fakeSocket
	sched    *fakeScheduler
	producer *recordingProducer
	clock    *clock.Manual
	buffers  []*Buffer
}

// newHarness builds a stopped engine with a format and n buffers of size bytes.
func newHarness(t *testing.T, opts *Options, n, size int) *harness {
	t.Helper()

	h := &harness{
		tr:       newFakeTransport(hqConfig()),
		sock:     &fakeSocket{},
		sched:    &fakeScheduler{},
		producer: &recordingProducer{},
		clock:    clock.NewManual(time.Second),
	}
	if opts == nil {
		opts = &Options{}
	}
	opts.Clock = h.clock
	opts.SocketFactory = h.sock.factory()
	opts.StreamID = "test"

	eng, err := New(h.tr, h.producer, h.sched, opts)
	require.NoError(t, err)
	h.eng = eng

	require.NoError(t, eng.SetFormat(&stereo48k, 1024))
	for i := 0; i < n; i++ {
		h.buffers = append(h.buffers, &Buffer{Data: make([]byte, size)})
	}
	require.NoError(t, eng.UseBuffers(h.buffers))
	return h
}

// fill marks size bytes of buffer id as valid, filled with a ramp.
func (h *harness) fill(id uint32, size int) {
	b := h.buffers[id]
	for i := range b.Data {
		b.Data[i] = byte(i * 7)
	}
	b.Chunk = Chunk{Offset: 0, Size: size}
}

// fireTimer advances the clock to the armed deadline and runs the timer.
func (h *harness) fireTimer(t *testing.T) {
	t.Helper()
	require.True(t, h.sched.armed, "timer not armed")
	h.sched.armed = false
	h.clock.Set(h.sched.deadline)
	h.eng.OnTimer()
}

var errBrokenPipe = errors.New("broken pipe")
