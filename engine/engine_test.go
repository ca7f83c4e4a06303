package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/a2dpsink/limits"
	pionrtp "github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDatagram(t *testing.T, datagram []byte) *pionrtp.Packet {
	t.Helper()
	pkt := &pionrtp.Packet{}
	require.NoError(t, pkt.Unmarshal(datagram))
	return pkt
}

func TestNewRequiresCollaborators(t *testing.T) {
	tr := newFakeTransport(hqConfig())
	_, err := New(nil, &recordingProducer{}, &fakeScheduler{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(tr, nil, &fakeScheduler{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(tr, &recordingProducer{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	eng, err := New(tr, &recordingProducer{}, &fakeScheduler{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, eng.StreamID())
	assert.Nil(t, eng.Adapter())
}

func TestStartPreconditions(t *testing.T) {
	tr := newFakeTransport(hqConfig())
	sock := &fakeSocket{}
	eng, err := New(tr, &recordingProducer{}, &fakeScheduler{}, &Options{SocketFactory: sock.factory()})
	require.NoError(t, err)

	err = eng.Start()
	assert.ErrorIs(t, err, ErrNoFormat)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, eng.SetFormat(&stereo48k, 1024))
	err = eng.Start()
	assert.ErrorIs(t, err, ErrNoBuffers)

	require.NoError(t, eng.UseBuffers([]*Buffer{{Data: make([]byte, 64)}, {Data: make([]byte, 64)}}))
	tr.acquireErr = errors.New("not connected")
	err = eng.Start()
	assert.ErrorIs(t, err, ErrAcquireFailed)
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, eng.Started())

	tr.acquireErr = nil
	require.NoError(t, eng.Start())
	assert.True(t, eng.Started())
	require.NoError(t, eng.Start(), "start is idempotent")

	acquired, _ := tr.counts()
	assert.Equal(t, 1, acquired)
}

func TestStartRejectsMismatchedFormat(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.SetFormat(&AudioFormat{Rate: 44100, Channels: 2}, 1024))
	require.NoError(t, h.eng.UseBuffers(h.buffers))

	err := h.eng.Start()
	assert.ErrorIs(t, err, ErrConfig)
	assert.False(t, h.eng.Started())

	acquired, released := h.tr.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
}

func TestStartRejectsUndecodableConfiguration(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	h.tr.config = []byte{0x01}

	err := h.eng.Start()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestStartTunesSocket(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())

	assert.Equal(t, 3*672, h.sock.sndbuf)
	assert.Equal(t, 3*672, h.sock.rcvbuf)
	assert.Equal(t, 6, h.sock.priority)
	assert.Equal(t, watchCall{fd: 42, enabled: true}, h.sched.lastWatch())

	stats := h.eng.Stats()
	assert.Equal(t, StateStarted, stats.State)
	assert.Equal(t, 51, stats.Bitpool)
	assert.Equal(t, 512, stats.CodeSize)
	assert.Equal(t, 115, stats.FrameLength)
	assert.Equal(t, 635, stats.WriteSize)
	assert.Equal(t, 640, stats.WriteSamples)
}

func TestSetFormatAndBuffersWhileStarted(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())

	assert.ErrorIs(t, h.eng.SetFormat(&stereo48k, 1024), ErrStarted)
	assert.ErrorIs(t, h.eng.UseBuffers(h.buffers), ErrStarted)
}

func TestSetFormatValidation(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)

	assert.ErrorIs(t, h.eng.SetFormat(&AudioFormat{Rate: 0, Channels: 2}, 1024), ErrInvalidFormat)
	assert.ErrorIs(t, h.eng.SetFormat(&AudioFormat{Rate: 48000, Channels: 3}, 1024), ErrInvalidArgument)
	assert.ErrorIs(t, h.eng.SetFormat(&stereo48k, 0), ErrInvalidArgument)
	assert.ErrorIs(t, h.eng.SetFormat(&stereo48k, 0), limits.ErrOutOfRange)

	require.NoError(t, h.eng.SetFormat(nil, 0))
	_, ok := h.eng.Format()
	assert.False(t, ok)
	assert.ErrorIs(t, h.eng.Start(), ErrNoFormat)
	assert.ErrorIs(t, h.eng.UseBuffers(h.buffers), ErrNoFormat)
}

func TestPushRequiresStarted(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	h.fill(0, 4096)
	assert.ErrorIs(t, h.eng.Push(0), ErrNotStarted)
}

func TestPushRejectsBufferNotOutstanding(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)

	require.NoError(t, h.eng.Push(0))
	err := h.eng.Push(0)
	assert.ErrorIs(t, err, ErrBufferNotOutstanding)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.ErrorIs(t, h.eng.Push(7), ErrUnknownBuffer)
}

func TestPushEmptyChunkIsReturned(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())

	require.NoError(t, h.eng.Push(1))
	assert.Equal(t, []uint32{1}, h.producer.reusedIDs())
	state, err := h.eng.BufferState(1)
	require.NoError(t, err)
	assert.Equal(t, BufferOutstanding, state)
}

// TestStreamScenario48kStereo pushes 1024 frames of 48 kHz stereo over a
// 672-byte MTU and follows the datagrams through priming and pacing.
func TestStreamScenario48kStereo(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)

	require.NoError(t, h.eng.Push(0))

	// Priming: three full datagrams of silence.
	datagrams := h.sock.datagrams()
	require.Len(t, datagrams, 3)
	for i, d := range datagrams {
		pkt := parseDatagram(t, d)
		assert.Equal(t, uint8(2), pkt.Version)
		assert.Equal(t, uint8(1), pkt.PayloadType)
		assert.Equal(t, uint32(1), pkt.SSRC)
		assert.Equal(t, uint16(i), pkt.SequenceNumber)
		assert.Equal(t, uint32(i*640), pkt.Timestamp)
		assert.Len(t, d, 13+5*115)
		assert.Equal(t, byte(5), pkt.Payload[0])
		assert.Equal(t, byte(0x9c), pkt.Payload[1])
	}

	// The first real datagram is built but held until the primed audio plays out.
	require.True(t, h.sched.armed)
	assert.Equal(t, time.Second+40*time.Millisecond, h.sched.deadline)
	assert.Empty(t, h.producer.reusedIDs())

	h.fireTimer(t)
	datagrams = h.sock.datagrams()
	require.Len(t, datagrams, 4)
	pkt := parseDatagram(t, datagrams[3])
	assert.Equal(t, uint16(3), pkt.SequenceNumber)
	assert.Equal(t, uint32(1920), pkt.Timestamp)
	assert.GreaterOrEqual(t, pkt.Payload[0], byte(1))

	// The rest of the buffer drains on the next tick and is handed back once.
	h.fireTimer(t)
	assert.Equal(t, []uint32{0}, h.producer.reusedIDs())
	require.Equal(t, 1, h.producer.pullCount())
	assert.Equal(t, PullRequest{Offset: 2944 * 4, MinSize: 1024 * 4, MaxSize: 640 * 4}, h.producer.pulls[0])

	stats := h.eng.Stats()
	assert.Equal(t, uint64(4), stats.Datagrams)
	assert.Equal(t, uint64(2944), stats.SampleCount)
	assert.Equal(t, uint64(2560), stats.Timestamp)
	assert.Equal(t, uint64(1), stats.BuffersReused)
	assert.True(t, stats.Healthy)
	assert.Equal(t, watchCall{fd: 42, enabled: false}, h.sched.lastWatch())
}

func TestWouldBlockKeepsPayload(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)
	require.NoError(t, h.eng.Push(0))
	require.Len(t, h.sock.datagrams(), 3)

	h.sock.setBlock(2)
	h.fireTimer(t)
	require.Len(t, h.sock.datagrams(), 3)
	assert.Equal(t, watchCall{fd: 42, enabled: true}, h.sched.lastWatch())
	require.True(t, h.sched.armed)

	// A writable socket before the deferred deadline does not send early.
	attempts := len(h.sock.attempts)
	h.eng.OnWritable()
	assert.Len(t, h.sock.attempts, attempts)

	h.fireTimer(t)
	require.Len(t, h.sock.datagrams(), 3, "second attempt blocks as well")

	h.fireTimer(t)
	datagrams := h.sock.datagrams()
	require.Len(t, datagrams, 4)

	blocked := h.sock.attempts[3]
	assert.Equal(t, blocked, datagrams[3])
	pkt := parseDatagram(t, datagrams[3])
	assert.Equal(t, uint16(3), pkt.SequenceNumber)
	assert.Equal(t, byte(5), pkt.Payload[0])

	stats := h.eng.Stats()
	assert.Equal(t, uint64(2), stats.WouldBlocks)
	assert.Equal(t, uint64(0), stats.TransportErrors)
}

func TestFrameCountBeyondPayloadHeader(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	h := newHarness(t, nil, 2, 4096)
	h.tr.writeMTU = 2048
	require.NoError(t, h.eng.Start())
	assert.Equal(t, 17, h.eng.Stats().FramesPerDatagram)

	warned := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["function"] == "checkFrameCount" {
			warned++
		}
	}
	assert.Equal(t, 1, warned)

	capped := newHarness(t, &Options{MaxFrameCount: limits.PayloadFrameCountMax}, 2, 4096)
	capped.tr.writeMTU = 2048
	require.NoError(t, capped.eng.Start())
	assert.Equal(t, 15, capped.eng.Stats().FramesPerDatagram)
}

func TestWouldBlockBeforePrimingRecovers(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)

	// Both the silence fill and the first datagram are refused.
	h.sock.setBlock(2)
	require.NoError(t, h.eng.Push(0))
	require.Empty(t, h.sock.datagrams())
	assert.True(t, h.eng.pacing.Primed)
	assert.Equal(t, watchCall{fd: 42, enabled: true}, h.sched.lastWatch())

	for i := 0; i < 10 && len(h.sock.datagrams()) == 0; i++ {
		h.eng.OnWritable()
		h.fireTimer(t)
	}

	datagrams := h.sock.datagrams()
	require.NotEmpty(t, datagrams)
	pkt := parseDatagram(t, datagrams[0])
	assert.Equal(t, uint16(0), pkt.SequenceNumber)
	assert.Equal(t, uint32(0), pkt.Timestamp)

	assert.Equal(t, uint64(2), h.eng.Stats().WouldBlocks)
	assert.Equal(t, uint64(0), h.eng.pacing.Backoff)
}

func TestFrameCeilingForcesFlush(t *testing.T) {
	h := newHarness(t, &Options{MaxFrameCount: 2}, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)
	require.NoError(t, h.eng.Push(0))

	for i := 0; i < 3; i++ {
		h.fireTimer(t)
	}

	datagrams := h.sock.datagrams()
	require.GreaterOrEqual(t, len(datagrams), 5)
	for _, d := range datagrams {
		pkt := parseDatagram(t, d)
		assert.Equal(t, byte(2), pkt.Payload[0])
		assert.Len(t, d, 13+2*115)
	}
}

func TestSequenceAndTimestampProgression(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	var pending []uint32
	pushes := 0

	h.producer.onPull = func(p Pusher, req PullRequest) {
		if len(pending) == 0 {
			return
		}
		id := pending[0]
		pending = pending[1:]
		h.fill(id, 4096)
		require.NoError(t, p.Push(id))
		pushes++
	}
	h.producer.onReuse = func(id uint32) {
		pending = append(pending, id)
	}

	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)
	require.NoError(t, h.eng.Push(0))
	h.fill(1, 4096)
	require.NoError(t, h.eng.Push(1))
	pushes += 2

	for i := 0; i < 50; i++ {
		h.fireTimer(t)
	}

	datagrams := h.sock.datagrams()
	require.Greater(t, len(datagrams), 40)
	var prevSeq uint16
	var prevTS uint32
	for i, d := range datagrams {
		pkt := parseDatagram(t, d)
		if i > 0 {
			assert.Equal(t, prevSeq+1, pkt.SequenceNumber)
			assert.GreaterOrEqual(t, pkt.Timestamp, prevTS)
		}
		prevSeq = pkt.SequenceNumber
		prevTS = pkt.Timestamp
	}

	ready := 0
	for id := range h.buffers {
		state, err := h.eng.BufferState(uint32(id))
		require.NoError(t, err)
		if state == BufferReady {
			ready++
		}
	}
	assert.Equal(t, pushes-ready, len(h.producer.reusedIDs()))
	assert.Equal(t, uint64(0), h.eng.Stats().Underruns)
}

func TestReentrantPushFromNeedInput(t *testing.T) {
	h := newHarness(t, nil, 2, 1024)
	h.producer.onPull = func(p Pusher, req PullRequest) {
		if len(h.producer.reusedIDs()) == 1 {
			h.fill(1, 1024)
			require.NoError(t, p.Push(1))
		}
	}

	require.NoError(t, h.eng.Start())
	h.fill(0, 1024)
	require.NoError(t, h.eng.Push(0))

	assert.Equal(t, []uint32{0, 1}, h.producer.reusedIDs())
	assert.Equal(t, uint64(1920+4*128), h.eng.Stats().SampleCount)
}

// TestOddChunkSizesAreStitched uses chunks that are not a multiple of the codec unit.
func TestOddChunkSizesAreStitched(t *testing.T) {
	h := newHarness(t, nil, 2, 1000)
	require.NoError(t, h.eng.Start())

	h.fill(0, 1000)
	require.NoError(t, h.eng.Push(0))
	assert.Empty(t, h.producer.reusedIDs())
	assert.Equal(t, 1, h.producer.pullCount(), "a short remainder asks for more input")

	h.fill(1, 1000)
	require.NoError(t, h.eng.Push(1))
	assert.Equal(t, []uint32{0}, h.producer.reusedIDs())
	assert.Equal(t, 464, h.eng.pool.Available())
	assert.Equal(t, uint64(1920+3*128), h.eng.Stats().SampleCount)
}

func TestStopIsIdempotentAndRestartReprimes(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)
	require.NoError(t, h.eng.Push(0))
	require.Len(t, h.sock.datagrams(), 3)

	require.NoError(t, h.eng.Stop())
	assert.False(t, h.sched.armed)
	assert.Equal(t, -1, h.sched.lastWatch().fd)
	assert.Equal(t, []uint32{0}, h.producer.reusedIDs(), "queued buffers are handed back")

	require.NoError(t, h.eng.Stop())
	_, released := h.tr.counts()
	assert.Equal(t, 1, released)
	assert.Equal(t, []uint32{0}, h.producer.reusedIDs())

	require.NoError(t, h.eng.Start())
	require.NoError(t, h.eng.Push(0))
	datagrams := h.sock.datagrams()
	require.Len(t, datagrams, 6)
	pkt := parseDatagram(t, datagrams[3])
	assert.Equal(t, uint16(3), pkt.SequenceNumber, "sequence numbers continue")
	assert.Equal(t, uint32(0), pkt.Timestamp)

	acquired, _ := h.tr.counts()
	assert.Equal(t, 2, acquired)
}

func TestStopFromReuseBuffer(t *testing.T) {
	h := newHarness(t, nil, 2, 1024)
	h.producer.onReuse = func(id uint32) {
		require.NoError(t, h.eng.Stop())
	}

	require.NoError(t, h.eng.Start())
	h.fill(0, 1024)
	require.NoError(t, h.eng.Push(0))

	assert.Equal(t, []uint32{0}, h.producer.reusedIDs())
	assert.Equal(t, 0, h.producer.pullCount(), "a stopped engine does not ask for input")
	assert.False(t, h.eng.Started())
	assert.False(t, h.sched.armed)
}

func TestStopFromNeedInput(t *testing.T) {
	h := newHarness(t, nil, 2, 1024)
	h.producer.onPull = func(p Pusher, req PullRequest) {
		require.NoError(t, h.eng.Stop())
	}

	require.NoError(t, h.eng.Start())
	h.fill(0, 1024)
	require.NoError(t, h.eng.Push(0))

	assert.False(t, h.eng.Started())
	assert.False(t, h.sched.armed)
	assert.Equal(t, []uint32{0}, h.producer.reusedIDs())
}

func TestTransportErrorMarksUnhealthy(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)
	require.NoError(t, h.eng.Push(0))

	h.sock.setFail(errBrokenPipe)
	h.fireTimer(t)

	stats := h.eng.Stats()
	assert.False(t, stats.Healthy)
	assert.Equal(t, uint64(1), stats.TransportErrors)
	assert.True(t, h.sched.armed, "the timer is re-armed after a failed write")
	assert.Equal(t, h.clock.Now()+SamplesDuration(640, 48000), h.sched.deadline)

	// A dead socket is retried once per datagram period, not in a busy loop.
	for i := 0; i < 5; i++ {
		before := h.clock.Now()
		h.fireTimer(t)
		assert.Greater(t, h.sched.deadline, h.clock.Now())
		assert.Greater(t, h.clock.Now(), before)
	}
	assert.Equal(t, uint64(6), h.eng.Stats().TransportErrors)

	h.sock.setFail(nil)
	h.fireTimer(t)
	stats = h.eng.Stats()
	assert.True(t, stats.Healthy)
	assert.Equal(t, uint64(4), stats.Datagrams)
}

func TestUnderrunAccounting(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	require.NoError(t, h.eng.Start())
	h.fill(0, 4096)
	require.NoError(t, h.eng.Push(0))

	h.clock.Advance(2 * time.Second)
	h.eng.OnTimer()

	stats := h.eng.Stats()
	assert.Equal(t, uint64(1), stats.Underruns)
	assert.Equal(t, int64(96000-2560), stats.UnderrunDeficit)
	assert.Less(t, stats.Filled, int64(0))
	assert.True(t, h.eng.underrunWarned)
}

func TestBitpoolClamping(t *testing.T) {
	h := newHarness(t, nil, 2, 4096)
	_, err := h.eng.SetBitpool(30)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, h.eng.Start())

	tests := []struct {
		name string
		in   int
		want int
	}{
		{"below range", 5, 16},
		{"negative", -100, 16},
		{"above range", 100, 51},
		{"in range", 32, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.eng.SetBitpool(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, h.eng.Stats().Bitpool)
		})
	}

	_, err = h.eng.SetBitpool(16)
	require.NoError(t, err)
	got, err := h.eng.ReduceBitpool()
	require.NoError(t, err)
	assert.Equal(t, 16, got)

	got, err = h.eng.IncreaseBitpool()
	require.NoError(t, err)
	assert.Equal(t, 17, got)

	stats := h.eng.Stats()
	assert.Equal(t, 12+(8+16*17+7)/8, stats.FrameLength)
}

func TestWouldBlockReducesBitpoolWhenAdapting(t *testing.T) {
	h := newHarness(t, &Options{Adaptation: DefaultAdaptationConfig()}, 2, 4096)
	require.NoError(t, h.eng.Start())
	require.NotNil(t, h.eng.Adapter())
	h.fill(0, 4096)
	require.NoError(t, h.eng.Push(0))

	h.sock.setBlock(1)
	h.fireTimer(t)

	assert.Equal(t, 50, h.eng.Stats().Bitpool)
	assert.Equal(t, LinkCongested, h.eng.Adapter().Quality())
}

func TestCalcTimeout(t *testing.T) {
	now := 5 * time.Second
	tests := []struct {
		name    string
		target  uint64
		current uint64
		rate    uint32
		want    time.Duration
	}{
		{"due", 100, 100, 48000, now},
		{"overdue", 100, 200, 48000, now},
		{"one second", 48000, 0, 48000, now + time.Second},
		{"fractional", 640, 0, 48000, now + 13333334*time.Nanosecond},
		{"multi second", 44100*3 + 441, 0, 44100, now + 3*time.Second + 10*time.Millisecond},
		{"zero rate", 10, 0, 0, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalcTimeout(tt.target, tt.current, tt.rate, now))
		})
	}
}

// TestDeadlineReachesTarget checks that waking at a computed deadline always
// observes the target, so no cycle wakes one sample early.
func TestDeadlineReachesTarget(t *testing.T) {
	p := PacingState{Primed: true, StartTime: 3 * time.Second}
	for _, rate := range []uint32{16000, 32000, 44100, 48000} {
		for samples := uint64(1); samples < 5000; samples += 37 {
			deadline := CalcTimeout(samples, 0, rate, p.StartTime)
			assert.GreaterOrEqual(t, p.ElapsedSamples(deadline, rate), samples)
		}
	}
}

func TestElapsedSamples(t *testing.T) {
	p := PacingState{}
	assert.Equal(t, uint64(0), p.ElapsedSamples(time.Hour, 48000), "not primed")

	p = PacingState{Primed: true, StartTime: 10 * time.Second}
	assert.Equal(t, uint64(0), p.ElapsedSamples(9*time.Second, 48000))
	assert.Equal(t, uint64(48000), p.ElapsedSamples(11*time.Second, 48000))
	assert.Equal(t, uint64(48000*3600), p.ElapsedSamples(10*time.Second+time.Hour, 48000))
}
