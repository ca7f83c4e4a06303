package engine

import (
	"errors"
	"time"

	"github.com/opd-ai/a2dpsink/transport"
	"github.com/sirupsen/logrus"
)

// PacingState relates encoded samples to wall-clock time.
//
// SampleCount counts every PCM frame encoded since start and never decreases
// except when priming discards its partial datagram. Timestamp is the sample
// position up to which audio has been declared sent, so Timestamp <= SampleCount.
// Backoff delays the next write after the socket reported would-block.
type PacingState struct {
	Primed       bool
	StartTime    time.Duration
	SampleCount  uint64
	SampleQueued uint64
	SampleTime   uint64
	Timestamp    uint64
	Backoff      uint64
}

// ElapsedSamples converts the time since StartTime into samples at rate.
// It is 0 before the link is primed or while StartTime lies in the future.
func (p *PacingState) ElapsedSamples(now time.Duration, rate uint32) uint64 {
	if !p.Primed || now <= p.StartTime {
		return 0
	}
	ns := uint64(now - p.StartTime)
	sec := ns / uint64(time.Second)
	rem := ns % uint64(time.Second)
	return sec*uint64(rate) + rem*uint64(rate)/uint64(time.Second)
}

// Target returns the sample position at which the next datagram is due.
func (p *PacingState) Target() uint64 {
	return p.Timestamp + p.Backoff
}

// CalcTimeout returns the clock time at which current reaches target when
// samples advance at rate per second. It returns now when target <= current.
func CalcTimeout(target, current uint64, rate uint32, now time.Duration) time.Duration {
	if target <= current || rate == 0 {
		return now
	}
	return now + SamplesDuration(target-current, rate)
}

// SamplesDuration converts a sample count at rate into a duration without
// intermediate overflow. The result is rounded up to the next nanosecond so
// that ElapsedSamples at the returned offset reaches samples.
func SamplesDuration(samples uint64, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	r := uint64(rate)
	sec := samples / r
	rem := samples % r
	return time.Duration(sec)*time.Second + time.Duration((rem*uint64(time.Second)+r-1)/r)
}

// cycle is one pacing pass: prime the link if needed, drain the ready queue
// through the encoder and either write the full datagram when it is due or
// arm the timer for when it will be.
func (e *Engine) cycle(source string) {
	if !e.started || e.busy {
		return
	}
	e.busy = true
	defer func() { e.busy = false }()

	now := e.opts.Clock.Now()
	rate := e.format.Rate

	if !e.pacing.Primed && e.enc.FrameCount() == 0 {
		if err := e.fillSocket(now); err != nil {
			e.log.WithFields(logrus.Fields{
				"function": "cycle",
				"error":    err.Error(),
			}).Error("Failed to prime media socket")
		}
	}

	elapsed := e.pacing.ElapsedSamples(now, rate)
	e.trackBacklog(elapsed)

	e.log.WithFields(logrus.Fields{
		"function":    "cycle",
		"source":      source,
		"filled":      e.stats.Filled,
		"sample_time": e.pacing.SampleTime,
		"elapsed":     elapsed,
		"now":         now,
	}).Trace("Pacing cycle")

	e.maybePull()

	for {
		e.drain()
		if !e.started {
			return
		}

		if e.enc.NeedsFlush() {
			e.flushWhenDue(now, elapsed)
			return
		}
		if e.pool.Empty() || !e.dry() {
			break
		}

		// A remainder shorter than one codec unit needs the next buffer.
		available := e.pool.Available()
		e.maybePull()
		if e.pool.Available() == available {
			break
		}
	}

	e.sched.WatchWritable(e.sock.FD(), false)
}

// flushWhenDue writes the full datagram once its audio is due and re-arms the timer.
func (e *Engine) flushWhenDue(now time.Duration, elapsed uint64) {
	rate := e.format.Rate

	retry := false
	if e.pacing.Target() <= elapsed {
		_, err := e.tx.Flush(true)
		switch {
		case err == nil:
			if !e.pacing.Primed {
				e.pacing.Primed = true
				e.pacing.StartTime = now
			}
			e.healthy = true
			e.adaptOnSent(now)
		case errors.Is(err, transport.ErrWouldBlock):
			// An unprimed link starts its clock here so the backoff can expire.
			if !e.pacing.Primed {
				e.pacing.Primed = true
				e.pacing.StartTime = now
			}
			e.pacing.Backoff += 2 * uint64(e.enc.writeSamples)
			e.pacing.StartTime += SamplesDuration(uint64(e.enc.writeSamples), rate)
			elapsed = e.pacing.ElapsedSamples(now, rate)
			e.sched.WatchWritable(e.sock.FD(), true)
			e.adaptOnWouldBlock(now)
		default:
			if e.healthy {
				e.log.WithFields(logrus.Fields{
					"function": "flushWhenDue",
					"error":    err.Error(),
				}).Error("Transport write failed")
			}
			e.healthy = false
			retry = true
		}
	}

	deadline := CalcTimeout(e.pacing.Target(), elapsed, rate, now)
	if retry {
		// The datagram is still due; retry after one datagram period.
		deadline = now + SamplesDuration(uint64(e.enc.writeSamples), rate)
	}
	e.sched.ArmTimer(deadline)

	e.log.WithFields(logrus.Fields{
		"function": "flushWhenDue",
		"target":   e.pacing.Target(),
		"elapsed":  elapsed,
		"deadline": deadline,
	}).Trace("Timer armed")
}

// fillSocket primes the link with silence so the transport queue does not
// start empty. StartTime is set at the first successful write.
func (e *Engine) fillSocket(now time.Duration) error {
	sent := 0
	var fillErr error

	for sent < e.opts.FillFrames {
		n, err := e.enc.Encode(e.silence)
		if err != nil && !errors.Is(err, ErrEncoderOverflow) {
			fillErr = err
			break
		}
		if n == 0 && err == nil {
			break
		}

		written, err := e.tx.Flush(errors.Is(err, ErrEncoderOverflow))
		if errors.Is(err, transport.ErrWouldBlock) {
			break
		}
		if err != nil {
			fillErr = err
			break
		}
		if written > 0 {
			if sent == 0 {
				e.pacing.Primed = true
				e.pacing.StartTime = now
			}
			sent++
		}
	}

	e.enc.Reset()
	e.pacing.SampleCount = e.pacing.Timestamp

	e.log.WithFields(logrus.Fields{
		"function":  "fillSocket",
		"datagrams": sent,
		"primed":    e.pacing.Primed,
	}).Debug("Link primed with silence")

	return fillErr
}

// trackBacklog records the encoded-but-unplayed samples and underruns.
func (e *Engine) trackBacklog(elapsed uint64) {
	filled := int64(e.pacing.SampleCount) - int64(elapsed)
	e.stats.Filled = filled
	e.observer.Backlog(filled)

	if !e.pacing.Primed {
		return
	}

	// Lagging by up to one datagram is timer latency, not an underrun.
	if filled >= -int64(e.enc.writeSamples) {
		if e.underrunning {
			e.log.WithFields(logrus.Fields{
				"function": "trackBacklog",
				"deficit":  e.stats.UnderrunDeficit,
				"filled":   filled,
			}).Info("Recovered from underrun")
			e.underrunning = false
			e.underrunWarned = false
		}
		return
	}

	deficit := -filled
	e.stats.Underruns++
	e.stats.UnderrunDeficit = deficit
	e.observer.Underrun(deficit)
	e.underrunning = true
	e.adaptOnUnderrun(e.opts.Clock.Now())

	if !e.underrunWarned && deficit >= int64(e.format.Rate) {
		e.underrunWarned = true
		e.log.WithFields(logrus.Fields{
			"function": "trackBacklog",
			"deficit":  deficit,
		}).Warn("Transport underrun exceeds one second of audio")
	}
}
