package engine

import (
	"time"

	"github.com/sirupsen/logrus"
)

// LinkQuality is the adapter's view of the media link.
type LinkQuality int

const (
	// LinkClear means datagrams are accepted without backpressure.
	LinkClear LinkQuality = iota
	// LinkStarved means the encoder fell behind playback.
	LinkStarved
	// LinkCongested means the socket send queue filled up.
	LinkCongested
)

// String returns a human-readable link quality.
func (q LinkQuality) String() string {
	switch q {
	case LinkClear:
		return "clear"
	case LinkStarved:
		return "starved"
	case LinkCongested:
		return "congested"
	default:
		return "unknown"
	}
}

// Adjustment is a bitpool change requested by the adapter.
type Adjustment int

const (
	AdjustNone Adjustment = iota
	AdjustReduce
	AdjustIncrease
)

// AdaptationConfig defines bitpool adaptation parameters.
type AdaptationConfig struct {
	// AdaptationWindow is the minimum time between two bitpool changes (default: 1s).
	AdaptationWindow time.Duration

	// BackoffDuration is how long to wait after a reduction before increasing (default: 5s).
	BackoffDuration time.Duration

	// ReduceOnUnderrun also reduces the bitpool when the encoder falls behind.
	ReduceOnUnderrun bool
}

// DefaultAdaptationConfig returns conservative adaptation defaults.
func DefaultAdaptationConfig() *AdaptationConfig {
	return &AdaptationConfig{
		AdaptationWindow: time.Second,
		BackoffDuration:  5 * time.Second,
		ReduceOnUnderrun: false,
	}
}

// BitpoolAdapter steps the bitpool down when the link pushes back and
// slowly back up once it has been clear for a backoff period: additive
// decrease on congestion, additive increase on a quiet link.
//
// It runs on the engine goroutine and is not safe for concurrent use.
type BitpoolAdapter struct {
	config *AdaptationConfig

	quality         LinkQuality
	haveAdaptation  bool
	lastAdaptation  time.Duration
	haveDecrease    bool
	lastDecrease    time.Duration
	adaptationCount uint64

	qualityCb func(LinkQuality)
}

// NewBitpoolAdapter creates an adapter. A nil config uses DefaultAdaptationConfig().
func NewBitpoolAdapter(config *AdaptationConfig) *BitpoolAdapter {
	if config == nil {
		config = DefaultAdaptationConfig()
	}

	logrus.WithFields(logrus.Fields{
		"function":          "NewBitpoolAdapter",
		"adaptation_window": config.AdaptationWindow,
		"backoff_duration":  config.BackoffDuration,
	}).Debug("Creating bitpool adapter")

	return &BitpoolAdapter{config: config, quality: LinkClear}
}

// SetQualityCallback registers a callback for link quality changes.
// It is called synchronously on the engine goroutine.
func (a *BitpoolAdapter) SetQualityCallback(cb func(LinkQuality)) {
	a.qualityCb = cb
}

// Quality returns the current link assessment.
func (a *BitpoolAdapter) Quality() LinkQuality {
	return a.quality
}

// AdaptationCount returns how many bitpool changes were requested.
func (a *BitpoolAdapter) AdaptationCount() uint64 {
	return a.adaptationCount
}

// OnWouldBlock records a write rejected by a full send queue.
func (a *BitpoolAdapter) OnWouldBlock(now time.Duration) Adjustment {
	a.setQuality(LinkCongested)
	return a.reduce(now)
}

// OnUnderrun records a cycle where playback overtook the encoder.
func (a *BitpoolAdapter) OnUnderrun(now time.Duration) Adjustment {
	if a.quality == LinkClear {
		a.setQuality(LinkStarved)
	}
	if !a.config.ReduceOnUnderrun {
		return AdjustNone
	}
	return a.reduce(now)
}

// OnSent records a successful datagram write.
func (a *BitpoolAdapter) OnSent(now time.Duration) Adjustment {
	if !a.backoffElapsed(now) {
		return AdjustNone
	}
	a.setQuality(LinkClear)

	if !a.windowElapsed(now) {
		return AdjustNone
	}
	a.lastAdaptation = now
	a.haveAdaptation = true
	a.adaptationCount++
	return AdjustIncrease
}

// Reset forgets all history.
func (a *BitpoolAdapter) Reset() {
	a.quality = LinkClear
	a.haveAdaptation = false
	a.haveDecrease = false
}

func (a *BitpoolAdapter) reduce(now time.Duration) Adjustment {
	if !a.windowElapsed(now) {
		return AdjustNone
	}
	a.lastAdaptation = now
	a.haveAdaptation = true
	a.lastDecrease = now
	a.haveDecrease = true
	a.adaptationCount++
	return AdjustReduce
}

func (a *BitpoolAdapter) windowElapsed(now time.Duration) bool {
	return !a.haveAdaptation || now-a.lastAdaptation >= a.config.AdaptationWindow
}

// backoffElapsed reports whether an increase is allowed after the last decrease.
func (a *BitpoolAdapter) backoffElapsed(now time.Duration) bool {
	return !a.haveDecrease || now-a.lastDecrease >= a.config.BackoffDuration
}

func (a *BitpoolAdapter) setQuality(q LinkQuality) {
	if q == a.quality {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "BitpoolAdapter.setQuality",
		"old_quality": a.quality.String(),
		"new_quality": q.String(),
	}).Info("Link quality changed")

	a.quality = q
	if a.qualityCb != nil {
		a.qualityCb(q)
	}
}

// adaptOnSent, adaptOnWouldBlock and adaptOnUnderrun apply adapter decisions.
func (e *Engine) adaptOnSent(now time.Duration) {
	if e.adapter == nil {
		return
	}
	if e.adapter.OnSent(now) == AdjustIncrease && e.enc.Bitpool() < e.maxBitpool {
		e.IncreaseBitpool()
	}
}

func (e *Engine) adaptOnWouldBlock(now time.Duration) {
	if e.adapter == nil {
		return
	}
	if e.adapter.OnWouldBlock(now) == AdjustReduce {
		e.ReduceBitpool()
	}
}

func (e *Engine) adaptOnUnderrun(now time.Duration) {
	if e.adapter == nil {
		return
	}
	if e.adapter.OnUnderrun(now) == AdjustReduce {
		e.ReduceBitpool()
	}
}
