package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// StreamRecorder exports the events of one stream. It implements
// engine.Observer.
type StreamRecorder struct {
	stream string

	datagrams       prometheus.Counter
	bytes           prometheus.Counter
	wouldBlock      prometheus.Counter
	transportErrors prometheus.Counter
	underruns       prometheus.Counter
	buffersReused   prometheus.Counter
	bitpool         prometheus.Gauge
	backlog         prometheus.Gauge
	sendQueue       prometheus.Gauge
	frames          prometheus.Observer
	deficit         prometheus.Observer
}

// NewStreamRecorder binds the collectors to stream.
func NewStreamRecorder(stream string) *StreamRecorder {
	ActiveStreams.Inc()

	logrus.WithFields(logrus.Fields{
		"function": "NewStreamRecorder",
		"stream":   stream,
	}).Debug("Stream metrics registered")

	return &StreamRecorder{
		stream:          stream,
		datagrams:       DatagramsTotal.WithLabelValues(stream),
		bytes:           BytesTotal.WithLabelValues(stream),
		wouldBlock:      WouldBlockTotal.WithLabelValues(stream),
		transportErrors: TransportErrorsTotal.WithLabelValues(stream),
		underruns:       UnderrunsTotal.WithLabelValues(stream),
		buffersReused:   BuffersReusedTotal.WithLabelValues(stream),
		bitpool:         Bitpool.WithLabelValues(stream),
		backlog:         BacklogSamples.WithLabelValues(stream),
		sendQueue:       SendQueueBytes.WithLabelValues(stream),
		frames:          FramesPerDatagram.WithLabelValues(stream),
		deficit:         UnderrunDeficitSamples.WithLabelValues(stream),
	}
}

// Close removes the stream's series.
func (r *StreamRecorder) Close() {
	ActiveStreams.Dec()
	for _, vec := range []*prometheus.CounterVec{
		DatagramsTotal, BytesTotal, WouldBlockTotal, TransportErrorsTotal,
		UnderrunsTotal, BuffersReusedTotal,
	} {
		vec.DeleteLabelValues(r.stream)
	}
	for _, vec := range []*prometheus.GaugeVec{Bitpool, BacklogSamples, SendQueueBytes} {
		vec.DeleteLabelValues(r.stream)
	}
	FramesPerDatagram.DeleteLabelValues(r.stream)
	UnderrunDeficitSamples.DeleteLabelValues(r.stream)
}

func (r *StreamRecorder) DatagramSent(bytes, frames int) {
	r.datagrams.Inc()
	r.bytes.Add(float64(bytes))
	r.frames.Observe(float64(frames))
}

func (r *StreamRecorder) WouldBlock()     { r.wouldBlock.Inc() }
func (r *StreamRecorder) TransportError() { r.transportErrors.Inc() }

func (r *StreamRecorder) Underrun(deficit int64) {
	r.underruns.Inc()
	r.deficit.Observe(float64(deficit))
}

func (r *StreamRecorder) Backlog(filled int64)       { r.backlog.Set(float64(filled)) }
func (r *StreamRecorder) OutQueue(bytes int)         { r.sendQueue.Set(float64(bytes)) }
func (r *StreamRecorder) BitpoolChanged(bitpool int) { r.bitpool.Set(float64(bitpool)) }
func (r *StreamRecorder) BufferReused()              { r.buffersReused.Inc() }
