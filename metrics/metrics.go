package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "a2dp_sink_active_streams",
		Help: "Number of streams with a recorder attached",
	})
	Bitpool = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "a2dp_sink_bitpool",
		Help: "Active SBC bitpool",
	}, []string{"stream"})
	BacklogSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "a2dp_sink_backlog_samples",
		Help: "Encoded samples not yet due for playback; negative while underrunning",
	}, []string{"stream"})
	SendQueueBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "a2dp_sink_send_queue_bytes",
		Help: "Bytes queued in the media socket before the latest write",
	}, []string{"stream"})
)

// Counters
var (
	DatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2dp_sink_datagrams_total",
		Help: "RTP datagrams written to the media socket",
	}, []string{"stream"})
	BytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2dp_sink_bytes_total",
		Help: "Bytes written to the media socket",
	}, []string{"stream"})
	WouldBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2dp_sink_would_block_total",
		Help: "Writes deferred because the send queue was full",
	}, []string{"stream"})
	TransportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2dp_sink_transport_errors_total",
		Help: "Failed writes other than would-block",
	}, []string{"stream"})
	UnderrunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2dp_sink_underruns_total",
		Help: "Pacing cycles in which playback had overtaken the encoder",
	}, []string{"stream"})
	BuffersReusedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2dp_sink_buffers_reused_total",
		Help: "Buffers handed back to the producer",
	}, []string{"stream"})
)

// Histograms
var (
	FramesPerDatagram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "a2dp_sink_frames_per_datagram",
		Help:    "SBC frames carried by each datagram",
		Buckets: []float64{1, 2, 4, 6, 8, 12, 16, 32},
	}, []string{"stream"})
	UnderrunDeficitSamples = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "a2dp_sink_underrun_deficit_samples",
		Help:    "Samples by which playback had overtaken the encoder",
		Buckets: prometheus.ExponentialBuckets(128, 2, 12),
	}, []string{"stream"})
)
