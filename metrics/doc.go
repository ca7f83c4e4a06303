// Package metrics exports A2DP stream health to Prometheus.
//
// Collectors are registered with the default registry and labelled by stream
// id. A StreamRecorder binds them to one stream and is passed to the engine
// as its Observer:
//
//	rec := metrics.NewStreamRecorder(streamID)
//	defer rec.Close()
//	opts := &engine.Options{StreamID: streamID, Observer: rec}
package metrics
