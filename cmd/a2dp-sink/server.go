package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/opd-ai/a2dpsink/engine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// statsFunc returns the current stream counters.
type statsFunc func(ctx context.Context) (engine.Stats, error)

// newStatusRouter serves Prometheus metrics, a health check and a JSON stats snapshot.
func newStatusRouter(stats statsFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		s, err := stats(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if s.State == engine.StateStarted && !s.Healthy {
			http.Error(w, "transport unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		s, err := stats(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsView(s))
	})

	return r
}

// statsView flattens Stats for JSON output.
func statsView(s engine.Stats) map[string]any {
	return map[string]any{
		"state":            s.State.String(),
		"healthy":          s.Healthy,
		"bitpool":          s.Bitpool,
		"frame_length":     s.FrameLength,
		"write_samples":    s.WriteSamples,
		"sample_count":     s.SampleCount,
		"timestamp":        s.Timestamp,
		"sequence":         s.Sequence,
		"filled":           s.Filled,
		"datagrams":        s.Datagrams,
		"bytes_sent":       s.BytesSent,
		"would_blocks":     s.WouldBlocks,
		"transport_errors": s.TransportErrors,
		"underruns":        s.Underruns,
		"out_queue":        s.OutQueue,
		"pulls":            s.Pulls,
		"buffers_reused":   s.BuffersReused,
	}
}

// serveStatus starts the status server on addr. The returned function shuts it down.
func serveStatus(addr string, stats statsFunc) func() {
	srv := &http.Server{
		Addr:         addr,
		Handler:      newStatusRouter(stats),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "serveStatus",
			"addr":     addr,
		}).Info("Status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "serveStatus",
				"error":    err.Error(),
			}).Error("Status server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
