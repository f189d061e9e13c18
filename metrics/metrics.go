// Package metrics exposes the pipeline's Prometheus instrumentation: per-
// camera throughput counters for the sender and receiver, plus aggregator
// and counter-store health gauges. Every binary (cmd/camsender,
// cmd/camreceiver, cmd/camtrigger) registers against the same Registry and
// serves it over HTTP via Handler.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is a dedicated registry rather than the global default, so tests
// can construct independent instances without colliding on metric names.
var Registry = prometheus.NewRegistry()

var (
	SenderFilesSent = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "framestream_sender_files_sent_total",
		Help: "Files successfully transmitted by a sender, by camera.",
	}, []string{"camera"})

	SenderBytesSent = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "framestream_sender_bytes_sent_total",
		Help: "Bytes successfully transmitted by a sender, by camera.",
	}, []string{"camera"})

	SenderFilesFailed = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "framestream_sender_files_failed_total",
		Help: "Files a sender gave up on after exhausting max_retries, by camera.",
	}, []string{"camera"})

	ReceiverFilesReceived = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "framestream_receiver_files_received_total",
		Help: "Files successfully written and ACKed by a receiver worker, by camera.",
	}, []string{"camera"})

	ReceiverBytesReceived = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "framestream_receiver_bytes_received_total",
		Help: "Bytes successfully written by a receiver worker, by camera.",
	}, []string{"camera"})

	ReceiverWriteErrors = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "framestream_receiver_write_errors_total",
		Help: "Protocol violations or disk I/O failures aborting an in-flight write, by camera.",
	}, []string{"camera"})

	CounterLockContended = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "framestream_counter_lock_contended_total",
		Help: "Times the shared counter store's retry budget was exhausted (cmn.ErrCounterContended).",
	})

	CleanupRuns = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "framestream_cleanup_runs_total",
		Help: "Times a receiver worker actually ran cleanup (won the per-capture lock and was under max_count), by camera.",
	}, []string{"camera"})

	AggregatorEmitted = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "framestream_aggregator_captures_emitted_total",
		Help: "Captures the aggregator marked emitted after crossing emit_threshold.",
	})

	AggregatorIsLeader = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "framestream_aggregator_is_leader",
		Help: "1 if this process currently holds the aggregator leader lock, else 0.",
	})

	AggregatorPollSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "framestream_aggregator_poll_seconds",
		Help:    "Wall-clock time spent in one aggregator poll-once cycle.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler serves Registry's metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
