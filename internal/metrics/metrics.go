// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package metrics defines the service's counters, histograms and gauges,
// and the standalone listener that exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsEnqueued counts jobs accepted by the enqueue endpoint.
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_clustering_jobs_enqueued_total",
		Help: "Clustering jobs appended to the stream by the HTTP surface.",
	})

	// JobsProcessed counts worker message outcomes. The outcome label is
	// one of: success, decode_error, transient_error. Messages
	// dead-lettered for exhausting their attempts are counted only in
	// DeadLettered.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_clustering_jobs_processed_total",
		Help: "Stream messages handled by workers, by outcome.",
	}, []string{"outcome", "forced"})

	// DeadLettered counts messages routed to the dead-letter stream, by
	// routing reason.
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_clustering_dead_lettered_total",
		Help: "Messages copied to the dead-letter stream, by reason.",
	}, []string{"reason"})

	// AuthFailures counts requests rejected by the token check.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_clustering_auth_failures_total",
		Help: "Internal requests rejected with an invalid or missing token.",
	})

	// HTTPRequests counts requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_clustering_http_requests_total",
		Help: "HTTP requests served, by route and status.",
	}, []string{"route", "status"})

	// HTTPLatency observes request latency by route.
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "media_clustering_http_request_seconds",
		Help:    "HTTP request latency, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// ProcessDuration observes per-message processing latency.
	ProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "media_clustering_process_seconds",
		Help:    "Per-message strategy plus cache-write latency.",
		Buckets: prometheus.DefBuckets,
	})

	// PendingMessages tracks the broker-reported pending count per
	// consumer.
	PendingMessages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_clustering_pending_messages",
		Help: "Messages delivered but not yet acknowledged, by consumer.",
	}, []string{"consumer"})
)

// Handler returns the HTTP handler serving the metric registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
