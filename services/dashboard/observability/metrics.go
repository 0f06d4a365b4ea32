// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the dashboard.
//
// Metrics cover the event pipeline (ingest counts by kind and tier,
// enrichment outcomes, advisor latency) and the live fan-out (active
// connections, published messages). Exposed at /metrics for scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "querypulse"
	pipelineSubsystem = "pipeline"
	fanoutSubsystem   = "fanout"
)

// Metrics holds all Prometheus metrics for the dashboard service.
// Initialize once at startup via NewMetrics().
type Metrics struct {
	// QueriesIngestedTotal counts ingested query events.
	// Labels: query_type (SELECT, INSERT, ...), status (fast, slow, critical)
	QueriesIngestedTotal *prometheus.CounterVec

	// IngestFailuresTotal counts ingestions aborted by persistence errors.
	IngestFailuresTotal prometheus.Counter

	// EnrichmentsTotal counts completed enrichment runs.
	// Labels: source (cache, ai), outcome (ok, empty, error)
	EnrichmentsTotal *prometheus.CounterVec

	// AdvisorLatencySeconds measures advisor call duration.
	AdvisorLatencySeconds prometheus.Histogram

	// PublishedTotal counts messages published on the bus.
	// Labels: topic
	PublishedTotal *prometheus.CounterVec

	// ActiveConnections tracks currently open live connections.
	ActiveConnections prometheus.Gauge

	// SyntheticTicksTotal counts synthetic metrics payloads delivered to
	// connections whose broker subscription could not be bound.
	SyntheticTicksTotal prometheus.Counter
}

// NewMetrics registers all dashboard metrics on a registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry() so parallel tests don't collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesIngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "queries_ingested_total",
			Help:      "Ingested query events by kind and latency tier.",
		}, []string{"query_type", "status"}),

		IngestFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "ingest_failures_total",
			Help:      "Ingestions aborted because persistence failed.",
		}),

		EnrichmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "enrichments_total",
			Help:      "Enrichment runs by suggestion source and outcome.",
		}, []string{"source", "outcome"}),

		AdvisorLatencySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "advisor_latency_seconds",
			Help:      "Latency of advisor Analyze calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		PublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: fanoutSubsystem,
			Name:      "published_total",
			Help:      "Messages published on the event bus by topic.",
		}, []string{"topic"}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: fanoutSubsystem,
			Name:      "active_connections",
			Help:      "Currently open live viewer connections.",
		}),

		SyntheticTicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: fanoutSubsystem,
			Name:      "synthetic_ticks_total",
			Help:      "Synthetic demo metric payloads sent to connections without broker subscriptions.",
		}),
	}
}
