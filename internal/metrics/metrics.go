// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package metrics exposes Prometheus instrumentation for the sync pipeline,
// the upstream GIPOD client, the search index and the map query API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream GIPOD API client.

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_upstream_requests_total",
			Help: "Total number of requests to the GIPOD open-data API",
		},
		[]string{"operation", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gipod_upstream_request_duration_seconds",
			Help:    "Duration of GIPOD API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gipod_upstream_circuit_breaker_state",
			Help: "Circuit breaker state for the GIPOD API (0=closed, 1=half-open, 2=open)",
		},
	)

	// Sync engine.

	SyncPagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_sync_pages_fetched_total",
			Help: "Total number of list pages fetched during sync",
		},
		[]string{"kind"},
	)

	SyncUpdatesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_sync_updates_scheduled_total",
			Help: "Total number of per-record update tasks scheduled",
		},
		[]string{"kind", "mode"}, // mode: unconditional, skip_if_exists
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_sync_records_processed_total",
			Help: "Total number of records fetched, normalized and stored",
		},
		[]string{"kind", "result"}, // result: updated, skipped, error
	)

	// Search index.

	IndexBulkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_index_bulk_operations_total",
			Help: "Total number of documents written to or deleted from the search index",
		},
		[]string{"operation"}, // operation: upsert, delete
	)

	IndexSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gipod_index_search_duration_seconds",
			Help:    "Duration of search index queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cleanup engine.

	CleanupRecordsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_cleanup_records_expired_total",
			Help: "Total number of records re-indexed by the timed-out sweep",
		},
		[]string{"kind"},
	)

	CleanupRecordsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_cleanup_records_deleted_total",
			Help: "Total number of records deleted after upstream removal",
		},
		[]string{"kind"},
	)

	// Map query API.

	QueryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_query_requests_total",
			Help: "Total number of map query API requests",
		},
		[]string{"endpoint", "result"}, // result: ok, empty, unauthorized
	)

	// Data quality.

	GeometryAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gipod_geometry_anomalies_total",
			Help: "Total number of unrecognized geometry shapes left untouched",
		},
		[]string{"type"},
	)
)
