// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. All engine components
// accept a nil *Metrics and skip recording.
type Metrics struct {
	SweepsStarted   prometheus.Counter
	SweepsCompleted prometheus.Counter
	SweepsCancelled prometheus.Counter
	SyncErrors      *prometheus.CounterVec // entity
	EventsApplied   *prometheus.CounterVec // entity, kind
	EventsDropped   *prometheus.CounterVec // entity, kind
	FeedReconnects  *prometheus.CounterVec // entity
	LockWaitSeconds prometheus.Histogram
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SweepsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "storesync_sweeps_started_total",
			Help: "Full reconciliation sweeps started.",
		}),
		SweepsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "storesync_sweeps_completed_total",
			Help: "Full reconciliation sweeps that ran to completion.",
		}),
		SweepsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "storesync_sweeps_cancelled_total",
			Help: "Sweeps cancelled by a newer SyncAll call.",
		}),
		SyncErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storesync_sync_errors_total",
			Help: "Per-entity sync failures absorbed by the orchestrator.",
		}, []string{"entity"}),
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storesync_events_applied_total",
			Help: "Live-feed change events applied to the replica.",
		}, []string{"entity", "kind"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storesync_events_dropped_total",
			Help: "Live-feed change events dropped after decode or fetch failure.",
		}, []string{"entity", "kind"}),
		FeedReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storesync_feed_reconnects_total",
			Help: "Live-feed subscription attempts after the first.",
		}, []string{"entity"}),
		LockWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "storesync_lock_wait_seconds",
			Help:    "Time contended callers spent queued on the mutation lock.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

func (m *Metrics) sweepStarted() {
	if m != nil {
		m.SweepsStarted.Inc()
	}
}

func (m *Metrics) sweepCompleted() {
	if m != nil {
		m.SweepsCompleted.Inc()
	}
}

func (m *Metrics) sweepCancelled() {
	if m != nil {
		m.SweepsCancelled.Inc()
	}
}

func (m *Metrics) syncError(entity EntityType) {
	if m != nil {
		m.SyncErrors.WithLabelValues(string(entity)).Inc()
	}
}

func (m *Metrics) eventApplied(entity EntityType, kind ChangeKind) {
	if m != nil {
		m.EventsApplied.WithLabelValues(string(entity), string(kind)).Inc()
	}
}

func (m *Metrics) eventDropped(entity EntityType, kind ChangeKind) {
	if m != nil {
		m.EventsDropped.WithLabelValues(string(entity), string(kind)).Inc()
	}
}

func (m *Metrics) feedReconnect(entity EntityType) {
	if m != nil {
		m.FeedReconnects.WithLabelValues(string(entity)).Inc()
	}
}

func (m *Metrics) lockWaitObserver() func(time.Duration) {
	if m == nil {
		return nil
	}
	return func(d time.Duration) {
		m.LockWaitSeconds.Observe(d.Seconds())
	}
}
