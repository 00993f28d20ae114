// Package spametrics exposes Prometheus metrics for the gospad intake
// pipeline.
package spametrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gospad"
	subsystem = "spa"
)

// Label names for SPA metrics.
const (
	labelMessageType = "message_type"
	labelStanza      = "stanza"
	labelReason      = "reason"
)

// -------------------------------------------------------------------------
// Collector — Prometheus SPA Metrics
// -------------------------------------------------------------------------

// Collector holds all SPA Prometheus metrics.
//
//   - Granted/Denied counters track the pipeline's final verdict, by
//     message type and rejection reason respectively.
//   - Dropped counts datagrams rejected before a stanza match was
//     ever attempted (classifier rejection, rate limit, replay hit).
//   - ReplayHits counts digests found already present in the replay
//     store.
//   - DecryptFailures counts crypto engine failures per stanza.
//   - ActiveGrants tracks firewall rules currently installed by the
//     action dispatcher.
//
// cmd/gospad registers a Collector, but neither the pipeline nor the
// firewall manager updates it; the metrics change only through the
// methods below.
type Collector struct {
	Granted         *prometheus.CounterVec
	Denied          *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	ReplayHits      prometheus.Counter
	DecryptFailures *prometheus.CounterVec
	ActiveGrants    prometheus.Gauge
}

// NewCollector creates a Collector with all SPA metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "gospad_spa_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Granted,
		c.Denied,
		c.Dropped,
		c.ReplayHits,
		c.DecryptFailures,
		c.ActiveGrants,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without
// registering them.
func newMetrics() *Collector {
	return &Collector{
		Granted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "granted_total",
			Help:      "Total SPA requests resulting in a granted action, by message type and stanza.",
		}, []string{labelMessageType, labelStanza}),

		Denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "denied_total",
			Help:      "Total SPA requests rejected after at least one stanza match attempt, by reason.",
		}, []string{labelReason}),

		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_total",
			Help:      "Total datagrams dropped before any stanza match was attempted, by reason.",
		}, []string{labelReason}),

		ReplayHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replay_hits_total",
			Help:      "Total datagrams whose digest was already present in the replay store.",
		}),

		DecryptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decrypt_failures_total",
			Help:      "Total crypto engine decrypt failures, by stanza.",
		}, []string{labelStanza}),

		ActiveGrants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_grants",
			Help:      "Number of currently active firewall grants installed by the action dispatcher.",
		}),
	}
}

// -------------------------------------------------------------------------
// Recording Helpers
// -------------------------------------------------------------------------

// RecordGranted increments the granted counter for a message type and
// the stanza that matched.
func (c *Collector) RecordGranted(messageType, stanza string) {
	c.Granted.WithLabelValues(messageType, stanza).Inc()
}

// RecordDenied increments the denied counter for a rejection reason.
func (c *Collector) RecordDenied(reason string) {
	c.Denied.WithLabelValues(reason).Inc()
}

// RecordDropped increments the dropped counter for a pre-match
// rejection reason.
func (c *Collector) RecordDropped(reason string) {
	c.Dropped.WithLabelValues(reason).Inc()
}

// RecordReplayHit increments the replay-hit counter.
func (c *Collector) RecordReplayHit() {
	c.ReplayHits.Inc()
}

// RecordDecryptFailure increments the decrypt-failure counter for a
// stanza.
func (c *Collector) RecordDecryptFailure(stanza string) {
	c.DecryptFailures.WithLabelValues(stanza).Inc()
}

// GrantOpened increments the active grants gauge.
func (c *Collector) GrantOpened() {
	c.ActiveGrants.Inc()
}

// GrantExpired decrements the active grants gauge.
func (c *Collector) GrantExpired() {
	c.ActiveGrants.Dec()
}
