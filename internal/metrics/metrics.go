// Package metrics exposes session lifecycle counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder is what the services report to.
type Recorder interface {
	RecordSession(op string, outcome string, reason string)
	RecordLatency(op string, d time.Duration)
	RecordRegistration(outcome string)
	RecordTokensPurged(count int64)
}

type Collector struct {
	sessions      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	registrations *prometheus.CounterVec
	purged        prometheus.Counter
}

// NewCollector registers the session metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_session_operations_total",
			Help: "Login, refresh and logout attempts by outcome.",
		}, []string{"op", "outcome", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_session_operation_seconds",
			Help:    "Duration of session operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_registrations_total",
			Help: "Account registrations by outcome.",
		}, []string{"outcome"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_refresh_tokens_purged_total",
			Help: "Refresh tokens removed by the janitor.",
		}),
	}

	reg.MustRegister(c.sessions, c.latency, c.registrations, c.purged)

	return c
}

func (c *Collector) RecordSession(op string, outcome string, reason string) {
	c.sessions.WithLabelValues(op, outcome, reason).Inc()
}

func (c *Collector) RecordLatency(op string, d time.Duration) {
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTokensPurged(count int64) {
	c.purged.Add(float64(count))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSession(string, string, string) {}
func (Nop) RecordLatency(string, time.Duration)  {}
func (Nop) RecordRegistration(string)            {}
func (Nop) RecordTokensPurged(int64)             {}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
