// Package metrics exposes Prometheus instrumentation for the Session
// Service and Lookup Engine: a Collector struct of pre-registered vectors,
// constructed once and passed in wherever a component wants to record
// something. Nil-safe throughout so callers that don't care about metrics
// can simply omit a Collector.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "discv5"

// Collector holds every Prometheus metric this module records.
type Collector struct {
	SessionsEstablished prometheus.Gauge
	HandshakeAttempts   prometheus.Counter
	HandshakeFailures   *prometheus.CounterVec
	RequestsSent        prometheus.Counter
	RequestsRetried     prometheus.Counter
	RequestsFailed      prometheus.Counter
	LookupsActive       prometheus.Gauge
	LookupsFinished     prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		SessionsEstablished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "established",
			Help: "Number of sessions currently in the Established state.",
		}),
		HandshakeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "handshake", Name: "attempts_total",
			Help: "Total handshake attempts initiated or answered.",
		}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "handshake", Name: "failures_total",
			Help: "Total handshake failures by reason.",
		}, []string{"reason"}),
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "request", Name: "sent_total",
			Help: "Total request packets sent, including retransmissions.",
		}),
		RequestsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "request", Name: "retried_total",
			Help: "Total request retransmissions.",
		}),
		RequestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "request", Name: "failed_total",
			Help: "Total requests that exhausted their retries.",
		}),
		LookupsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "lookup", Name: "active",
			Help: "Number of lookups currently iterating or stalled.",
		}),
		LookupsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lookup", Name: "finished_total",
			Help: "Total lookups that reached the Finished state.",
		}),
	}
	reg.MustRegister(
		c.SessionsEstablished,
		c.HandshakeAttempts,
		c.HandshakeFailures,
		c.RequestsSent,
		c.RequestsRetried,
		c.RequestsFailed,
		c.LookupsActive,
		c.LookupsFinished,
	)
	return c
}
