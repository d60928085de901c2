package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perfmon_metric_samples_total",
		Help: "Total number of metric samples persisted.",
	})
	alertsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perfmon_alerts_raised_total",
		Help: "Total number of alerts raised, by severity.",
	}, []string{"severity"})
	queriesTracked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perfmon_queries_tracked_total",
		Help: "Total number of query executions tracked.",
	})
)

func init() {
	prometheus.MustRegister(samplesCollected)
	prometheus.MustRegister(alertsRaised)
	prometheus.MustRegister(queriesTracked)
}
