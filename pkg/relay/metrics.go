// Copyright 2024-2026 Aiku AI

package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	relayTasksScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "relay_tasks_scheduled_total",
		Help:      "Total delayed relay deliveries scheduled",
	})

	partsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "parts_delivered_total",
		Help:      "Total message parts posted through proxy endpoints",
	}, []string{"path"})

	deliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "delivery_failures_total",
		Help:      "Total deliveries abandoned after an error",
	}, []string{"path"})

	endpointsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "endpoints_created_total",
		Help:      "Total proxy endpoints created",
	})

	copyJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "copy_jobs_total",
		Help:      "Total bulk copy jobs by result",
	}, []string{"result"})
)

const (
	pathRelay   = "relay"
	pathCopy    = "copy"
	pathMessage = "message"
)

// RegisterMetrics registers the relay metrics into the default Prometheus
// registry. Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(relayTasksScheduled)
		prometheus.MustRegister(partsDelivered)
		prometheus.MustRegister(deliveryFailures)
		prometheus.MustRegister(endpointsCreated)
		prometheus.MustRegister(copyJobs)
	})
}
