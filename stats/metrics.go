// Package stats exposes the communicator's prometheus metrics: queue depth
// per tracked variable, the grad counter, RPC failure counts, and GEO-SGD
// push/pull counts. Grounded on the pack's use of
// github.com/prometheus/client_golang for process instrumentation.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "communicator",
		Name:      "queue_depth",
		Help:      "Current number of queued snapshots for a send-tracked variable.",
	}, []string{"var"})

	GradCounter = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "communicator",
		Name:      "grad_counter",
		Help:      "Current value of the process-wide send counter that triggers a recv pass.",
	})

	RpcFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "communicator",
		Name:      "rpc_failures_total",
		Help:      "Count of wait-handle failures, by op (send/get/get_no_barrier).",
	}, []string{"op"})

	GeoPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "communicator",
		Name:      "geo_pushes_total",
		Help:      "Count of successful GEO-SGD delta shipments, by variable.",
	}, []string{"var"})

	GeoPullsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "communicator",
		Name:      "geo_pulls_total",
		Help:      "Count of successful GEO-SGD authoritative pulls, by variable.",
	}, []string{"var"})
)

func init() {
	prometheus.MustRegister(QueueDepth, GradCounter, RpcFailuresTotal, GeoPushesTotal, GeoPullsTotal)
}
