package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "spark_k8s_backend_"

var RunningExecutors = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricsPrefix + "running_executors",
		Help: "Number of executors currently tracked in the live indexes",
	})

var TargetExecutors = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricsPrefix + "target_executors",
		Help: "Executor count most recently requested by the driver scheduler",
	})

var ExecutorPodsCreated = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "executor_pods_created_total",
		Help: "Executor pods accepted by the cluster",
	})

var ExecutorPodCreationFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "executor_pod_creation_failures_total",
		Help: "Executor pod submissions rejected by the cluster",
	})

var ExecutorPodsDeleted = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "executor_pods_deleted_total",
		Help: "Executor pods deleted from the cluster",
	})

var ExecutorsRemoved = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "executors_removed_total",
		Help: "Executor losses reported to the driver scheduler",
	}, []string{"caused_by_app"})

var AllocationTickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricsPrefix + "allocation_tick_latency_seconds",
		Help:    "Background allocation tick latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
