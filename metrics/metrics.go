package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "remote"

var (
	registerOnce sync.Once

	connectionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "open",
			Help:      "Currently open connections.",
		},
		[]string{"transport"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Inbound messages by header.",
		},
		[]string{"header"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "replies_total",
			Help:      "Outbound messages by header and result.",
		},
		[]string{"header", "result"},
	)
	gateWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a write gate permit.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)
	gateStreamsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "streams_open",
			Help:      "Outbound message streams holding a permit.",
		},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "task_duration_seconds",
			Help:      "Task execution time on the arbiter pool.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"group"},
	)
	taskQueueWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "task_queue_wait_seconds",
			Help:      "Time a task waited on its arbiter before running.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"group"},
	)
	tasksPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "tasks_pending",
			Help:      "Queued plus running tasks per arbiter, sampled.",
		},
		[]string{"arbiter"},
	)
	tasksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "tasks_rejected_total",
			Help:      "Tasks rejected because every arbiter was at its pending limit.",
		},
		[]string{"group"},
	)
	txOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "outcomes_total",
			Help:      "Transaction verbs by outcome.",
		},
		[]string{"verb", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsOpen,
			messagesReceived,
			messagesSent,
			gateWait,
			gateStreamsOpen,
			taskDuration,
			taskQueueWait,
			tasksPending,
			tasksRejected,
			txOutcomes,
		)
	})
}

func ConnectionOpened(transport string) {
	RegisterMetrics()
	connectionsOpen.WithLabelValues(transport).Inc()
}

func ConnectionClosed(transport string) {
	RegisterMetrics()
	connectionsOpen.WithLabelValues(transport).Dec()
}

func RecordReceived(header string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(header).Inc()
}

func RecordSent(header string, ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "failed"
	}
	messagesSent.WithLabelValues(header, result).Inc()
}

func RecordGateAcquire(wait time.Duration) {
	RegisterMetrics()
	gateWait.Observe(wait.Seconds())
	gateStreamsOpen.Inc()
}

func RecordGateRelease() {
	RegisterMetrics()
	gateStreamsOpen.Dec()
}

func RecordTask(group string, queueWait, elapsed time.Duration) {
	RegisterMetrics()
	taskQueueWait.WithLabelValues(group).Observe(queueWait.Seconds())
	taskDuration.WithLabelValues(group).Observe(elapsed.Seconds())
}

func RecordPending(arbiter string, n int) {
	RegisterMetrics()
	tasksPending.WithLabelValues(arbiter).Set(float64(n))
}

func RecordTaskRejected(group string) {
	RegisterMetrics()
	tasksRejected.WithLabelValues(group).Inc()
}

func RecordTxOutcome(verb, outcome string) {
	RegisterMetrics()
	txOutcomes.WithLabelValues(verb, outcome).Inc()
}
