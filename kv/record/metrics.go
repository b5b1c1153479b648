package record

import "github.com/prometheus/client_golang/prometheus"

var (
	jitLoadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyrecord",
			Subsystem: "record",
			Name:      "jit_loads_total",
			Help:      "Counter of JIT loads by result.",
		}, []string{"result"})

	cursorRebuildCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyrecord",
			Subsystem: "record",
			Name:      "cursor_rebuilds_total",
			Help:      "Counter of invalidated cursors rebuilt by next.",
		})

	readHintCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyrecord",
			Subsystem: "record",
			Name:      "reads_total",
			Help:      "Counter of store reads by isolation hint.",
		}, []string{"hint"})

	writeConflictCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyrecord",
			Subsystem: "record",
			Name:      "write_conflicts_total",
			Help:      "Counter of writes rejected because the row changed since it was read.",
		})

	lockTimeoutCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyrecord",
			Subsystem: "record",
			Name:      "lock_timeouts_total",
			Help:      "Counter of store requests that timed out waiting for a row lock.",
		})

	writeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinyrecord",
			Subsystem: "record",
			Name:      "write_duration_seconds",
			Help:      "Bucketed histogram of store write time (s) by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
		}, []string{"op"})
)

func init() {
	prometheus.MustRegister(jitLoadCounter)
	prometheus.MustRegister(cursorRebuildCounter)
	prometheus.MustRegister(readHintCounter)
	prometheus.MustRegister(writeConflictCounter)
	prometheus.MustRegister(lockTimeoutCounter)
	prometheus.MustRegister(writeDuration)
}
