package transaction

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txnkv",
			Subsystem: "txn",
			Name:      "finished_total",
			Help:      "Counter of finished transactions.",
		}, []string{"result"})

	commitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "txnkv",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of commit time (s) of transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		})

	lockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "txnkv",
			Subsystem: "txn",
			Name:      "lock_wait_duration_seconds",
			Help:      "Bucketed histogram of time (s) pessimistic writes waited for a latch.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		})

	openSnapshotsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "txnkv",
			Subsystem: "engine",
			Name:      "open_snapshots",
			Help:      "Number of engine read views held by transactions, snapshots and cursors.",
		})

	openCursorsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "txnkv",
			Subsystem: "engine",
			Name:      "open_cursors",
			Help:      "Number of open iterators.",
		})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(commitDuration)
	prometheus.MustRegister(lockWaitDuration)
	prometheus.MustRegister(openSnapshotsGauge)
	prometheus.MustRegister(openCursorsGauge)
}
