// Package metrics exposes prometheus collectors for the validator node.
//
// Collectors are registered on the default registry the first time any
// of them is touched and are served by Handler under /metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

var (
	registerOnce sync.Once

	blocksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "blocks_total",
		Help:      "Blocks processed and committed.",
	})

	processSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "block_seconds",
		Help:      "Wall time spent processing one block.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "actions_total",
		Help:      "Executed actions by type and outcome.",
	}, []string{"action", "outcome"})

	processedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "height",
		Help:      "Height of the last committed block.",
	})

	headHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "head_height",
		Help:      "Latest head height reported by the upstream chain.",
	})

	fetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "fetch_failures_total",
		Help:      "Failed block fetches by strategy.",
	}, []string{"strategy"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "queue_depth",
		Help:      "Blocks fetched but not yet processed.",
	})

	submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validator",
		Name:      "submissions_total",
		Help:      "Validation transaction submissions by result.",
	}, []string{"result"})

	pluginErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "plugin",
		Name:      "errors_total",
		Help:      "Observer failures by plugin.",
	}, []string{"plugin"})

	peers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "p2p",
		Name:      "peers",
		Help:      "Connected gossip peers.",
	})

	hashChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "p2p",
		Name:      "hash_checks_total",
		Help:      "Peer hash announcements compared with local results.",
	}, []string{"result"})
)

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			blocksProcessed,
			processSeconds,
			actionsTotal,
			processedHeight,
			headHeight,
			fetchFailures,
			queueDepth,
			submissions,
			pluginErrors,
			peers,
			hashChecks,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	register()
	return promhttp.Handler()
}

// BlockProcessed records one committed block.
func BlockProcessed(height uint64, took time.Duration) {
	register()
	blocksProcessed.Inc()
	processSeconds.Observe(took.Seconds())
	processedHeight.Set(float64(height))
}

// ActionExecuted records the outcome of one action.
func ActionExecuted(action string, ok bool) {
	register()
	outcome := "failed"
	if ok {
		outcome = "succeeded"
	}
	actionsTotal.WithLabelValues(action, outcome).Inc()
}

// HeadHeight records the upstream head.
func HeadHeight(height uint64) {
	register()
	headHeight.Set(float64(height))
}

// FetchFailed records a failed fetch for the given strategy.
func FetchFailed(strategy string) {
	register()
	fetchFailures.WithLabelValues(strategy).Inc()
}

// QueueDepth records the number of buffered blocks.
func QueueDepth(n int) {
	register()
	queueDepth.Set(float64(n))
}

// Submission records the result of a validation submission.
func Submission(result string) {
	register()
	submissions.WithLabelValues(result).Inc()
}

// PluginError records a failing observer.
func PluginError(plugin string) {
	register()
	pluginErrors.WithLabelValues(plugin).Inc()
}

// Peers records the connected peer count.
func Peers(n int) {
	register()
	peers.Set(float64(n))
}

// HashCheck records the comparison of a peer announcement, "match" or
// "mismatch".
func HashCheck(result string) {
	register()
	hashChecks.WithLabelValues(result).Inc()
}
