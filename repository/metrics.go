package repository

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// lastSyncTimestamp is a Gauge that captures the timestamp of the last
	// successful repository sync
	lastSyncTimestamp *prometheus.GaugeVec
	// syncCount is a Counter vector of repository syncs
	syncCount *prometheus.CounterVec
	// syncLatency is a Histogram vector that keeps track of repo sync durations
	syncLatency *prometheus.HistogramVec
)

// EnableMetrics will enable metrics collection for repository syncs.
// Available metrics are...
//   - git_last_sync_timestamp - (tags: repo)
//     A Gauge that captures the Timestamp of the last successful sync per repo.
//   - git_sync_count - (tags: repo,success)
//     A Counter for each repo sync, incremented with each sync attempt and tagged with the result (success=true|false)
//   - git_sync_latency_seconds - (tags: repo)
//     A Histogram that keeps track of the sync latency per repo.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	lastSyncTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "git_last_sync_timestamp",
		Help:      "Timestamp of the last successful repository sync",
	},
		[]string{
			// name of the repository
			"repo",
		},
	)

	syncCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "git_sync_count",
		Help:      "Count of repository sync operations",
	},
		[]string{
			// name of the repository
			"repo",
			// Whether the sync was successful or not
			"success",
		},
	)

	syncLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "git_sync_latency_seconds",
		Help:      "Latency for repository sync",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	},
		[]string{
			// name of the repository
			"repo",
		},
	)

	registerer.MustRegister(
		lastSyncTimestamp,
		syncCount,
		syncLatency,
	)
}

// recordSync records a repository sync attempt by updating all the
// relevant metrics
func recordSync(repo string, success bool) {
	// if metrics not enabled return
	if lastSyncTimestamp == nil || syncCount == nil {
		return
	}
	if success {
		lastSyncTimestamp.With(prometheus.Labels{
			"repo": repo,
		}).Set(float64(time.Now().Unix()))
	}
	syncCount.With(prometheus.Labels{
		"repo":    repo,
		"success": strconv.FormatBool(success),
	}).Inc()
}

func updateSyncLatency(repo string, start time.Time) {
	// if metrics not enabled return
	if syncLatency == nil {
		return
	}
	syncLatency.WithLabelValues(repo).Observe(time.Since(start).Seconds())
}
