package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gitSyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsync_git_sync_failed_total",
			Help: "Total number of failed git sync operations",
		},
		[]string{"sync", "step"},
	)

	gitSyncCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsync_git_sync_count_total",
			Help: "Total number of git sync operations",
		},
		[]string{"sync"},
	)

	gitSyncCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsync_git_sync_commits_total",
			Help: "Total number of merge commits created by git sync",
		},
		[]string{"sync"},
	)

	gitSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hfsync_git_sync_duration_seconds",
			Help:    "Git sync duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"sync"},
	)

	lastGitSyncStart = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hfsync_last_git_sync_start_timestamp",
			Help: "Unix timestamp of when the last git sync started",
		},
		[]string{"sync"},
	)

	lastGitSyncEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hfsync_last_git_sync_end_timestamp",
			Help: "Unix timestamp of when the last successful git sync ended",
		},
		[]string{"sync"},
	)
)

// GitSyncStarted records the start of a sync run.
func GitSyncStarted(sync string, start time.Time) {
	gitSyncCount.WithLabelValues(sync).Inc()
	lastGitSyncStart.WithLabelValues(sync).Set(float64(start.Unix()))
}

// GitSyncSucceeded records a completed sync run started at start.
func GitSyncSucceeded(sync string, start time.Time, committed bool) {
	now := time.Now()
	gitSyncDuration.WithLabelValues(sync).Observe(now.Sub(start).Seconds())
	lastGitSyncEnd.WithLabelValues(sync).Set(float64(now.Unix()))
	if committed {
		gitSyncCommits.WithLabelValues(sync).Inc()
	}
}

// GitSyncFailed records a sync run that stopped at step.
func GitSyncFailed(sync, step string) {
	gitSyncFailed.WithLabelValues(sync, step).Inc()
}
