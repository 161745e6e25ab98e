package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cleanFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsync_clean_failed_total",
			Help: "Number of times cleaning a target repository has failed",
		},
		[]string{"sync"},
	)

	cleanDeletedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsync_clean_deleted_files_total",
			Help: "Total number of files removed from target repositories",
		},
		[]string{"sync"},
	)
)

func CleanSucceeded(sync string, deleted int) {
	cleanDeletedFiles.WithLabelValues(sync).Add(float64(deleted))
}

func CleanFailed(sync string) {
	cleanFailed.WithLabelValues(sync).Inc()
}
