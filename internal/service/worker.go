package service

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitsync"
	"github.com/datasetsync/hfsync/internal/logging"
	"github.com/datasetsync/hfsync/internal/progress"
)

var (
	errorInterval = 5 * time.Minute
)

// Synchronizer runs one synchronization of a job.
type Synchronizer interface {
	Execute(ctx context.Context) (*gitsync.Report, error)
}

// SyncWorker runs a sync job on the pool. Each Execute is one synchronization
// run; the returned deadline schedules the next one.
type SyncWorker struct {
	job        *config.Sync
	sync       Synchronizer
	changed    chan struct{}
	singleShot bool
	log        *logging.Logger
	bar        *progress.Bar
	interval   time.Duration

	mu     sync.Mutex
	status Status
}

func NewSyncWorker(job *config.Sync, sync Synchronizer, logger *logging.Logger, bar *progress.Bar) *SyncWorker {
	return &SyncWorker{
		job:      job,
		sync:     sync,
		log:      logger,
		bar:      bar,
		changed:  make(chan struct{}),
		interval: job.GetInterval(),
		status:   Status{Name: job.Name, State: SyncStatePending},
	}
}

func (w *SyncWorker) WithSingleShot(singleShot bool) *SyncWorker {
	w.singleShot = singleShot
	return w
}

// UpdateConfig retires the worker when its job changed or was removed. The
// worker leaves the pool at its next run and a new worker takes over.
func (w *SyncWorker) UpdateConfig(job *config.Sync) {
	if job == nil || !w.job.Equal(job) {
		w.changeConfiguration()
	}
}

// Status returns a snapshot of the worker's last run.
func (w *SyncWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Execute runs one synchronization iteration.
func (w *SyncWorker) Execute(ctx context.Context) time.Time {
	// A retired worker asks to be removed from the pool.
	if w.configurationChanged() {
		return w.die()
	}

	defer w.bar.Add(1)

	w.setState(SyncStateRunning)

	report, err := w.sync.Execute(ctx)
	if err != nil {
		state := SyncStateFailed
		if config.IsConfigurationError(err) {
			state = SyncStateConfigError
		}
		w.log.Errorf("%v", err)
		return w.report(state, report, err)
	}

	if report.Changed() {
		w.log.Infof("sync %q: %s -> %s", w.job.Name, short(report.Before), short(report.After))
	} else {
		w.log.Debugf("sync %q: up to date", w.job.Name)
	}
	return w.report(SyncStateSuccess, report, nil)
}

func (w *SyncWorker) setState(state SyncState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = state
}

func (w *SyncWorker) report(state SyncState, report *gitsync.Report, err error) time.Time {
	interval := w.interval

	w.mu.Lock()
	w.status.State = state
	w.status.LastRun = time.Now()
	w.status.Message = ""
	if report != nil {
		w.status.Duration = report.Duration.String()
		if report.After != "" {
			w.status.Head = report.After
		}
	}
	if err != nil {
		interval = min(errorInterval, interval) // faster retry on error
		w.status.Message = err.Error()
		w.status.Failures++
	} else {
		w.status.LastSuccess = w.status.LastRun
		w.status.Failures = 0
	}
	w.status.NextRun = time.Now().Add(interval)
	w.mu.Unlock()

	if w.singleShot {
		return w.die()
	}

	return time.Now().Add(interval)
}

func (w *SyncWorker) changeConfiguration() {
	select {
	case <-w.changed:
	default:
		close(w.changed)
	}
}

func (w *SyncWorker) configurationChanged() bool {
	select {
	case <-w.changed:
		return true
	default:
		return false
	}
}

func (w *SyncWorker) die() time.Time {
	w.mu.Lock()
	w.status.NextRun = time.Time{}
	w.mu.Unlock()

	var zero time.Time
	return zero
}

func short(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return cmp.Or(h, "(none)")
}
