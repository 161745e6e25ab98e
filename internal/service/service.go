// Package service runs the configured sync jobs on a schedule. Each job gets
// a SyncWorker on a deadline-ordered pool; jobs run concurrently with each
// other, a single job never overlaps with itself.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitsync"
	"github.com/datasetsync/hfsync/internal/logging"
	"github.com/datasetsync/hfsync/internal/pool"
	"github.com/datasetsync/hfsync/internal/progress"
	"github.com/datasetsync/hfsync/internal/util"
)

const defaultParallelism = 4

type Service struct {
	config       *config.Root
	log          *logging.Logger
	bar          *progress.Bar
	singleShot   bool
	parallelism  int
	synchronizer func(*config.Sync) Synchronizer

	mu         sync.Mutex
	pool       *pool.Pool
	workers    map[string]*SyncWorker
	tasks      map[string]string // job name to pool task name
	generation int
}

func New() *Service {
	s := &Service{
		log:         logging.NewNop(),
		parallelism: defaultParallelism,
		workers:     make(map[string]*SyncWorker),
		tasks:       make(map[string]string),
	}
	s.synchronizer = func(job *config.Sync) Synchronizer {
		return gitsync.New(job, gitsync.WithIdentity(s.config.GetIdentity()), gitsync.WithLogger(s.log))
	}
	return s
}

func (s *Service) WithConfig(root *config.Root) *Service {
	s.config = root
	return s
}

func (s *Service) WithLogger(logger *logging.Logger) *Service {
	s.log = logger
	return s
}

func (s *Service) WithBar(bar *progress.Bar) *Service {
	s.bar = bar
	return s
}

// WithSingleShot makes every worker run exactly once; Run returns when all of
// them are done.
func (s *Service) WithSingleShot(singleShot bool) *Service {
	s.singleShot = singleShot
	return s
}

func (s *Service) WithParallelism(n int) *Service {
	if n > 0 {
		s.parallelism = n
	}
	return s
}

// WithSynchronizer replaces the git synchronizer built for each job.
func (s *Service) WithSynchronizer(fn func(*config.Sync) Synchronizer) *Service {
	s.synchronizer = fn
	return s
}

// Run schedules every configured job and blocks until ctx is cancelled, or,
// in single-shot mode, until each job ran once. In single-shot mode the
// returned error joins the failures of all jobs.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.pool = pool.New(ctx, s.parallelism)
	root := s.config
	s.mu.Unlock()

	s.Reconfigure(root)

	if !s.singleShot {
		<-ctx.Done()
		s.pool.Wait()
		return nil
	}

	select {
	case <-s.pool.Idle():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.bar.Finish()

	var errs []error
	for _, st := range s.Status() {
		if st.State != SyncStateSuccess {
			errs = append(errs, fmt.Errorf("sync %q: %s: %s", st.Name, st.State, st.Message))
		}
	}
	return errors.Join(errs...)
}

// Reconfigure applies root: workers of removed or changed jobs retire at their
// next run and new workers are added for new or changed jobs. Before Run starts,
// root only replaces the configuration Run will schedule.
func (s *Service) Reconfigure(root *config.Root) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		s.config = root
		return
	}

	// A new committer identity applies to every job.
	retireAll := s.config != nil && !util.PtrEqual(s.config.Identity, root.Identity)
	s.config = root

	for name, w := range s.workers {
		job := root.Syncs[name]
		if retireAll {
			w.UpdateConfig(nil)
		} else {
			w.UpdateConfig(job)
		}
		if job == nil {
			delete(s.workers, name)
			delete(s.tasks, name)
		}
	}

	var added int
	for _, job := range root.SortedSyncs() {
		if w, ok := s.workers[job.Name]; ok && !w.configurationChanged() {
			continue
		}

		// A retired worker stays in the pool until its next run, so its
		// replacement needs a distinct task name.
		s.generation++
		task := fmt.Sprintf("%s#%d", job.Name, s.generation)

		w := NewSyncWorker(job, s.synchronizer(job), s.log.With("sync", job.Name), s.bar).
			WithSingleShot(s.singleShot)
		s.workers[job.Name] = w
		s.tasks[job.Name] = task
		s.pool.Add(task, w.Execute)
		added++
	}
	s.bar.AddMax(added)
}

// Trigger runs the named job now, or right after its current run.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[name]
	if !ok || s.pool == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.pool.Trigger(task)
}

var ErrNotFound = errors.New("sync not found")

// Status returns the status of every job, sorted by name.
func (s *Service) Status() []Status {
	s.mu.Lock()
	workers := make([]*SyncWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	result := make([]Status, 0, len(workers))
	for _, w := range workers {
		result = append(result, w.Status())
	}
	slices.SortFunc(result, func(a, b Status) int { return strings.Compare(a.Name, b.Name) })
	return result
}

// Ready reports an error until the service has been started.
func (s *Service) Ready(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return errors.New("service not started")
	}
	return nil
}
