// gitsync package implements upstream to target repository synchronization. It maintains one local working
// copy per configured sync and drives the git command line tool through it. This package implements no
// threadpooling, it is expected that the caller will handle concurrency and parallelism. The Synchronizer is
// not thread-safe and two Synchronizers must never share a working directory.
package gitsync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitcli"
	"github.com/datasetsync/hfsync/internal/logging"
	"github.com/datasetsync/hfsync/internal/metrics"
)

// Steps of a synchronization run, in execution order.
const (
	StepCredentials = "credentials"
	StepClone       = "clone"
	StepLFSInstall  = "lfs-install"
	StepIdentity    = "identity"
	StepRemotes     = "remotes"
	StepFetch       = "fetch"
	StepMerge       = "merge"
	StepCommit      = "commit"
	StepPush        = "push"
	StepVerify      = "verify"
)

// StepError wraps the failure of a single step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// Report describes the outcome of one synchronization run.
type Report struct {
	Sync      string
	Cloned    bool     // The working copy was created by this run.
	Before    string   // HEAD before the merge, empty for a fresh clone of an empty repository.
	After     string   // HEAD after the commit step.
	Committed bool     // A commit was created to record the merge.
	Pushed    []string // Remote names pushed to, target first.
	Duration  time.Duration
}

// Changed reports whether the run moved the local branch.
func (r *Report) Changed() bool {
	return r.Before != r.After
}

type Synchronizer struct {
	job        *config.Sync
	identity   config.Identity
	logger     *logging.Logger
	gitOptions []gitcli.Option
	gh         github
}

type Option func(*Synchronizer)

func WithIdentity(id config.Identity) Option {
	return func(s *Synchronizer) { s.identity = id }
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Synchronizer) { s.logger = logger }
}

// WithGitOptions passes options through to every gitcli.Git the synchronizer creates.
func WithGitOptions(opts ...gitcli.Option) Option {
	return func(s *Synchronizer) { s.gitOptions = append(s.gitOptions, opts...) }
}

// New creates a new Synchronizer for job. It is expected the threadpooling is outside of this package.
// The working directory is created by the first run if it does not exist.
func New(job *config.Sync, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		job:      job,
		identity: config.DefaultIdentity,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("sync", s.name())
	return s
}

func (s *Synchronizer) name() string {
	return cmp.Or(s.job.Name, filepath.Base(s.job.WorkingDir))
}

// Execute performs the synchronization of the configured job: clone the upstream if the working copy does
// not exist, register remotes, fetch and merge the upstream branch with the configured strategy, commit
// the result if anything changed, and force-push it to the target and every mirror.
//
// All credentials are resolved before the first git invocation, so a missing or placeholder credential
// fails the run with a config.ConfigurationError without touching the working copy.
func (s *Synchronizer) Execute(ctx context.Context) (*Report, error) {
	startTime := time.Now()
	metrics.GitSyncStarted(s.name(), startTime)

	report := &Report{Sync: s.name()}
	err := s.execute(ctx, report)
	report.Duration = time.Since(startTime)
	if err != nil {
		step := "unknown"
		var se *StepError
		if errors.As(err, &se) {
			step = se.Step
		}
		metrics.GitSyncFailed(s.name(), step)
		return report, fmt.Errorf("sync %q: git synchronizer: %v: %w", s.name(), gitcli.Redact(s.job.Target.URL), err)
	}

	metrics.GitSyncSucceeded(s.name(), startTime, report.Committed)
	return report, nil
}

// remoteURLs holds the authenticated URL of every remote of a job.
type remoteURLs struct {
	upstream string
	target   string
	mirrors  []string
}

func (s *Synchronizer) resolve(ctx context.Context) (*remoteURLs, error) {
	var urls remoteURLs
	var err error

	if urls.upstream, err = s.AuthenticatedURL(ctx, &s.job.Upstream); err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	if urls.target, err = s.AuthenticatedURL(ctx, &s.job.Target); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	for i, m := range s.job.Mirrors {
		u, err := s.AuthenticatedURL(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("mirror %s: %w", s.job.MirrorRemoteName(i), err)
		}
		urls.mirrors = append(urls.mirrors, u)
	}

	return &urls, nil
}

func (s *Synchronizer) execute(ctx context.Context, report *Report) error {
	urls, err := s.resolve(ctx)
	if err != nil {
		return stepErr(StepCredentials, err)
	}

	g, err := gitcli.New(s.job.WorkingDir, append(s.gitOptions, gitcli.WithLogger(s.logger))...)
	if err != nil {
		return err
	}

	repo, err := s.acquire(ctx, g, urls.upstream, report)
	if err != nil {
		return stepErr(StepClone, err)
	}
	report.Before = head(repo)

	if err := s.prepare(ctx, g); err != nil {
		return err
	}

	if err := stepErr(StepRemotes, s.registerRemotes(ctx, g, urls)); err != nil {
		return err
	}

	branch := s.job.GetBranch()
	upstream := s.job.Upstream.RemoteName(config.UpstreamRemote)

	s.logger.Infof("fetching %s/%s", upstream, branch)
	if err := stepErr(StepFetch, s.fetch(ctx, g, upstream, branch)); err != nil {
		return err
	}

	s.logger.Infof("merging %s/%s (strategy %s)", upstream, branch, s.job.GetStrategy())
	if err := stepErr(StepMerge, s.merge(ctx, g, upstream, branch)); err != nil {
		return err
	}

	committed, err := s.commit(ctx, g)
	if err != nil {
		return stepErr(StepCommit, err)
	}
	report.Committed = committed
	report.After = head(repo)

	if err := s.pushAll(ctx, g, report); err != nil {
		return err
	}

	s.logger.Infof("synchronized %s to %s", shortHash(report.After), gitcli.Redact(s.job.Target.URL))
	return nil
}

// acquire opens the working copy, cloning the upstream first when it does not exist.
func (s *Synchronizer) acquire(ctx context.Context, g *gitcli.Git, upstreamURL string, report *Report) (*git.Repository, error) {
	repo, err := git.PlainOpen(g.Dir())
	if errors.Is(err, git.ErrRepositoryNotExists) { // does not exist? clone it
		s.logger.Infof("cloning %s into %s", gitcli.Redact(upstreamURL), g.Dir())
		if err := g.Clone(ctx, upstreamURL, s.job.GetBranch()); err != nil {
			return nil, err
		}
		report.Cloned = true
		return git.PlainOpen(g.Dir())
	}
	return repo, err
}

// prepare enables large-file support and sets the committer identity.
func (s *Synchronizer) prepare(ctx context.Context, g *gitcli.Git) error {
	if s.job.LFSEnabled() {
		if err := g.LFSInstall(ctx); err != nil {
			return stepErr(StepLFSInstall, err)
		}
	}

	if err := g.SetConfig(ctx, "user.name", s.identity.Name); err != nil {
		return stepErr(StepIdentity, err)
	}
	return stepErr(StepIdentity, g.SetConfig(ctx, "user.email", s.identity.Email))
}

func (s *Synchronizer) registerRemotes(ctx context.Context, g *gitcli.Git, urls *remoteURLs) error {
	if err := UpsertRemote(ctx, g, s.job.Upstream.RemoteName(config.UpstreamRemote), urls.upstream); err != nil {
		return err
	}
	if err := UpsertRemote(ctx, g, s.job.Target.RemoteName(config.TargetRemote), urls.target); err != nil {
		return err
	}
	for i, u := range urls.mirrors {
		if err := UpsertRemote(ctx, g, s.job.MirrorRemoteName(i), u); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRemote points the remote name at url, adding the remote when it does
// not exist yet. Calling it repeatedly always leaves exactly one remote called
// name.
func UpsertRemote(ctx context.Context, g *gitcli.Git, name, url string) error {
	remotes, err := g.Remotes(ctx)
	if err != nil {
		return err
	}

	existing, ok := remotes[name]
	switch {
	case !ok:
		return g.AddRemote(ctx, name, url)
	case existing != url:
		return g.SetRemoteURL(ctx, name, url)
	}
	return nil
}

func (s *Synchronizer) fetch(ctx context.Context, g *gitcli.Git, remote, branch string) error {
	if err := g.Fetch(ctx, remote, branch); err != nil {
		return err
	}
	if s.job.LFSEnabled() {
		return g.LFSFetch(ctx, remote, branch)
	}
	return nil
}

// merge integrates remote/branch into the current branch. Paths that remain
// unmerged after the strategy option is applied, such as modify/delete
// conflicts, are resolved to the configured side. Every other path changed on
// both sides since the merge base also ends up with the configured side's
// version, even when the edits did not overlap. The commit step concludes the
// merge or records those resolutions.
func (s *Synchronizer) merge(ctx context.Context, g *gitcli.Git, remote, branch string) error {
	side := s.job.GetStrategy()
	incoming := remote + "/" + branch

	overlap, winner, err := overlapping(ctx, g, incoming, side)
	if err != nil {
		return err
	}

	mergeErr := g.Merge(ctx, incoming, side, s.job.GetCommitMessage())
	if mergeErr != nil {
		paths, err := g.UnmergedPaths(ctx)
		if err != nil {
			return errors.Join(mergeErr, err)
		}
		if len(paths) == 0 {
			return mergeErr
		}

		for _, p := range paths {
			s.logger.Infof("resolving conflict in %s to %s", p, side)
			if err := resolveConflict(ctx, g, side, p); err != nil {
				return err
			}
		}
	}

	for _, p := range overlap {
		s.logger.Debugf("taking %s version of %s", side, p)
		if err := resolveTo(ctx, g, winner, p); err != nil {
			return err
		}
	}

	if s.job.LFSEnabled() {
		return g.LFSPull(ctx, remote)
	}
	return nil
}

// overlapping lists the paths changed both locally and in incoming since their
// merge base, and returns the commit whose version of them must survive. For
// unrelated histories every path present on both sides counts.
func overlapping(ctx context.Context, g *gitcli.Git, incoming, side string) ([]string, string, error) {
	local, err := g.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, "", err
	}
	theirs, err := g.RevParse(ctx, incoming)
	if err != nil {
		return nil, "", err
	}

	winner := theirs
	if side == config.StrategyOurs {
		winner = local
	}

	base, err := g.MergeBase(ctx, local, theirs)
	if err != nil {
		return nil, "", err
	}

	var localPaths, incomingPaths []string
	if base == "" {
		if localPaths, err = g.TrackedPaths(ctx, local); err != nil {
			return nil, "", err
		}
		incomingPaths, err = g.TrackedPaths(ctx, theirs)
	} else {
		if localPaths, err = g.ChangedPaths(ctx, base, local); err != nil {
			return nil, "", err
		}
		incomingPaths, err = g.ChangedPaths(ctx, base, theirs)
	}
	if err != nil {
		return nil, "", err
	}

	changed := make(map[string]struct{}, len(localPaths))
	for _, p := range localPaths {
		changed[p] = struct{}{}
	}
	var both []string
	for _, p := range incomingPaths {
		if _, ok := changed[p]; ok {
			both = append(both, p)
		}
	}
	return both, winner, nil
}

// resolveConflict keeps side's version of path, or removes path when side
// deleted it.
func resolveConflict(ctx context.Context, g *gitcli.Git, side, path string) error {
	if err := g.CheckoutSide(ctx, side, path); err == nil {
		return nil
	}
	return g.Remove(ctx, path)
}

// resolveTo makes path match its version at ref, removing it when ref does not
// have it.
func resolveTo(ctx context.Context, g *gitcli.Git, ref, path string) error {
	ok, err := g.HasPath(ctx, ref, path)
	if err != nil {
		return err
	}
	if ok {
		return g.CheckoutFrom(ctx, ref, path)
	}
	return g.Remove(ctx, path)
}

func (s *Synchronizer) commit(ctx context.Context, g *gitcli.Git) (bool, error) {
	status, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	if status == "" && !g.MergeInProgress() {
		s.logger.Debugf("working tree clean, nothing to commit")
		return false, nil
	}

	if err := g.AddAll(ctx); err != nil {
		return false, err
	}
	if err := g.Commit(ctx, s.job.GetCommitMessage()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Synchronizer) pushAll(ctx context.Context, g *gitcli.Git, report *Report) error {
	branch := s.job.GetBranch()

	local, err := g.CurrentBranch(ctx)
	if err != nil {
		return stepErr(StepPush, err)
	}
	local = cmp.Or(local, "HEAD")

	remotes := []string{s.job.Target.RemoteName(config.TargetRemote)}
	for i := range s.job.Mirrors {
		remotes = append(remotes, s.job.MirrorRemoteName(i))
	}

	for _, remote := range remotes {
		s.logger.Infof("pushing %s to %s/%s", local, remote, branch)
		if err := g.Push(ctx, remote, local, branch, true); err != nil {
			return stepErr(StepPush, err)
		}
		if s.job.LFSEnabled() {
			if err := g.LFSPush(ctx, remote, local, false); err != nil {
				return stepErr(StepPush, err)
			}
		}
		report.Pushed = append(report.Pushed, remote)
	}

	// The target branch tip must equal the local tip after a forced push.
	tip, err := g.RemoteHead(ctx, remotes[0], branch)
	if err != nil {
		return stepErr(StepVerify, err)
	}
	if tip != report.After {
		return stepErr(StepVerify, fmt.Errorf("%s/%s is at %q, expected %q", remotes[0], branch, tip, report.After))
	}
	return nil
}

// head returns the commit HEAD points at, or "" when there is none yet.
func head(repo *git.Repository) string {
	ref, err := repo.Head()
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
