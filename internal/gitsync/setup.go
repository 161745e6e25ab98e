package gitsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitcli"
)

// Clone prepares a working copy without merging or pushing: clone the upstream if needed, enable large-file
// support, download large-file content and register the upstream remote.
func (s *Synchronizer) Clone(ctx context.Context) (*Report, error) {
	report := &Report{Sync: s.name()}

	upstreamURL, err := s.AuthenticatedURL(ctx, &s.job.Upstream)
	if err != nil {
		return report, s.wrap(stepErr(StepCredentials, fmt.Errorf("upstream: %w", err)))
	}

	g, err := gitcli.New(s.job.WorkingDir, append(s.gitOptions, gitcli.WithLogger(s.logger))...)
	if err != nil {
		return report, s.wrap(err)
	}

	repo, err := s.acquire(ctx, g, upstreamURL, report)
	if err != nil {
		return report, s.wrap(stepErr(StepClone, err))
	}

	if err := s.prepare(ctx, g); err != nil {
		return report, s.wrap(err)
	}

	if s.job.LFSEnabled() {
		if err := g.LFSPull(ctx, ""); err != nil {
			return report, s.wrap(stepErr(StepClone, err))
		}
	}

	if err := UpsertRemote(ctx, g, s.job.Upstream.RemoteName(config.UpstreamRemote), upstreamURL); err != nil {
		return report, s.wrap(stepErr(StepRemotes, err))
	}

	report.Before = head(repo)
	report.After = report.Before
	return report, nil
}

// Setup registers the upstream, target and mirror remotes on an existing working copy.
func (s *Synchronizer) Setup(ctx context.Context) error {
	urls, err := s.resolve(ctx)
	if err != nil {
		return s.wrap(stepErr(StepCredentials, err))
	}

	g, err := gitcli.New(s.job.WorkingDir, append(s.gitOptions, gitcli.WithLogger(s.logger))...)
	if err != nil {
		return s.wrap(err)
	}

	if _, err := git.PlainOpen(g.Dir()); errors.Is(err, git.ErrRepositoryNotExists) {
		return s.wrap(stepErr(StepRemotes, fmt.Errorf("%s is not a git repository, run clone first", g.Dir())))
	} else if err != nil {
		return s.wrap(err)
	}

	return s.wrap(stepErr(StepRemotes, s.registerRemotes(ctx, g, urls)))
}

func (s *Synchronizer) wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sync %q: %w", s.name(), err)
}
