// Package clean prunes a target repository down to its data files. It works on a throwaway clone of the
// target, so the synchronizer's working copy is never touched.
package clean

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitcli"
	"github.com/datasetsync/hfsync/internal/gitsync"
	"github.com/datasetsync/hfsync/internal/logging"
	"github.com/datasetsync/hfsync/internal/metrics"
)

const CommitMessage = "Clean up: remove code and config files, keep only data files"

// Result lists the files of the target branch by outcome. Paths are slash
// separated and relative to the repository root.
type Result struct {
	Kept      []string
	Deleted   []string
	Committed bool
}

type Cleaner struct {
	job      *config.Sync
	identity config.Identity
	logger   *logging.Logger
	dryRun   bool
	tmpDir   string
	sync     *gitsync.Synchronizer
	opts     []gitcli.Option
}

type Option func(*Cleaner)

func WithIdentity(id config.Identity) Option {
	return func(c *Cleaner) { c.identity = id }
}

func WithLogger(logger *logging.Logger) Option {
	return func(c *Cleaner) { c.logger = logger }
}

// WithDryRun reports what would be deleted without committing or pushing.
func WithDryRun(dryRun bool) Option {
	return func(c *Cleaner) { c.dryRun = dryRun }
}

// WithTempDir sets the parent directory of the temporary clone.
func WithTempDir(dir string) Option {
	return func(c *Cleaner) { c.tmpDir = dir }
}

func WithGitOptions(opts ...gitcli.Option) Option {
	return func(c *Cleaner) { c.opts = append(c.opts, opts...) }
}

func New(job *config.Sync, opts ...Option) *Cleaner {
	c := &Cleaner{
		job:      job,
		identity: config.DefaultIdentity,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("sync", job.Name)
	c.sync = gitsync.New(job, gitsync.WithLogger(c.logger))
	return c
}

// Execute clones the target, deletes every file that matches no keep pattern,
// removes directories left empty, and force-pushes a commit recording the
// deletions. Nothing is pushed when the target already holds only data files.
func (c *Cleaner) Execute(ctx context.Context) (*Result, error) {
	result, err := c.execute(ctx)
	if err != nil {
		metrics.CleanFailed(c.job.Name)
		return nil, fmt.Errorf("sync %q: clean %v: %w", c.job.Name, gitcli.Redact(c.job.Target.URL), err)
	}
	if !c.dryRun {
		metrics.CleanSucceeded(c.job.Name, len(result.Deleted))
	}
	return result, nil
}

func (c *Cleaner) execute(ctx context.Context) (*Result, error) {
	matchers, err := compile(c.job.GetKeep())
	if err != nil {
		return nil, err
	}

	targetURL, err := c.sync.AuthenticatedURL(ctx, &c.job.Target)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp(c.tmpDir, "hfsync-clean-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			c.logger.Warnf("failed to remove temporary clone %s: %v", tmp, err)
		}
	}()

	g, err := gitcli.New(filepath.Join(tmp, "repo"), append(c.opts, gitcli.WithLogger(c.logger))...)
	if err != nil {
		return nil, err
	}

	branch := c.job.GetBranch()
	c.logger.Infof("cloning %s", gitcli.Redact(targetURL))
	if err := g.Clone(ctx, targetURL, branch); err != nil {
		return nil, err
	}
	if c.job.LFSEnabled() {
		if err := g.LFSInstall(ctx); err != nil {
			return nil, err
		}
		if err := g.LFSPull(ctx, ""); err != nil {
			return nil, err
		}
	}

	result, err := prune(g.Dir(), matchers, c.dryRun)
	if err != nil {
		return nil, err
	}
	c.logger.Infof("kept %d files, deleted %d files", len(result.Kept), len(result.Deleted))

	if c.dryRun {
		return result, nil
	}

	if err := g.SetConfig(ctx, "user.name", c.identity.Name); err != nil {
		return nil, err
	}
	if err := g.SetConfig(ctx, "user.email", c.identity.Email); err != nil {
		return nil, err
	}

	if err := g.AddAll(ctx); err != nil {
		return nil, err
	}
	status, err := g.Status(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		c.logger.Infof("nothing to clean")
		return result, nil
	}

	if err := g.Commit(ctx, CommitMessage); err != nil {
		return nil, err
	}
	result.Committed = true

	if c.job.LFSEnabled() {
		if err := g.LFSPush(ctx, "origin", branch, true); err != nil {
			return nil, err
		}
	}
	if err := g.Push(ctx, "origin", branch, branch, true); err != nil {
		return nil, err
	}

	return result, nil
}

type matcher struct {
	pattern string
	glob    glob.Glob
	base    bool // Pattern without a separator, matched against the file name.
}

func compile(patterns []string) ([]matcher, error) {
	matchers := make([]matcher, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid keep pattern %q: %w", p, err)
		}
		matchers = append(matchers, matcher{pattern: p, glob: g, base: !strings.Contains(p, "/")})
	}
	return matchers, nil
}

// keep reports whether the slash separated relative path matches a keep pattern.
func keep(matchers []matcher, rel string) bool {
	for _, m := range matchers {
		if m.base && m.glob.Match(path.Base(rel)) {
			return true
		}
		if !m.base && m.glob.Match(rel) {
			return true
		}
	}
	return false
}

// prune deletes files under root that match no keep pattern, then removes the
// directories left empty. The .git directory is never visited.
func prune(root string, matchers []matcher, dryRun bool) (*Result, error) {
	var result Result
	var dirs []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if p != root {
				dirs = append(dirs, p)
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if keep(matchers, rel) {
			result.Kept = append(result.Kept, rel)
			return nil
		}

		result.Deleted = append(result.Deleted, rel)
		if dryRun {
			return nil
		}
		return os.Remove(p)
	})
	if err != nil {
		return nil, err
	}

	if dryRun {
		return &result, nil
	}

	// Deepest directories first, so parents emptied by their children go too.
	slices.Reverse(dirs)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			return nil, err
		}
	}

	return &result, nil
}
