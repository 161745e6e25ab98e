package gitsync

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitcli"
	"github.com/datasetsync/hfsync/internal/gitsync"
)

const (
	StrategyTheirs = config.StrategyTheirs
	StrategyOurs   = config.StrategyOurs
)

const targetSecret = "target"

// ConfigurationError reports a missing or placeholder credential. It is
// returned before any git invocation.
type ConfigurationError = config.ConfigurationError

// InvocationError reports a git invocation that exited non-zero. Credentials
// are redacted from its fields.
type InvocationError = gitcli.InvocationError

// Report describes the outcome of one Sync call.
type Report struct {
	Cloned    bool     // The working copy was created by this call.
	Before    string   // HEAD before the merge.
	After     string   // HEAD after the commit step.
	Committed bool     // A merge commit was created.
	Pushed    []string // Remote names pushed to, target first.
	Duration  time.Duration
}

type options struct {
	dir      string
	strategy string
	message  string
	username string
	lfs      bool
	identity config.Identity
	mirrors  []*config.Remote
	git      []gitcli.Option
}

type Option func(*options)

// WithDir sets the working copy, by default the current directory.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithStrategy sets the side that wins merge conflicts: StrategyTheirs
// (default) or StrategyOurs.
func WithStrategy(strategy string) Option {
	return func(o *options) { o.strategy = strategy }
}

func WithMessage(message string) Option {
	return func(o *options) { o.message = message }
}

// WithUsername sets the user name sent with the credential. It defaults to
// the owner of the target repository.
func WithUsername(username string) Option {
	return func(o *options) { o.username = username }
}

func WithLFS(enabled bool) Option {
	return func(o *options) { o.lfs = enabled }
}

func WithIdentity(name, email string) Option {
	return func(o *options) { o.identity = config.Identity{Name: name, Email: email} }
}

// WithMirror adds a remote that receives the same forced push as the target.
func WithMirror(name, url string) Option {
	return func(o *options) { o.mirrors = append(o.mirrors, &config.Remote{Name: name, URL: url}) }
}

// WithGitBinary runs the given git executable instead of the one on PATH.
func WithGitBinary(path string) Option {
	return func(o *options) { o.git = append(o.git, gitcli.WithBinary(path)) }
}

// Sync merges branch of upstreamURL into the working copy and force-pushes the
// result to targetURL. An empty branch means "main".
func Sync(ctx context.Context, upstreamURL, targetURL, credential, branch string, opts ...Option) (*Report, error) {
	o := options{
		dir:      ".",
		strategy: StrategyTheirs,
		message:  config.DefaultCommitMessage,
		lfs:      true,
		identity: config.DefaultIdentity,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := config.NewEnvironment(map[string]string{"credential": credential}).Require("credential"); err != nil {
		return nil, err
	}

	job := &config.Sync{
		WorkingDir:    o.dir,
		Branch:        cmp.Or(branch, config.DefaultBranch),
		Upstream:      config.Remote{URL: upstreamURL},
		Target:        config.Remote{URL: targetURL},
		Mirrors:       o.mirrors,
		Strategy:      o.strategy,
		CommitMessage: o.message,
		LFS:           &o.lfs,
	}

	name := filepath.Base(filepath.Clean(o.dir))
	root := &config.Root{Syncs: map[string]*config.Sync{name: job}}

	if isHTTP(targetURL) {
		// Secret values expand ${VAR}; $$ keeps a literal $.
		value := map[string]any{"type": "token_auth", "token": strings.ReplaceAll(credential, "$", "$$")}
		if o.username != "" {
			value["username"] = o.username
		}
		root.Secrets = map[string]*config.Secret{targetSecret: {Value: value}}
		job.Target.Credentials = &config.SecretRef{Name: targetSecret}
	}

	if err := root.Init(); err != nil {
		return nil, fmt.Errorf("sync %q: %w", name, err)
	}

	r, err := gitsync.New(job, gitsync.WithIdentity(o.identity), gitsync.WithGitOptions(o.git...)).Execute(ctx)
	if r == nil {
		return nil, err
	}
	return &Report{
		Cloned:    r.Cloned,
		Before:    r.Before,
		After:     r.After,
		Committed: r.Committed,
		Pushed:    r.Pushed,
		Duration:  r.Duration,
	}, err
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
