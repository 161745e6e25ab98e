package cmd

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/datasetsync/hfsync/internal/config"
)

const adhocSecret = "adhoc-token"

type strategy int

const (
	strategyTheirs strategy = iota
	strategyOurs
)

var strategyIds = map[strategy][]string{
	strategyTheirs: {config.StrategyTheirs},
	strategyOurs:   {config.StrategyOurs},
}

// jobFlags describe a single job on the command line. When --upstream is
// set they replace the configuration file.
type jobFlags struct {
	upstream string
	target   string
	dir      string
	branch   string
	tokenKey string
	username string
	envFile  string
	strategy strategy
	mirrors  []string
	noLFS    bool
	message  string
}

func (f *jobFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.upstream, "upstream", "", "upstream repository URL (ad-hoc job, ignores --config)")
	fs.StringVar(&f.target, "target", "", "target repository URL")
	fs.StringVar(&f.dir, "dir", "", "local working copy")
	fs.StringVar(&f.branch, "branch", config.DefaultBranch, "branch to synchronize")
	fs.StringVar(&f.tokenKey, "token-key", config.DefaultTokenKey, "environment variable holding the target access token")
	fs.StringVar(&f.username, "username", "", "username sent with the token (default: repository owner)")
	fs.StringVar(&f.envFile, "env-file", "", "env file with credentials (default: env_file setting or "+config.DefaultEnvFile+")")
	fs.Var(enumflag.New(&f.strategy, "strategy", strategyIds, enumflag.EnumCaseInsensitive), "strategy", "conflict resolution: theirs or ours")
	fs.StringArrayVar(&f.mirrors, "mirror", nil, "additional push destination as name=url (repeatable)")
	fs.BoolVar(&f.noLFS, "no-lfs", false, "skip git lfs steps")
	fs.StringVar(&f.message, "message", config.DefaultCommitMessage, "commit message for merge results")
}

func (f *jobFlags) adhoc() bool {
	return f.upstream != ""
}

// load returns the configuration the job commands run against: an ad-hoc job
// built from flags, or the configuration files.
func (f *jobFlags) load(g *globals) (*config.Root, error) {
	if !f.adhoc() {
		return g.loadConfig(f.envFile)
	}

	root, err := f.root()
	if err != nil {
		return nil, err
	}
	if err := attachEnvironment(root); err != nil {
		return nil, err
	}
	return root, nil
}

func (f *jobFlags) root() (*config.Root, error) {
	if f.target == "" || f.dir == "" {
		return nil, fmt.Errorf("%w: --upstream requires --target and --dir", errUsage)
	}

	lfs := !f.noLFS
	job := &config.Sync{
		WorkingDir:    f.dir,
		Branch:        f.branch,
		Upstream:      config.Remote{URL: f.upstream},
		Target:        config.Remote{URL: f.target},
		Strategy:      strategyIds[f.strategy][0],
		CommitMessage: f.message,
		LFS:           &lfs,
	}

	for i, m := range f.mirrors {
		name, u, ok := strings.Cut(m, "=")
		if !ok {
			name, u = fmt.Sprintf("mirror%d", i), m
		}
		if u == "" {
			return nil, fmt.Errorf("%w: --mirror %q: url is required", errUsage, m)
		}
		job.Mirrors = append(job.Mirrors, &config.Remote{Name: name, URL: u})
	}

	root := &config.Root{
		EnvFile: f.envFile,
		Syncs:   map[string]*config.Sync{jobName(f.dir): job},
	}

	// Local and ssh targets carry their own access.
	if isHTTP(f.target) {
		value := map[string]any{"type": "token_auth", "token": "${" + f.tokenKey + "}"}
		if f.username != "" {
			value["username"] = f.username
		}
		root.Secrets = map[string]*config.Secret{adhocSecret: {Value: value}}
		job.Target.Credentials = &config.SecretRef{Name: adhocSecret}
	}

	if err := root.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	return root, nil
}

func jobName(dir string) string {
	name := filepath.Base(filepath.Clean(dir))
	if name == "." || name == string(filepath.Separator) {
		return "default"
	}
	return name
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
