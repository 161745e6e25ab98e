package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/datasetsync/hfsync/internal/util"
)

// Internal configuration data structures for hfsync.

const (
	DefaultBranch        = "main"
	DefaultCommitMessage = "Auto-sync from upstream dataset [skip ci]"
	DefaultEnvFile       = "../.env"
	DefaultInterval      = Duration(time.Hour)
	DefaultTokenKey      = "HF_TOKEN"

	StrategyTheirs = "theirs"
	StrategyOurs   = "ours"
)

// DefaultKeep lists the files a cleaned dataset repository retains.
var DefaultKeep = StringSet{"*.parquet", "README.md", ".gitattributes", "spec.json", "dataset_info.json", "dataset_infos.json"}

// Root is the top-level configuration structure used by hfsync.
type Root struct {
	EnvFile  string             `json:"env_file,omitempty"`
	Identity *Identity          `json:"identity,omitempty"`
	Syncs    map[string]*Sync   `json:"syncs,omitempty"`
	Secrets  map[string]*Secret `json:"secrets,omitempty"` // Schema validation overrides Secret to object type.
	Service  *Service           `json:"service,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root struct. This
// lets us define syncs and secrets with mappings where keys are the resource names.
// It is also used to inject the secret store into each secret reference so that
// internal callers can resolve secret values as needed.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

// Init wires names and secret references for a Root built in code and
// validates it the same way Parse does.
func (r *Root) Init() error {
	if err := r.unmarshal(); err != nil {
		return err
	}
	return r.validate()
}

func (r *Root) unmarshal() error {
	for name := range r.Secrets {
		r.Secrets[name] = cmp.Or(r.Secrets[name], &Secret{})
		r.Secrets[name].Name = name
	}

	for name := range r.Syncs {
		s := cmp.Or(r.Syncs[name], &Sync{})
		s.Name = name
		for _, remote := range s.remotes() {
			if remote.Credentials != nil {
				remote.Credentials.value = r.Secrets[remote.Credentials.Name]
			}
		}
		r.Syncs[name] = s
	}

	return nil
}

// SetEnvironment makes env the source for ${VAR} references in every secret.
func (r *Root) SetEnvironment(env *Environment) {
	for _, s := range r.Secrets {
		s.env = env
	}
}

// EnvFilePath returns the credential env file, resolved against the current
// working directory.
func (r *Root) EnvFilePath() string {
	return cmp.Or(r.EnvFile, DefaultEnvFile)
}

func (r *Root) SortedSyncs() iter.Seq2[int, *Sync] {
	return iterator(r.Syncs, func(s *Sync) string { return s.Name })
}

// Select returns the named syncs in the given order, or every sync sorted by
// name when names is empty.
func (r *Root) Select(names ...string) ([]*Sync, error) {
	if len(names) == 0 {
		var all []*Sync
		for _, s := range r.SortedSyncs() {
			all = append(all, s)
		}
		return all, nil
	}

	selected := make([]*Sync, 0, len(names))
	for _, name := range names {
		s, ok := r.Syncs[name]
		if !ok {
			return nil, fmt.Errorf("sync %q not configured", name)
		}
		selected = append(selected, s)
	}
	return selected, nil
}

// GetIdentity returns the configured committer identity or the default one.
func (r *Root) GetIdentity() Identity {
	id := DefaultIdentity
	if r.Identity != nil {
		id.Name = cmp.Or(r.Identity.Name, id.Name)
		id.Email = cmp.Or(r.Identity.Email, id.Email)
	}
	return id
}

func (r *Root) validate() error {
	dirs := make(map[string]string, len(r.Syncs))
	for _, s := range r.SortedSyncs() {
		if err := s.validate(); err != nil {
			return fmt.Errorf("sync %q: %w", s.Name, err)
		}
		dir, err := filepath.Abs(s.WorkingDir)
		if err != nil {
			return err
		}
		if other, ok := dirs[dir]; ok {
			return fmt.Errorf("syncs %q and %q share working directory %s", other, s.Name, s.WorkingDir)
		}
		dirs[dir] = s.Name
	}
	return nil
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	return func(yield func(int, V) bool) {
		values := slices.Collect(maps.Values(m))
		slices.SortFunc(values, func(a, b V) int { return cmp.Compare(name(a), name(b)) })
		for i, v := range values {
			if !yield(i, v) {
				return
			}
		}
	}
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

// Identity is the committer name and email set on every working copy.
type Identity struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

var DefaultIdentity = Identity{
	Name:  "hfsync-bot",
	Email: "hfsync-bot@users.noreply.github.com",
}

// Sync defines one upstream to target synchronization job.
type Sync struct {
	Name          string    `json:"-"`
	WorkingDir    string    `json:"working_dir"`
	Branch        string    `json:"branch,omitempty"`
	Upstream      Remote    `json:"upstream"`
	Target        Remote    `json:"target"`
	Mirrors       []*Remote `json:"mirrors,omitempty"`
	Strategy      string    `json:"strategy,omitempty" enum:"theirs,ours"`
	CommitMessage string    `json:"commit_message,omitempty"`
	LFS           *bool     `json:"lfs,omitempty"`
	Interval      Duration  `json:"interval,omitempty"`
	Clean         *Clean    `json:"clean,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (s *Sync) GetBranch() string {
	return cmp.Or(s.Branch, DefaultBranch)
}

func (s *Sync) GetStrategy() string {
	return cmp.Or(s.Strategy, StrategyTheirs)
}

func (s *Sync) GetCommitMessage() string {
	return cmp.Or(s.CommitMessage, DefaultCommitMessage)
}

func (s *Sync) LFSEnabled() bool {
	return s.LFS == nil || *s.LFS
}

func (s *Sync) GetInterval() time.Duration {
	return time.Duration(cmp.Or(s.Interval, DefaultInterval))
}

// GetKeep returns the clean keep patterns, defaulting to DefaultKeep.
func (s *Sync) GetKeep() StringSet {
	if s.Clean == nil || len(s.Clean.Keep) == 0 {
		return DefaultKeep
	}
	return s.Clean.Keep
}

// MirrorRemoteName returns the git remote name used for the i-th mirror.
func (s *Sync) MirrorRemoteName(i int) string {
	return s.Mirrors[i].RemoteName(fmt.Sprintf("mirror%d", i))
}

func (s *Sync) remotes() []*Remote {
	return append([]*Remote{&s.Upstream, &s.Target}, s.Mirrors...)
}

func (s *Sync) validate() error {
	if s.WorkingDir == "" {
		return errors.New("working_dir is required")
	}
	if s.Upstream.URL == "" {
		return errors.New("upstream url is required")
	}
	if s.Target.URL == "" {
		return errors.New("target url is required")
	}
	switch s.GetStrategy() {
	case StrategyTheirs, StrategyOurs:
	default:
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}

	names := map[string]struct{}{s.Upstream.RemoteName(UpstreamRemote): {}, s.Target.RemoteName(TargetRemote): {}}
	if len(names) != 2 {
		return errors.New("upstream and target remotes must have different names")
	}
	for i, m := range s.Mirrors {
		if m == nil || m.URL == "" {
			return fmt.Errorf("mirror %d: url is required", i)
		}
		name := s.MirrorRemoteName(i)
		if _, ok := names[name]; ok {
			return fmt.Errorf("mirror %d: remote name %q already in use", i, name)
		}
		names[name] = struct{}{}
	}

	for _, r := range s.remotes() {
		if r.Credentials != nil && r.Credentials.value == nil {
			return fmt.Errorf("secret %q not found", r.Credentials.Name)
		}
	}
	return nil
}

func (s *Sync) Equal(other *Sync) bool {
	return util.FastEqual(s, other, func(s, other *Sync) bool {
		return s.Name == other.Name &&
			s.WorkingDir == other.WorkingDir &&
			s.GetBranch() == other.GetBranch() &&
			s.Upstream.Equal(&other.Upstream) &&
			s.Target.Equal(&other.Target) &&
			slices.EqualFunc(s.Mirrors, other.Mirrors, (*Remote).Equal) &&
			s.GetStrategy() == other.GetStrategy() &&
			s.GetCommitMessage() == other.GetCommitMessage() &&
			s.LFSEnabled() == other.LFSEnabled() &&
			s.Interval == other.Interval &&
			s.GetKeep().Equal(other.GetKeep())
	})
}

const (
	UpstreamRemote = "upstream"
	TargetRemote   = "target"
)

// Remote is a repository URL and the credentials used to access it.
type Remote struct {
	Name        string     `json:"name,omitempty"`
	URL         string     `json:"url"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, the URL is used as is. Note, JSON schema validation overrides this to string type.

	_ struct{} `additionalProperties:"false"`
}

// RemoteName returns the configured remote name or def.
func (r *Remote) RemoteName(def string) string {
	return cmp.Or(r.Name, def)
}

func (r *Remote) Equal(other *Remote) bool {
	return util.FastEqual(r, other, func(r, other *Remote) bool {
		return r.Name == other.Name && r.URL == other.URL && r.Credentials.Equal(other.Credentials)
	})
}

// Clean configures which files the clean command keeps in the target.
type Clean struct {
	Keep StringSet `json:"keep,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Service configures the HTTP endpoints served by `hfsync run`.
type Service struct {
	Addr string `json:"addr,omitempty"`
	// APIPrefix prefixes all endpoints (including health and metrics) with its value. It is important to start with `/` and not end with `/`.
	APIPrefix string `json:"api_prefix,omitempty" pattern:"^/([^/].*[^/])?$"`

	_ struct{} `additionalProperties:"false"`
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

type StringSet []string

func (a StringSet) Equal(b StringSet) bool {
	return util.SetEqual(a, b, func(s string) string { return s }, func(a, b string) bool { return a == b })
}

type SecretRef struct {
	Name  string `json:"-"`
	value *Secret
}

func (s *SecretRef) MarshalYAML() (any, error) {
	if s.Name == "" {
		return nil, nil
	}
	return s.Name, nil
}

func (s *SecretRef) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *SecretRef) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("expected scalar node: %w", err)
	}
	return nil
}

func (s *SecretRef) UnmarshalJSON(bs []byte) error {
	if err := json.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("failed to unmarshal SecretRef: %w", err)
	}

	return nil
}

func (s *SecretRef) Equal(other *SecretRef) bool {
	return util.FastEqual(s, other, func(s, other *SecretRef) bool {
		return s.Name == other.Name && s.value.Equal(other.value)
	})
}

// ParseFile reads and parses the given configuration files. Several files, or
// a directory of YAML files, are merged first.
func ParseFile(filenames ...string) (*Root, error) {
	if len(filenames) == 1 {
		if fi, err := os.Stat(filenames[0]); err == nil && !fi.IsDir() {
			bs, err := os.ReadFile(filenames[0])
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", filenames[0], err)
			}
			return Parse(bs)
		}
	}

	bs, err := Merge(filenames, true)
	if err != nil {
		return nil, err
	}
	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := root.validate(); err != nil {
		return nil, err
	}

	return &root, nil
}
