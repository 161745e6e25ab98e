package gitsync_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitcli"
	"github.com/datasetsync/hfsync/internal/gitcli/gitclitest"
	"github.com/datasetsync/hfsync/internal/gitsync"
)

type fixture struct {
	root     string
	upstream string // bare
	target   string // bare
	seed     string // working copy pushing to upstream
	work     string // synchronizer working copy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	f := &fixture{
		root:     root,
		upstream: filepath.Join(root, "upstream.git"),
		target:   filepath.Join(root, "target.git"),
		seed:     filepath.Join(root, "seed"),
		work:     filepath.Join(root, "work"),
	}

	run(t, root, "init", "--quiet", "--bare", "--initial-branch=main", f.upstream)
	run(t, root, "init", "--quiet", "--bare", "--initial-branch=main", f.target)
	run(t, root, "init", "--quiet", "--initial-branch=main", f.seed)

	writeFile(t, f.seed, "README.md", "# dataset\n")
	writeFile(t, f.seed, "data.csv", "id,value\n1,upstream\n")
	commitAll(t, f.seed, "initial")
	run(t, f.seed, "remote", "add", "origin", f.upstream)
	run(t, f.seed, "push", "--quiet", "origin", "main")

	return f
}

func (f *fixture) job(strategy string) *config.Sync {
	lfs := false
	return &config.Sync{
		Name:       "data",
		WorkingDir: f.work,
		Upstream:   config.Remote{URL: f.upstream},
		Target:     config.Remote{URL: f.target},
		Strategy:   strategy,
		LFS:        &lfs,
	}
}

// pushUpstream commits content to path in the seed copy and pushes it upstream.
func (f *fixture) pushUpstream(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, f.seed, path, content)
	commitAll(t, f.seed, "upstream change to "+path)
	run(t, f.seed, "push", "--quiet", "origin", "main")
}

func (f *fixture) targetHead(t *testing.T) string {
	t.Helper()
	return run(t, f.root, "--git-dir", f.target, "rev-parse", "refs/heads/main")
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	args = append([]string{"-C", dir, "-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func commitAll(t *testing.T, dir, message string) {
	t.Helper()
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "--quiet", "-m", message)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	bs, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(bs)
}

func TestSyncFromEmptyWorkingCopy(t *testing.T) {
	f := newFixture(t)

	report, err := gitsync.New(f.job(config.StrategyTheirs)).Execute(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if !report.Cloned {
		t.Error("expected the working copy to be cloned")
	}
	if report.Committed {
		t.Error("expected no commit for a fresh clone")
	}
	if diff := cmp.Diff([]string{config.TargetRemote}, report.Pushed); diff != "" {
		t.Errorf("unexpected pushed remotes (-want +got):\n%s", diff)
	}

	local := run(t, f.work, "rev-parse", "HEAD")
	if report.After != local {
		t.Errorf("expected report HEAD %s, got %s", local, report.After)
	}
	if tip := f.targetHead(t); tip != local {
		t.Errorf("expected target/main %s to equal local main %s", tip, local)
	}
}

func TestSyncTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	s := gitsync.New(f.job(config.StrategyTheirs))

	if _, err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	report, err := s.Execute(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if report.Cloned {
		t.Error("expected the existing working copy to be reused")
	}
	if report.Committed || report.Changed() {
		t.Errorf("expected second run to be a no-op, got %+v", report)
	}

	remotes := run(t, f.work, "remote")
	if diff := cmp.Diff([]string{"origin", "target", "upstream"}, strings.Fields(remotes)); diff != "" {
		t.Errorf("unexpected remotes (-want +got):\n%s", diff)
	}
}

func TestSyncConflictStrategy(t *testing.T) {
	for _, tc := range []struct {
		strategy string
		exp      string
	}{
		{strategy: config.StrategyTheirs, exp: "id,value\n1,upstream-v2\n"},
		{strategy: config.StrategyOurs, exp: "id,value\n1,local\n"},
	} {
		t.Run(tc.strategy, func(t *testing.T) {
			f := newFixture(t)
			s := gitsync.New(f.job(tc.strategy))

			if _, err := s.Execute(t.Context()); err != nil {
				t.Fatal(err)
			}

			writeFile(t, f.work, "data.csv", "id,value\n1,local\n")
			commitAll(t, f.work, "local edit")
			f.pushUpstream(t, "data.csv", "id,value\n1,upstream-v2\n")

			report, err := s.Execute(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			if !report.Changed() {
				t.Error("expected the merge to move HEAD")
			}

			if act := readFile(t, f.work, "data.csv"); act != tc.exp {
				t.Errorf("expected data.csv %q, got %q", tc.exp, act)
			}
			if tip := f.targetHead(t); tip != report.After {
				t.Errorf("expected target/main %s to equal local main %s", tip, report.After)
			}
		})
	}
}

func TestSyncNonOverlappingEdits(t *testing.T) {
	const (
		base     = "a\nb\nc\nd\ne\nf\ng\nh\n"
		local    = "LOCAL\nb\nc\nd\ne\nf\ng\nh\n"
		upstream = "a\nb\nc\nd\ne\nf\ng\nUPSTREAM\n"
	)

	for _, tc := range []struct {
		strategy string
		exp      string
	}{
		{strategy: config.StrategyTheirs, exp: upstream},
		{strategy: config.StrategyOurs, exp: local},
	} {
		t.Run(tc.strategy, func(t *testing.T) {
			f := newFixture(t)
			f.pushUpstream(t, "data.csv", base)
			s := gitsync.New(f.job(tc.strategy))

			if _, err := s.Execute(t.Context()); err != nil {
				t.Fatal(err)
			}

			writeFile(t, f.work, "data.csv", local)
			writeFile(t, f.work, "notes.txt", "local only\n")
			commitAll(t, f.work, "local edits")
			f.pushUpstream(t, "data.csv", upstream)

			report, err := s.Execute(t.Context())
			if err != nil {
				t.Fatal(err)
			}

			if act := readFile(t, f.work, "data.csv"); act != tc.exp {
				t.Errorf("expected data.csv %q, got %q", tc.exp, act)
			}
			if act := readFile(t, f.work, "notes.txt"); act != "local only\n" {
				t.Errorf("expected local-only file to survive, got %q", act)
			}
			if status := run(t, f.work, "status", "--porcelain"); status != "" {
				t.Errorf("expected clean working tree, got %q", status)
			}
			if tip := f.targetHead(t); tip != report.After {
				t.Errorf("expected target/main %s to equal local main %s", tip, report.After)
			}
			if act := run(t, f.root, "--git-dir", f.target, "show", "main:data.csv"); act+"\n" != tc.exp {
				t.Errorf("expected pushed data.csv %q, got %q", tc.exp, act)
			}
		})
	}
}

func TestSyncLocalDeletionOfUpstreamChange(t *testing.T) {
	f := newFixture(t)
	s := gitsync.New(f.job(config.StrategyTheirs))

	if _, err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	run(t, f.work, "rm", "--quiet", "data.csv")
	commitAll(t, f.work, "drop data.csv locally")
	f.pushUpstream(t, "data.csv", "id,value\n1,upstream-v2\n")

	if _, err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}
	if act := readFile(t, f.work, "data.csv"); act != "id,value\n1,upstream-v2\n" {
		t.Errorf("expected upstream data.csv to be restored, got %q", act)
	}
}

func TestSyncModifyDeleteConflict(t *testing.T) {
	f := newFixture(t)
	s := gitsync.New(f.job(config.StrategyTheirs))

	if _, err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	writeFile(t, f.work, "data.csv", "id,value\n1,local\n")
	commitAll(t, f.work, "local edit")

	run(t, f.seed, "rm", "--quiet", "data.csv")
	commitAll(t, f.seed, "drop data.csv")
	run(t, f.seed, "push", "--quiet", "origin", "main")

	report, err := s.Execute(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Committed {
		t.Error("expected a commit concluding the merge")
	}
	if _, err := os.Stat(filepath.Join(f.work, "data.csv")); !os.IsNotExist(err) {
		t.Errorf("expected data.csv to be deleted as upstream did, got %v", err)
	}
	if status := run(t, f.work, "status", "--porcelain"); status != "" {
		t.Errorf("expected clean working tree, got %q", status)
	}
	if tip := f.targetHead(t); tip != report.After {
		t.Errorf("expected target/main %s to equal local main %s", tip, report.After)
	}
}

func TestSyncLFSSteps(t *testing.T) {
	f := newFixture(t)
	git := gitclitest.NewRecorder(t)

	lfs := true
	job := f.job(config.StrategyTheirs)
	job.LFS = &lfs

	s := gitsync.New(job, gitsync.WithGitOptions(gitcli.WithBinary(git.Bin)))
	if _, err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	exp := []string{
		"clone",
		"lfs install --local",
		"fetch",
		"lfs fetch upstream main",
		"merge",
		"lfs pull upstream",
		"push",
		"lfs push target main",
	}
	if diff := cmp.Diff(exp, git.Steps(t, "clone", "fetch", "merge", "push", "lfs")); diff != "" {
		t.Errorf("unexpected git steps (-want +got):\n%s", diff)
	}
	for _, call := range git.Calls(t) {
		if strings.HasPrefix(call, "clone") && !strings.Contains(call, f.upstream) {
			t.Errorf("expected clone of the upstream, got %q", call)
		}
	}
}

func TestSyncMirrors(t *testing.T) {
	f := newFixture(t)
	mirror := filepath.Join(f.root, "mirror.git")
	run(t, f.root, "init", "--quiet", "--bare", "--initial-branch=main", mirror)

	job := f.job(config.StrategyTheirs)
	job.Mirrors = []*config.Remote{{Name: "origin-github", URL: mirror}}

	report, err := gitsync.New(job).Execute(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"target", "origin-github"}, report.Pushed); diff != "" {
		t.Errorf("unexpected pushed remotes (-want +got):\n%s", diff)
	}
	if tip := run(t, f.root, "--git-dir", mirror, "rev-parse", "refs/heads/main"); tip != report.After {
		t.Errorf("expected mirror main %s to equal local main %s", tip, report.After)
	}
}

func TestSyncPushFailure(t *testing.T) {
	f := newFixture(t)
	job := f.job(config.StrategyTheirs)
	job.Target.URL = filepath.Join(f.root, "does-not-exist.git")

	_, err := gitsync.New(job).Execute(t.Context())

	var stepErr *gitsync.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != gitsync.StepPush {
		t.Fatalf("expected push step error, got %v", err)
	}
	var invErr *gitcli.InvocationError
	if !errors.As(err, &invErr) || invErr.ExitCode == 0 {
		t.Fatalf("expected failed git invocation, got %v", err)
	}
}

func credentialedJob(t *testing.T, job *config.Sync, env map[string]string) *config.Sync {
	t.Helper()

	job.Target.Credentials = &config.SecretRef{Name: "hf"}
	root := &config.Root{
		Syncs: map[string]*config.Sync{"data": job},
		Secrets: map[string]*config.Secret{
			"hf": {Value: map[string]any{"type": "token_auth", "token": "${HF_TOKEN}"}},
		},
	}
	if err := root.Init(); err != nil {
		t.Fatal(err)
	}
	root.SetEnvironment(config.NewEnvironment(env))
	return root.Syncs["data"]
}

func TestSyncCredentialCheckedBeforeGit(t *testing.T) {
	for _, tc := range []struct {
		note string
		env  map[string]string
	}{
		{note: "missing", env: map[string]string{}},
		{note: "placeholder", env: map[string]string{"HF_TOKEN": "your_actual_token_here"}},
	} {
		t.Run(tc.note, func(t *testing.T) {
			work := filepath.Join(t.TempDir(), "work")
			job := credentialedJob(t, &config.Sync{
				WorkingDir: work,
				Upstream:   config.Remote{URL: "https://huggingface.co/datasets/org/data"},
				Target:     config.Remote{URL: "https://huggingface.co/datasets/alice/data"},
			}, tc.env)

			// A git binary that cannot run proves no invocation happens.
			s := gitsync.New(job, gitsync.WithGitOptions(gitcli.WithBinary(filepath.Join(work, "no-git"))))
			_, err := s.Execute(t.Context())

			if !config.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			var stepErr *gitsync.StepError
			if !errors.As(err, &stepErr) || stepErr.Step != gitsync.StepCredentials {
				t.Fatalf("expected credentials step error, got %v", err)
			}
			if _, err := os.Stat(work); !os.IsNotExist(err) {
				t.Fatalf("expected working copy to be untouched, got %v", err)
			}
		})
	}
}

func TestSyncErrorsAreRedacted(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	job := credentialedJob(t, &config.Sync{
		WorkingDir: filepath.Join(t.TempDir(), "work"),
		Upstream:   config.Remote{URL: "https://127.0.0.1:1/datasets/org/data"},
		Target:     config.Remote{URL: "https://127.0.0.1:1/datasets/alice/data"},
	}, map[string]string{"HF_TOKEN": "hf_supersecret"})
	job.Upstream.Credentials = job.Target.Credentials

	_, err := gitsync.New(job).Execute(t.Context())
	if err == nil {
		t.Fatal("expected clone to fail")
	}
	if strings.Contains(err.Error(), "hf_supersecret") {
		t.Fatalf("token leaked into error: %v", err)
	}
}

func TestUpsertRemote(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run(t, dir, "init", "--quiet")

	g, err := gitcli.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, url := range []string{"https://example.com/one.git", "https://example.com/two.git", "https://example.com/two.git"} {
		if err := gitsync.UpsertRemote(t.Context(), g, "upstream", url); err != nil {
			t.Fatal(err)
		}
	}

	remotes, err := g.Remotes(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"upstream": "https://example.com/two.git"}, remotes); diff != "" {
		t.Fatalf("unexpected remotes (-want +got):\n%s", diff)
	}
}

func TestCloneAndSetup(t *testing.T) {
	f := newFixture(t)
	s := gitsync.New(f.job(config.StrategyTheirs))

	if err := s.Setup(t.Context()); err == nil {
		t.Fatal("expected setup to fail before clone")
	}

	report, err := s.Clone(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Cloned || report.After == "" {
		t.Fatalf("unexpected clone report %+v", report)
	}

	if err := s.Setup(t.Context()); err != nil {
		t.Fatal(err)
	}
	if url := run(t, f.work, "remote", "get-url", "target"); url != f.target {
		t.Fatalf("expected target remote %s, got %s", f.target, url)
	}
}
