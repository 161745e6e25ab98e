package gitcli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Clone clones url into the working copy directory, checking out branch. Large
// file content is not downloaded during the clone; LFSPull does that later.
func (g *Git) Clone(ctx context.Context, url, branch string) error {
	if err := os.MkdirAll(filepath.Dir(g.dir), 0o755); err != nil {
		return err
	}

	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, g.dir)

	_, err := g.run(ctx, "", []string{"GIT_LFS_SKIP_SMUDGE=1"}, args...)
	return err
}

func (g *Git) SetConfig(ctx context.Context, key, value string) error {
	_, err := g.Run(ctx, "config", key, value)
	return err
}

// Remotes returns the fetch URL of every configured remote, keyed by name.
func (g *Git) Remotes(ctx context.Context) (map[string]string, error) {
	res, err := g.Run(ctx, "remote", "-v")
	if err != nil {
		return nil, err
	}
	return parseRemotes(res.Stdout), nil
}

func parseRemotes(out string) map[string]string {
	remotes := make(map[string]string)
	for line := range strings.SplitSeq(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if len(fields) == 3 && fields[2] != "(fetch)" {
			continue
		}
		remotes[fields[0]] = fields[1]
	}
	return remotes
}

func (g *Git) AddRemote(ctx context.Context, name, url string) error {
	_, err := g.Run(ctx, "remote", "add", name, url)
	return err
}

func (g *Git) SetRemoteURL(ctx context.Context, name, url string) error {
	_, err := g.Run(ctx, "remote", "set-url", name, url)
	return err
}

func (g *Git) RemoveRemote(ctx context.Context, name string) error {
	_, err := g.Run(ctx, "remote", "remove", name)
	return err
}

func (g *Git) Fetch(ctx context.Context, remote, branch string) error {
	_, err := g.Run(ctx, "fetch", remote, branch)
	return err
}

// Merge merges ref into the current branch, settling content conflicts in
// favour of side ("theirs" or "ours"). Histories without a common ancestor are
// accepted.
func (g *Git) Merge(ctx context.Context, ref, side, message string) error {
	_, err := g.Run(ctx, "merge", ref, "--allow-unrelated-histories", "-X", side, "-m", message)
	return err
}

// UnmergedPaths lists paths left in conflict by the last merge.
func (g *Git) UnmergedPaths(ctx context.Context) ([]string, error) {
	res, err := g.Run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return lines(res.Stdout), nil
}

// CheckoutSide replaces path with its version from side ("theirs" or "ours").
func (g *Git) CheckoutSide(ctx context.Context, side, path string) error {
	_, err := g.Run(ctx, "checkout", "--"+side, "--", path)
	return err
}

// CheckoutFrom replaces path in the index and the working tree with its
// version at ref.
func (g *Git) CheckoutFrom(ctx context.Context, ref, path string) error {
	_, err := g.Run(ctx, "checkout", ref, "--", path)
	return err
}

// Remove deletes path from the index and the working tree. A path that is
// already gone is not an error.
func (g *Git) Remove(ctx context.Context, path string) error {
	_, err := g.Run(ctx, "rm", "--quiet", "--force", "--ignore-unmatch", "--", path)
	return err
}

// RevParse resolves ref to a commit hash.
func (g *Git) RevParse(ctx context.Context, ref string) (string, error) {
	res, err := g.Run(ctx, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// MergeBase returns the best common ancestor of a and b, or "" when their
// histories are unrelated.
func (g *Git) MergeBase(ctx context.Context, a, b string) (string, error) {
	res, err := g.Run(ctx, "merge-base", a, b)
	if err != nil {
		if res != nil && res.ExitCode == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// ChangedPaths lists the paths that differ between the commits from and to.
// Renames are reported as a deletion and an addition.
func (g *Git) ChangedPaths(ctx context.Context, from, to string) ([]string, error) {
	res, err := g.Run(ctx, "diff", "--name-only", "--no-renames", "-z", from, to)
	if err != nil {
		return nil, err
	}
	return fields0(res.Stdout), nil
}

// TrackedPaths lists every file in the tree of ref.
func (g *Git) TrackedPaths(ctx context.Context, ref string) ([]string, error) {
	res, err := g.Run(ctx, "ls-tree", "-r", "--name-only", "-z", ref)
	if err != nil {
		return nil, err
	}
	return fields0(res.Stdout), nil
}

// HasPath reports whether path exists in the tree of ref.
func (g *Git) HasPath(ctx context.Context, ref, path string) (bool, error) {
	res, err := g.Run(ctx, "cat-file", "-e", ref+":"+path)
	if err != nil {
		if res != nil && res.ExitCode > 0 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MergeInProgress reports whether a merge is waiting to be concluded by a
// commit.
func (g *Git) MergeInProgress() bool {
	_, err := os.Stat(filepath.Join(g.dir, ".git", "MERGE_HEAD"))
	return err == nil
}

// Status returns `git status --porcelain` output, empty for a clean tree.
func (g *Git) Status(ctx context.Context) (string, error) {
	res, err := g.Run(ctx, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (g *Git) AddAll(ctx context.Context) error {
	_, err := g.Run(ctx, "add", "-A")
	return err
}

func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.Run(ctx, "commit", "-m", message)
	return err
}

// Push pushes the local branch to branch on remote.
func (g *Git) Push(ctx context.Context, remote, local, branch string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, remote, local+":refs/heads/"+branch)
	_, err := g.Run(ctx, args...)
	return err
}

// RemoteHead returns the commit branch points at on remote, or "" when the
// branch does not exist there.
func (g *Git) RemoteHead(ctx context.Context, remote, branch string) (string, error) {
	res, err := g.Run(ctx, "ls-remote", remote, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	for _, line := range lines(res.Stdout) {
		if fields := strings.Fields(line); len(fields) == 2 {
			return fields[0], nil
		}
	}
	return "", nil
}

func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	res, err := g.Run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (g *Git) LFSInstall(ctx context.Context) error {
	_, err := g.Run(ctx, "lfs", "install", "--local")
	return err
}

func (g *Git) LFSFetch(ctx context.Context, remote, ref string) error {
	_, err := g.Run(ctx, "lfs", "fetch", remote, ref)
	return err
}

func (g *Git) LFSPull(ctx context.Context, remote string) error {
	args := []string{"lfs", "pull"}
	if remote != "" {
		args = append(args, remote)
	}
	_, err := g.Run(ctx, args...)
	return err
}

// LFSPush uploads large-file objects referenced by ref to remote. With all set,
// objects referenced anywhere in the history of ref are pushed.
func (g *Git) LFSPush(ctx context.Context, remote, ref string, all bool) error {
	args := []string{"lfs", "push"}
	if all {
		args = append(args, "--all")
	}
	args = append(args, remote, ref)
	_, err := g.Run(ctx, args...)
	return err
}

// fields0 splits NUL terminated output.
func fields0(s string) []string {
	var out []string
	for f := range strings.SplitSeq(s, "\x00") {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func lines(s string) []string {
	var out []string
	for line := range strings.SplitSeq(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
