// Package gitclitest provides a git executable for tests that records every
// invocation and answers git-lfs subcommands with success, so large-file steps
// run without git-lfs installed.
package gitclitest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Recorder is a wrapper script around the real git binary.
type Recorder struct {
	Bin string // Path to pass to gitcli.WithBinary.
	log string
}

// NewRecorder writes the wrapper into a temporary directory. The test is
// skipped when git or a POSIX shell is unavailable.
func NewRecorder(t *testing.T) *Recorder {
	t.Helper()

	git, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git not available")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	r := &Recorder{
		Bin: filepath.Join(dir, "git"),
		log: filepath.Join(dir, "calls.log"),
	}

	script := fmt.Sprintf(`#!%s
( [ "$1" = "-C" ] && shift 2; echo "$*" ) >> %q
if [ "$1" = "lfs" ] || { [ "$1" = "-C" ] && [ "$3" = "lfs" ]; }; then
	exit 0
fi
exec %q "$@"
`, sh, r.log, git)

	if err := os.WriteFile(r.Bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return r
}

// Calls returns the arguments of every invocation so far, one string per call,
// without the leading -C <dir>.
func (r *Recorder) Calls(t *testing.T) []string {
	t.Helper()

	bs, err := os.ReadFile(r.log)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}

	var calls []string
	for line := range strings.SplitSeq(strings.TrimSpace(string(bs)), "\n") {
		if line != "" {
			calls = append(calls, line)
		}
	}
	return calls
}

// Steps reduces the recorded calls to the subcommands named in keep. A git-lfs
// call is reported in full, any other call by its subcommand alone.
func (r *Recorder) Steps(t *testing.T, keep ...string) []string {
	t.Helper()

	var steps []string
	for _, call := range r.Calls(t) {
		fields := strings.Fields(call)
		if len(fields) == 0 {
			continue
		}
		for _, k := range keep {
			if fields[0] != k {
				continue
			}
			if k == "lfs" {
				steps = append(steps, call)
			} else {
				steps = append(steps, k)
			}
		}
	}
	return steps
}
