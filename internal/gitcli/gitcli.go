// Package gitcli runs the git and git-lfs command line tools against a working
// copy. Every invocation blocks until the process exits; a running process is
// never interrupted, the context is only consulted before it starts.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cli/safeexec"

	"github.com/datasetsync/hfsync/internal/logging"
)

// Result holds the captured output of one git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// InvocationError reports a git invocation that could not be started or exited
// non-zero. Args, Stdout and Stderr have credentials redacted.
type InvocationError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Stderr); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Git runs git commands in a single working copy.
type Git struct {
	bin string
	dir string
	env []string
	log *logging.Logger
}

type Option func(*Git)

// WithBinary overrides the git executable found on PATH.
func WithBinary(path string) Option {
	return func(g *Git) { g.bin = path }
}

func WithLogger(log *logging.Logger) Option {
	return func(g *Git) { g.log = log }
}

// New returns a Git bound to the working copy dir. The directory does not need
// to exist yet; Clone creates it.
func New(dir string, opts ...Option) (*Git, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	g := &Git{
		dir: abs,
		env: []string{"GIT_TERMINAL_PROMPT=0", "GIT_MERGE_AUTOEDIT=no"},
		log: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.bin == "" {
		g.bin, err = findGitBin()
		if err != nil {
			return nil, fmt.Errorf("could not find 'git' executable (is it in your PATH?): %w", err)
		}
	}

	return g, nil
}

// Dir returns the absolute path of the working copy.
func (g *Git) Dir() string {
	return g.dir
}

// Run executes `git -C <dir> args...`.
func (g *Git) Run(ctx context.Context, args ...string) (*Result, error) {
	return g.run(ctx, g.dir, nil, args...)
}

func (g *Git) run(ctx context.Context, dir string, env []string, args ...string) (*Result, error) {
	redacted := RedactAll(args)

	if err := ctx.Err(); err != nil {
		return nil, &InvocationError{Args: redacted, ExitCode: -1, Err: err}
	}

	var full []string
	if dir != "" {
		full = append(full, "-C", dir)
	}
	full = append(full, args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(g.bin, full...)
	cmd.Env = append(append(os.Environ(), g.env...), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.log.Debugf("running git %s", strings.Join(redacted, " "))
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if out := strings.TrimSpace(result.Stdout); out != "" {
		g.log.Debugf("  stdout: %s", Redact(out))
	}
	if out := strings.TrimSpace(result.Stderr); out != "" {
		g.log.Debugf("  stderr: %s", Redact(out))
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			result.ExitCode = -1
		}
		return result, &InvocationError{
			Args:     redacted,
			ExitCode: result.ExitCode,
			Stdout:   Redact(result.Stdout),
			Stderr:   Redact(result.Stderr),
			Err:      err,
		}
	}

	return result, nil
}

func findGitBin() (string, error) {
	gitBin, err := safeexec.LookPath("git")
	if err != nil {
		return "", err
	}

	return filepath.Abs(gitBin)
}
