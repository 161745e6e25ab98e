// Package cmd implements the hfsync command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitcli"
	"github.com/datasetsync/hfsync/internal/logging"
)

const defaultConfigFile = "hfsync.yaml"

var (
	errInvalidConfig = errors.New("invalid configuration")
	errUsage         = errors.New("usage")
)

// globals are the flags shared by every command.
type globals struct {
	configs []string
	level   logging.Level
	format  logging.Format
	stdout  io.Writer
	stderr  io.Writer
	log     *logging.Logger
}

// New builds the root command writing to stdout and stderr.
func New(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{
		level:  logging.Info,
		format: logging.Text,
		stdout: stdout,
		stderr: stderr,
	}

	root := &cobra.Command{
		Use:           "hfsync",
		Short:         "Keep dataset repositories in sync with their upstreams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			g.log = logging.NewLogger(logging.Config{Level: g.level, Format: g.format, Output: g.stderr})
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	root.PersistentFlags().StringArrayVarP(&g.configs, "config", "c", []string{defaultConfigFile}, "configuration file or directory (repeatable, files are merged)")
	root.PersistentFlags().Var(enumflag.New(&g.level, "level", logging.LevelIds, enumflag.EnumCaseInsensitive), "log-level", "log level: error, warn, info or debug")
	root.PersistentFlags().Var(enumflag.New(&g.format, "format", logging.FormatIds, enumflag.EnumCaseInsensitive), "log-format", "log format: text or json")

	root.AddCommand(
		newSyncCommand(g),
		newCloneCommand(g),
		newSetupCommand(g),
		newCleanCommand(g),
		newRunCommand(g),
		newListCommand(g),
		newVersionCommand(g),
	)

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := New(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintln(stderr, "Error:", err)
	var ie *gitcli.InvocationError
	if errors.As(err, &ie) && strings.TrimSpace(ie.Stdout) != "" {
		fmt.Fprintln(stderr, strings.TrimSpace(ie.Stdout))
	}
	return ExitCode(err)
}

// ExitCode maps err to a process exit code: the exit code of a failed git
// invocation, 2 for configuration and usage errors, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ie *gitcli.InvocationError
	if errors.As(err, &ie) && ie.ExitCode > 0 {
		return ie.ExitCode
	}

	if config.IsConfigurationError(err) || errors.Is(err, errInvalidConfig) || errors.Is(err, errUsage) {
		return 2
	}

	return 1
}

// loadConfig parses the configured files and attaches the credential
// environment. envFile overrides the env_file setting when not empty.
func (g *globals) loadConfig(envFile string) (*config.Root, error) {
	root, err := config.ParseFile(g.configs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	if envFile != "" {
		root.EnvFile = envFile
	}
	if err := attachEnvironment(root); err != nil {
		return nil, err
	}
	return root, nil
}

func attachEnvironment(root *config.Root) error {
	env, err := config.LoadEnvironment(root.EnvFilePath())
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	root.SetEnvironment(env)
	return nil
}
