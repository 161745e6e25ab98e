package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitsync"
)

func newCloneCommand(g *globals) *cobra.Command {
	var jobs jobFlags

	cmd := &cobra.Command{
		Use:   "clone [NAME...]",
		Short: "Clone the upstream into the working copy without merging or pushing",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, selected, err := selectJobs(g, &jobs, args)
			if err != nil {
				return err
			}

			return forEachJob(cmd.Context(), selected, 1, func(ctx context.Context, job *config.Sync) error {
				report, err := gitsync.New(job, gitsync.WithIdentity(root.GetIdentity()), gitsync.WithLogger(g.log)).Clone(ctx)
				if err != nil {
					return err
				}
				if report.Cloned {
					fmt.Fprintf(g.stdout, "%s: cloned into %s at %s\n", job.Name, job.WorkingDir, short(report.After))
				} else {
					fmt.Fprintf(g.stdout, "%s: %s already cloned at %s\n", job.Name, job.WorkingDir, short(report.After))
				}
				return nil
			})
		},
	}

	jobs.register(cmd.Flags())

	return cmd
}

func newSetupCommand(g *globals) *cobra.Command {
	var jobs jobFlags

	cmd := &cobra.Command{
		Use:   "setup [NAME...]",
		Short: "Register the upstream, target and mirror remotes on existing working copies",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, selected, err := selectJobs(g, &jobs, args)
			if err != nil {
				return err
			}

			return forEachJob(cmd.Context(), selected, 1, func(ctx context.Context, job *config.Sync) error {
				if err := gitsync.New(job, gitsync.WithIdentity(root.GetIdentity()), gitsync.WithLogger(g.log)).Setup(ctx); err != nil {
					return err
				}
				fmt.Fprintf(g.stdout, "%s: remotes configured in %s\n", job.Name, job.WorkingDir)
				return nil
			})
		},
	}

	jobs.register(cmd.Flags())

	return cmd
}
