package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datasetsync/hfsync/internal/clean"
	"github.com/datasetsync/hfsync/internal/config"
)

func newCleanCommand(g *globals) *cobra.Command {
	var (
		jobs   jobFlags
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "clean [NAME...]",
		Short: "Remove everything but data files from the target repository",
		Long: `Clone the target into a temporary directory, delete every file that matches
none of the job's keep patterns, and force-push the result. The working copy
used by sync is not touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, selected, err := selectJobs(g, &jobs, args)
			if err != nil {
				return err
			}

			return forEachJob(cmd.Context(), selected, 1, func(ctx context.Context, job *config.Sync) error {
				result, err := clean.New(job,
					clean.WithIdentity(root.GetIdentity()),
					clean.WithLogger(g.log),
					clean.WithDryRun(dryRun),
				).Execute(ctx)
				if err != nil {
					return err
				}

				if dryRun {
					for _, p := range result.Deleted {
						fmt.Fprintf(g.stdout, "%s: would delete %s\n", job.Name, p)
					}
				}
				fmt.Fprintf(g.stdout, "%s: kept %d files, deleted %d files\n", job.Name, len(result.Kept), len(result.Deleted))
				return nil
			})
		},
	}

	jobs.register(cmd.Flags())
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the files that would be deleted without pushing")

	return cmd
}
