package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/gitsync"
	"github.com/datasetsync/hfsync/internal/progress"
)

func newSyncCommand(g *globals) *cobra.Command {
	var (
		jobs     jobFlags
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "sync [NAME...]",
		Short: "Merge the upstream into the working copy and push it to the target",
		Long: `Synchronize the named jobs, or every configured job, once: clone the upstream
if the working copy is missing, fetch and merge the upstream branch, commit the
result and force-push it to the target and its mirrors.

With --upstream a single ad-hoc job is built from flags instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, selected, err := selectJobs(g, &jobs, args)
			if err != nil {
				return err
			}

			bar := jobsBar(g.stderr, len(selected), "syncing")
			defer bar.Finish()

			return forEachJob(cmd.Context(), selected, parallel, func(ctx context.Context, job *config.Sync) error {
				defer bar.Add(1)

				report, err := gitsync.New(job, gitsync.WithIdentity(root.GetIdentity()), gitsync.WithLogger(g.log)).Execute(ctx)
				if err != nil {
					return err
				}

				switch {
				case report.Committed:
					fmt.Fprintf(g.stdout, "%s: merged upstream into %s, pushed to %v\n", job.Name, short(report.After), report.Pushed)
				case report.Changed():
					fmt.Fprintf(g.stdout, "%s: fast-forwarded to %s, pushed to %v\n", job.Name, short(report.After), report.Pushed)
				default:
					fmt.Fprintf(g.stdout, "%s: up to date at %s\n", job.Name, short(report.After))
				}
				return nil
			})
		},
	}

	jobs.register(cmd.Flags())
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "number of jobs synchronized concurrently")

	return cmd
}

// selectJobs loads the configuration and picks the jobs named in args.
func selectJobs(g *globals, jobs *jobFlags, args []string) (*config.Root, []*config.Sync, error) {
	if jobs.adhoc() && len(args) > 0 {
		return nil, nil, fmt.Errorf("%w: job names cannot be combined with --upstream", errUsage)
	}

	root, err := jobs.load(g)
	if err != nil {
		return nil, nil, err
	}

	selected, err := root.Select(args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	if len(selected) == 0 {
		return nil, nil, fmt.Errorf("%w: no syncs configured", errInvalidConfig)
	}
	return root, selected, nil
}

// forEachJob runs fn for every job, at most parallel at a time, and joins the
// errors of all failed jobs. A failing job does not stop the others.
func forEachJob(ctx context.Context, jobs []*config.Sync, parallel int, fn func(context.Context, *config.Sync) error) error {
	var (
		eg   errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	eg.SetLimit(max(parallel, 1))

	for _, job := range jobs {
		eg.Go(func() error {
			if err := fn(ctx, job); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = eg.Wait()
	return errors.Join(errs...)
}

func jobsBar(out io.Writer, n int, description string) *progress.Bar {
	if n < 2 {
		return nil
	}
	bar := progress.New(out, description)
	bar.AddMax(n)
	return bar
}

func short(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	if h == "" {
		return "(empty)"
	}
	return h
}
