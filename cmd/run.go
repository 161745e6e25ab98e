package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/datasetsync/hfsync/internal/config"
	"github.com/datasetsync/hfsync/internal/progress"
	"github.com/datasetsync/hfsync/internal/server"
	"github.com/datasetsync/hfsync/internal/service"
)

func newRunCommand(g *globals) *cobra.Command {
	var (
		once     bool
		addr     string
		envFile  string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every configured job on its interval",
		Long: `Run every configured job on its interval until interrupted. With --once each
job runs a single time and the exit code reflects the failures.

The HTTP endpoints (health, metrics, job status, trigger) are served on --addr
or the service.addr setting. SIGHUP reloads the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := g.loadConfig(envFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := service.New().
				WithConfig(root).
				WithLogger(g.log).
				WithSingleShot(once).
				WithParallelism(parallel)

			if once {
				bar := progress.New(g.stderr, "syncing")
				return svc.WithBar(bar).Run(ctx)
			}

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error { return svc.Run(ctx) })

			if addr == "" && root.Service != nil {
				addr = root.Service.Addr
			}
			if addr != "" {
				srv := server.New().
					WithSyncs(svc).
					WithReadyFn(svc.Ready).
					WithLogger(g.log)
				if root.Service != nil {
					srv = srv.WithAPIPrefix(root.Service.APIPrefix)
				}
				srv.Init()
				eg.Go(func() error { return srv.ListenAndServe(ctx, addr) })
			}

			eg.Go(func() error {
				reload(ctx, g, envFile, svc)
				return nil
			})

			return eg.Wait()
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run every job once and exit")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080 (default: service.addr setting)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "env file with credentials (default: env_file setting or "+config.DefaultEnvFile+")")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "number of jobs synchronized concurrently")

	return cmd
}

// reload re-reads the configuration on SIGHUP until ctx is done. An invalid
// configuration is logged and the running one kept.
func reload(ctx context.Context, g *globals, envFile string, svc *service.Service) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		root, err := g.loadConfig(envFile)
		if err != nil {
			g.log.Errorf("configuration reload failed: %v", err)
			continue
		}
		g.log.Infof("configuration reloaded")
		svc.Reconfigure(root)
	}
}
