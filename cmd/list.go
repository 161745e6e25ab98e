package cmd

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/datasetsync/hfsync/internal/gitcli"
)

func newListCommand(g *globals) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the configured jobs",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			root, err := g.loadConfig(envFile)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(g.stdout)
			table.Header("Name", "Upstream", "Target", "Mirrors", "Branch", "Strategy", "LFS", "Interval", "Working dir")
			for _, s := range root.SortedSyncs() {
				if err := table.Append([]string{
					s.Name,
					gitcli.Redact(s.Upstream.URL),
					gitcli.Redact(s.Target.URL),
					strconv.Itoa(len(s.Mirrors)),
					s.GetBranch(),
					s.GetStrategy(),
					strconv.FormatBool(s.LFSEnabled()),
					s.GetInterval().String(),
					s.WorkingDir,
				}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "env file with credentials")

	return cmd
}
