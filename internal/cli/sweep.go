package cli

import (
	"github.com/spf13/cobra"

	"github.com/d3clan/dynamic-branch-env/internal/app"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSweep()
		},
	}

	return cmd
}
