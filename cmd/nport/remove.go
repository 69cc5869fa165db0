package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nport/pkg/orchestrator"
)

func newRemoveCmd() *cobra.Command {
	var opts orchestrator.RemoveOptions

	cmd := &cobra.Command{
		Use:     "remove <package>...",
		Aliases: []string{"rm"},
		Short:   "Uninstall packages",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadGraph(false); err != nil {
				return err
			}
			res, err := a.orch.Remove(cmd.Context(), args, opts)
			if res != nil && len(res.Removed) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "removed:", strings.Join(res.Removed, " "))
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Remove even if installed packages depend on it")
	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "Remove installed dependents first")
	cmd.MarkFlagsMutuallyExclusive("force", "recursive")
	return cmd
}
