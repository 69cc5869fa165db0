package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nport/pkg/orchestrator"
)

func newUpgradeCmd() *cobra.Command {
	var opts orchestrator.BuildOptions
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "upgrade [package...]",
		Short: "Rebuild installed packages that have a newer port",
		Long: `upgrade compares each installed package with its port and
rebuilds the ones whose port carries a newer version.  Without
arguments every installed package is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadGraph(false); err != nil {
				return err
			}
			if !cmd.Flags().Changed("keep") {
				opts.Keep = a.cfg.Build.Keep
			}
			if !cmd.Flags().Changed("optional") {
				opts.IncludeOptional = a.cfg.Build.Optional
			}
			w := cmd.OutOrStdout()

			if dryRun {
				stale, err := a.orch.Outdated(args)
				if err != nil {
					return err
				}
				if len(stale) == 0 {
					fmt.Fprintln(w, "everything is up to date")
				}
				for _, s := range stale {
					fmt.Fprintf(w, "%s %s -> %s\n", s.Name, s.Installed, s.Available)
				}
				return nil
			}

			res, err := a.orch.Upgrade(cmd.Context(), args, opts)
			if err == nil && len(res.Order) == 0 {
				fmt.Fprintln(w, "everything is up to date")
			}
			printResult(cmd, res)
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.ForceConflicts, "force-conflicts", false, "Proceed despite version and file conflicts")
	cmd.Flags().BoolVarP(&opts.Keep, "keep", "k", false, "Keep build directories")
	cmd.Flags().BoolVar(&opts.IncludeOptional, "optional", false, "Include optional dependencies")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "List outdated packages without building")
	return cmd
}
