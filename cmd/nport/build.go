package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nport/pkg/orchestrator"
)

func newBuildCmd() *cobra.Command {
	var opts orchestrator.BuildOptions
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "build <package>",
		Short: "Build and install a package and its dependencies",
		Args:  cobra.ExactArgs(1),
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

			if dryRun {
				plan, err := a.orch.Plan(args[0], opts.IncludeOptional)
				if err != nil {
					return err
				}
				for _, p := range plan {
					state := "build"
					if p.Installed && !opts.Force {
						state = "skip"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s\n", state, p.Name)
				}
				return nil
			}

			res, err := a.orch.Build(cmd.Context(), args[0], opts)
			printResult(cmd, res)
			return err
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Rebuild and reinstall everything in the chain")
	cmd.Flags().BoolVar(&opts.ForceConflicts, "force-conflicts", false, "Proceed despite version and file conflicts")
	cmd.Flags().BoolVarP(&opts.Keep, "keep", "k", false, "Keep build directories")
	cmd.Flags().BoolVar(&opts.IncludeOptional, "optional", false, "Include optional dependencies")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be built")
	return cmd
}

func printResult(cmd *cobra.Command, res *orchestrator.Result) {
	if res == nil {
		return
	}
	w := cmd.OutOrStdout()
	if len(res.Succeeded) > 0 {
		fmt.Fprintln(w, "installed:", strings.Join(res.Succeeded, " "))
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintln(w, "already installed:", strings.Join(res.Skipped, " "))
	}
	if res.Failed != "" {
		state := "system unchanged"
		if !res.RolledBack {
			state = "rollback incomplete, run nport recover"
		}
		fmt.Fprintf(w, "failed: %s during %s (%s)\n", res.Failed, res.Stage, state)
	}
}
