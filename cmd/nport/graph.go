package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nport/pkg/graph"
)

func newGraphCmd() *cobra.Command {
	var optional bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the dependency graph",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			return a.loadGraph(false)
		},
	}
	cmd.PersistentFlags().BoolVar(&optional, "optional", false, "Follow optional dependencies")

	order := &cobra.Command{
		Use:   "order <package>...",
		Short: "Print the install order of packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.mgr.Graph().InstallOrder(args, optional)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(o, "\n"))
			return nil
		},
	}

	uninstall := &cobra.Command{
		Use:   "uninstall-order <package>...",
		Short: "Print the removal order of packages and their dependents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.mgr.Graph().UninstallOrder(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(o, "\n"))
			return nil
		},
	}

	cycles := &cobra.Command{
		Use:   "cycles",
		Short: "Report a dependency cycle if there is one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.mgr.Graph().FindCycle(nil, optional)
			if c == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no cycles")
				return nil
			}
			return graph.ErrCycle{Cycle: c}
		},
	}

	conflicts := &cobra.Command{
		Use:   "conflicts",
		Short: "Report incompatible version constraints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.mgr.Graph().DetectConflicts(nil)
			if len(c) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no conflicts")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(c); err != nil {
				return err
			}
			return graph.ErrConflict{Conflicts: c}
		},
	}

	missing := &cobra.Command{
		Use:   "missing",
		Short: "List requirements on packages that are not in the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, e := range a.mgr.Graph().Missing() {
				opt := ""
				if e.Optional {
					opt = " (optional)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s%s\n", e.From, e.Requirement, opt)
			}
			return nil
		},
	}

	dot := &cobra.Command{
		Use:   "dot",
		Short: "Print the graph in Graphviz format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), a.mgr.Graph().DOT(optional))
			return nil
		},
	}

	cmd.AddCommand(order, uninstall, cycles, conflicts, missing, dot)
	return cmd
}
