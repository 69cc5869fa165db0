package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nport/pkg/archive"
	"github.com/the-maldridge/nport/pkg/graph"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Update the ports tree and re-import changed ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Sync.URL == "" {
				a.l.Info("No sync url configured, re-importing local tree")
				return a.loadGraph(true)
			}
			changed, err := a.mgr.Sync()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d paths changed\n", len(changed))
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <package>",
		Short: "Show a port and its install state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadGraph(false); err != nil {
				return err
			}
			d, err := a.mgr.Descriptor(args[0])
			if err != nil {
				return err
			}
			g := a.mgr.Graph()
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "name:        %s\n", d.Name)
			fmt.Fprintf(w, "version:     %s\n", d.Version)
			if d.Category != "" {
				fmt.Fprintf(w, "category:    %s\n", d.Category)
			}
			if d.Description != "" {
				fmt.Fprintf(w, "description: %s\n", d.Description)
			}
			if d.BuildSystem != "" {
				fmt.Fprintf(w, "build:       %s\n", d.BuildSystem)
			}
			var deps []string
			for _, r := range g.Dependencies(d.Name) {
				s := r.String()
				if r.Optional {
					s += " (optional)"
				}
				deps = append(deps, s)
			}
			if len(deps) > 0 {
				fmt.Fprintf(w, "requires:    %s\n", strings.Join(deps, ", "))
			}
			if rdeps := g.ReverseDependencies(d.Name, false); len(rdeps) > 0 {
				fmt.Fprintf(w, "required by: %s\n", strings.Join(rdeps, ", "))
			}

			e, ok, err := a.ledger.Get(d.Name)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(w, "installed:   %s (%s, %d files)\n", e.Version, e.InstalledAt.Format(time.RFC3339), len(e.Files))
				if e.Degraded {
					fmt.Fprintln(w, "             built without full isolation")
				}
			}
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Find ports by name or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadGraph(false); err != nil {
				return err
			}
			g := a.mgr.Graph()
			hits := g.Search(args[0], category)
			if len(hits) == 0 {
				return fmt.Errorf("no ports match %q", args[0])
			}
			w := cmd.OutOrStdout()
			for _, name := range hits {
				meta, _ := g.Node(name)
				fmt.Fprintf(w, "%s-%s\t%s\t%s\n", name, meta[graph.MetaVersion], meta[graph.MetaCategory], meta[graph.MetaDescription])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only search this category")
	return cmd
}

func newListCmd() *cobra.Command {
	var files, ports bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if ports {
				if err := a.loadGraph(false); err != nil {
					return err
				}
				g := a.mgr.Graph()
				for _, name := range g.Nodes() {
					meta, _ := g.Node(name)
					mark := " "
					if a.ledger.Installed(name) {
						mark = "*"
					}
					fmt.Fprintf(w, "%s %s-%s\n", mark, name, meta[graph.MetaVersion])
				}
				return nil
			}

			entries, err := a.ledger.List()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s-%s\n", e.Name, e.Version)
				if files {
					for _, f := range e.Files {
						fmt.Fprintf(w, "\t%s\n", f)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&files, "files", false, "Also list each package's files")
	cmd.Flags().BoolVar(&ports, "ports", false, "List every port, marking installed ones with *")
	return cmd
}

func newPackagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List the built package archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx := archive.NewIndex(a.l)
			if err := idx.Load(a.cfg.Paths.Packages); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range idx.Names() {
				e, _ := idx.Get(name)
				fmt.Fprintf(w, "%s-%s\t%s\n", e.Name, e.Version, e.Path)
			}
			return nil
		},
	}
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Roll back installs interrupted by a crash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			done, err := a.inst.Recover()
			for _, d := range done {
				fmt.Fprintln(cmd.OutOrStdout(), "recovered:", d)
			}
			return err
		},
	}
}
