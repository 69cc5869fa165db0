// Package orchestrator builds and installs packages with their
// dependencies, and removes them again.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/build"
	"github.com/the-maldridge/nport/pkg/graph"
	"github.com/the-maldridge/nport/pkg/install"
	"github.com/the-maldridge/nport/pkg/types"
	"github.com/the-maldridge/nport/pkg/version"
)

// New returns an Orchestrator.  Every collaborator has to be
// provided through the options.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{l: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) check() error {
	switch {
	case o.graph == nil:
		return ErrMisconfigured{"graph"}
	case o.ports == nil:
		return ErrMisconfigured{"descriptor source"}
	case o.builder == nil:
		return ErrMisconfigured{"builder"}
	case o.installer == nil:
		return ErrMisconfigured{"installer"}
	case o.ledger == nil:
		return ErrMisconfigured{"ledger"}
	}
	return nil
}

// Plan returns what Build would work through for target.
func (o *Orchestrator) Plan(target string, includeOptional bool) ([]PlanEntry, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	order, err := o.graph.InstallOrder([]string{target}, includeOptional)
	if err != nil {
		return nil, err
	}
	out := make([]PlanEntry, 0, len(order))
	for _, name := range order {
		e, ok, err := o.ledger.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, PlanEntry{Name: name, Installed: ok, Version: e.Version})
	}
	return out, nil
}

// Build installs target after everything it depends on.  Packages
// already in the ledger are skipped unless forced.  The first failure
// ends the run; the returned Result says what got done and what
// broke, and its error is also returned.
func (o *Orchestrator) Build(ctx context.Context, target string, opts BuildOptions) (*Result, error) {
	o.busy.Lock()
	defer o.busy.Unlock()

	res := &Result{Target: target}
	defer o.remember(res)
	if err := o.check(); err != nil {
		return res, o.fail(res, "", types.StageLoading, err)
	}
	res.Target = o.graph.Resolve(target)

	if err := o.resolve(res, []string{target}, opts); err != nil {
		return res, err
	}
	err := o.walk(ctx, res, opts, func(name string) (bool, error) {
		if opts.Force {
			return true, nil
		}
		installed, err := o.installed(name)
		return !installed, err
	})
	if err != nil {
		return res, err
	}
	o.l.Info("Build finished", "target", res.Target, "built", len(res.Succeeded), "skipped", len(res.Skipped))
	return res, nil
}

// Outdated lists installed packages whose port now carries a newer
// version.  With no targets every installed package is checked.
// Packages whose port is gone are never outdated.
func (o *Orchestrator) Outdated(targets []string) ([]Outdated, error) {
	if err := o.check(); err != nil {
		return nil, err
	}

	var entries []types.InstalledEntry
	if len(targets) == 0 {
		all, err := o.ledger.List()
		if err != nil {
			return nil, err
		}
		entries = all
	}
	for _, t := range targets {
		name := o.graph.Resolve(t)
		e, ok, err := o.ledger.Get(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, install.ErrNotInstalled{Package: name}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var out []Outdated
	for _, e := range entries {
		meta, ok := o.graph.Node(e.Name)
		if !ok {
			o.l.Debug("Installed package has no port", "package", e.Name)
			continue
		}
		v := meta[graph.MetaVersion]
		if version.Compare(v, e.Version) > 0 {
			out = append(out, Outdated{Name: e.Name, Installed: e.Version, Available: v})
		}
	}
	return out, nil
}

// Upgrade rebuilds the outdated packages among targets, or among
// everything installed when no targets are given.  Dependencies that
// are installed and current are left alone; missing ones are built
// first.  Failures stop the run the same way Build does.
func (o *Orchestrator) Upgrade(ctx context.Context, targets []string, opts BuildOptions) (*Result, error) {
	o.busy.Lock()
	defer o.busy.Unlock()

	res := &Result{Target: strings.Join(targets, " ")}
	defer o.remember(res)

	stale, err := o.Outdated(targets)
	if err != nil {
		return res, o.fail(res, "", types.StageLoading, err)
	}
	if len(stale) == 0 {
		o.l.Info("Everything is up to date")
		return res, nil
	}

	names := make([]string, 0, len(stale))
	upgrade := make(map[string]bool, len(stale))
	for _, s := range stale {
		o.l.Info("Package is outdated", "package", s.Name, "installed", s.Installed, "available", s.Available)
		names = append(names, s.Name)
		upgrade[s.Name] = true
	}

	if err := o.resolve(res, names, opts); err != nil {
		return res, err
	}
	err = o.walk(ctx, res, opts, func(name string) (bool, error) {
		if upgrade[name] || opts.Force {
			return true, nil
		}
		installed, err := o.installed(name)
		return !installed, err
	})
	if err != nil {
		return res, err
	}
	o.l.Info("Upgrade finished", "upgraded", len(res.Succeeded), "skipped", len(res.Skipped))
	return res, nil
}

// resolve fills in res.Order for targets and checks the chain for
// version conflicts and unsatisfied constraints.
func (o *Orchestrator) resolve(res *Result, targets []string, opts BuildOptions) error {
	order, err := o.graph.InstallOrder(targets, opts.IncludeOptional)
	if err != nil {
		return o.fail(res, res.Target, types.StageLoading, err)
	}
	res.Order = order
	o.l.Info("Resolved build order", "target", res.Target, "packages", len(order))

	if conflicts := o.graph.DetectConflicts(order); len(conflicts) > 0 {
		cerr := graph.ErrConflict{Conflicts: conflicts}
		if !opts.ForceConflicts {
			return o.fail(res, res.Target, types.StageLoading, cerr)
		}
		o.l.Warn("Proceeding despite version conflicts", "error", cerr)
	}
	if err := o.graph.Validate(order); err != nil {
		if !opts.ForceConflicts {
			return o.fail(res, res.Target, types.StageLoading, err)
		}
		o.l.Warn("Proceeding despite unsatisfied constraint", "error", err)
	}
	return nil
}

// walk builds and installs each package of res.Order that need
// selects, skipping the rest.
func (o *Orchestrator) walk(ctx context.Context, res *Result, opts BuildOptions, need func(string) (bool, error)) error {
	for _, name := range res.Order {
		if err := ctx.Err(); err != nil {
			return o.fail(res, name, types.StageLoading, err)
		}
		ok, err := need(name)
		if err != nil {
			return o.fail(res, name, types.StageLoading, err)
		}
		if !ok {
			o.l.Debug("Already installed", "package", name)
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := o.buildOne(ctx, res, name, opts); err != nil {
			return err
		}
		res.Succeeded = append(res.Succeeded, name)
	}
	return nil
}

func (o *Orchestrator) buildOne(ctx context.Context, res *Result, name string, opts BuildOptions) error {
	desc, err := o.ports.Descriptor(name)
	if err != nil {
		return o.fail(res, name, types.StageLoading, err)
	}
	if err := o.checkDeclaredConflicts(desc); err != nil {
		return o.fail(res, name, types.StageLoading, err)
	}

	o.l.Info("Building package", "package", desc.Name, "version", desc.Version)
	tx, err := o.builder.Build(ctx, desc, build.Options{Force: opts.Force, Keep: opts.Keep})
	if tx != nil {
		defer func() {
			if cerr := tx.Close(); cerr != nil {
				o.l.Warn("Could not clean up build", "package", name, "error", cerr)
			}
		}()
	}
	if err != nil {
		stage := types.StageFetching
		var se build.ErrStage
		if errors.As(err, &se) {
			stage = se.Stage
		}
		return o.fail(res, name, stage, err)
	}

	_, err = o.installer.Install(ctx, install.Request{
		Name:     desc.Name,
		Version:  desc.Version,
		Source:   tx.Root(),
		Files:    tx.Files,
		Hash:     tx.Hash,
		Artifact: tx.Artifact,
		Degraded: tx.Degraded,
		Force:    opts.ForceConflicts,
	})
	if err != nil {
		err = o.fail(res, name, types.StageInstalling, err)
		res.RolledBack = rolledBack(err)
		return err
	}
	return nil
}

// rolledBack reports whether the live system is as it was before a
// failed install.  Errors raised before anything was written count as
// rolled back.
func rolledBack(err error) bool {
	var ie install.ErrInstall
	if errors.As(err, &ie) {
		return ie.RolledBack
	}
	return true
}

func (o *Orchestrator) checkDeclaredConflicts(desc *types.PackageDescriptor) error {
	var hit []string
	for _, c := range desc.Conflicts {
		if c == desc.Name {
			continue
		}
		installed, err := o.installed(c)
		if err != nil {
			return err
		}
		if installed {
			hit = append(hit, c)
		}
	}
	if len(hit) > 0 {
		return NewErrConflict(desc.Name, hit)
	}
	return nil
}

func (o *Orchestrator) installed(name string) (bool, error) {
	_, ok, err := o.ledger.Get(name)
	return ok, err
}

func (o *Orchestrator) fail(res *Result, name string, stage types.Stage, err error) error {
	res.Failed = name
	res.Stage = stage
	res.Err = err
	res.Error = err.Error()
	o.l.Error("Build stopped", "package", name, "stage", stage, "error", err)
	return err
}

func (o *Orchestrator) remember(res *Result) {
	o.lastMu.Lock()
	o.last = res
	o.lastMu.Unlock()
}

// Last returns the result of the most recent Build.
func (o *Orchestrator) Last() *Result {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	return o.last
}

// Remove uninstalls targets.  Installed packages depending on a
// target block the removal unless opts allow it; Recursive removes
// them first.  The first failure ends the run.
func (o *Orchestrator) Remove(ctx context.Context, targets []string, opts RemoveOptions) (*RemoveResult, error) {
	o.busy.Lock()
	defer o.busy.Unlock()

	res := &RemoveResult{}
	if err := o.check(); err != nil {
		return res, o.failRemove(res, "", err)
	}

	names := make([]string, 0, len(targets))
	for _, t := range targets {
		name := o.graph.Resolve(t)
		installed, err := o.installed(name)
		if err != nil {
			return res, o.failRemove(res, name, err)
		}
		if !installed {
			return res, o.failRemove(res, name, install.ErrNotInstalled{Package: name})
		}
		names = append(names, name)
	}

	order, err := o.removalOrder(names, opts)
	if err != nil {
		return res, o.failRemove(res, "", err)
	}
	res.Order = order

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return res, o.failRemove(res, name, err)
		}
		if err := o.installer.Remove(ctx, name); err != nil {
			return res, o.failRemove(res, name, err)
		}
		res.Removed = append(res.Removed, name)
	}
	return res, nil
}

// removalOrder works out which installed packages go and in what
// order, dependents before what they depend on.
func (o *Orchestrator) removalOrder(names []string, opts RemoveOptions) ([]string, error) {
	targets := make(map[string]bool, len(names))
	for _, n := range names {
		targets[n] = true
	}

	for _, n := range names {
		var blocking []string
		for _, d := range o.graph.ReverseDependencies(n, true) {
			if targets[d] {
				continue
			}
			installed, err := o.installed(d)
			if err != nil {
				return nil, err
			}
			if installed {
				blocking = append(blocking, d)
			}
		}
		if len(blocking) > 0 && !opts.Force && !opts.Recursive {
			return nil, NewErrDependents(n, blocking)
		}
	}

	var known []string
	for _, n := range names {
		if o.graph.Has(n) {
			known = append(known, n)
		}
	}
	var order []string
	if len(known) > 0 {
		full, err := o.graph.UninstallOrder(known)
		if err != nil {
			return nil, err
		}
		for _, n := range full {
			if targets[n] {
				order = append(order, n)
				continue
			}
			if !opts.Recursive {
				continue
			}
			installed, err := o.installed(n)
			if err != nil {
				return nil, err
			}
			if installed {
				order = append(order, n)
			}
		}
	}
	// Packages whose port is gone have no edges to order by.
	for _, n := range names {
		if !o.graph.Has(n) {
			order = append(order, n)
		}
	}
	return order, nil
}

func (o *Orchestrator) failRemove(res *RemoveResult, name string, err error) error {
	res.Failed = name
	res.Err = err
	res.Error = err.Error()
	var re install.ErrRemove
	res.RolledBack = !errors.As(err, &re) || re.RolledBack
	o.l.Error("Remove stopped", "package", name, "error", err)
	return err
}
