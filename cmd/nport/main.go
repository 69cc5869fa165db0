package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/the-maldridge/nport/pkg/build"
	"github.com/the-maldridge/nport/pkg/config"
	"github.com/the-maldridge/nport/pkg/fetch"
	"github.com/the-maldridge/nport/pkg/graph"
	"github.com/the-maldridge/nport/pkg/install"
	"github.com/the-maldridge/nport/pkg/ledger"
	"github.com/the-maldridge/nport/pkg/orchestrator"
	"github.com/the-maldridge/nport/pkg/source"
	"github.com/the-maldridge/nport/pkg/storage"

	_ "github.com/the-maldridge/nport/pkg/storage/bc"
	_ "github.com/the-maldridge/nport/pkg/storage/mem"
)

// app holds everything a subcommand may need.  It is populated
// before any subcommand runs.
type app struct {
	l   hclog.Logger
	cfg *config.Config

	store  storage.Storage
	mgr    *graph.Manager
	ledger *ledger.Ledger
	inst   *install.Installer
	orch   *orchestrator.Orchestrator
}

var (
	configFiles []string
	logLevel    string

	a = new(app)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nport:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nport",
		Short: "Build and install packages from a ports tree",
		Long: `nport builds packages from source descriptions in a ports tree,
resolving their dependencies, running each build in a sandbox and
installing the results transactionally.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file(s) to load (default system and user config)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		newBuildCmd(),
		newUpgradeCmd(),
		newRemoveCmd(),
		newSyncCmd(),
		newInfoCmd(),
		newSearchCmd(),
		newListCmd(),
		newPackagesCmd(),
		newGraphCmd(),
		newRecoverCmd(),
		newServeCmd(),
	)
	return cmd
}

func (a *app) setup() error {
	files := configFiles
	if len(files) == 0 {
		files = config.DefaultFiles()
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	a.l = hclog.New(&hclog.LoggerOptions{
		Name:  "nport",
		Level: hclog.LevelFromString(level),
	})
	a.l.Debug("nport is initializing", "config", files)

	storage.SetLogger(a.l)
	storage.DoCallbacks()
	a.store, err = storage.Initialize(cfg.Cache.Backend, cfg.Paths.CacheDir())
	if err != nil {
		a.l.Error("Couldn't initialize storage", "error", err)
		return err
	}

	mgrOpts := []graph.Option{
		graph.WithStatePath(cfg.Paths.GraphState()),
		graph.WithPortsDir(cfg.Paths.Ports),
	}
	if cfg.Sync.URL != "" {
		mgrOpts = append(mgrOpts, graph.WithCheckout(source.New(a.l, cfg.Paths.Ports, cfg.Sync.URL), cfg.Sync.Ref))
	}
	a.mgr = graph.NewManager(a.l, mgrOpts...)

	f := fetch.New(a.l, cfg.Paths.Distfiles,
		fetch.WithRetries(cfg.Fetch.Retries),
		fetch.WithBackoff(cfg.Fetch.Backoff),
		fetch.WithTimeout(cfg.Fetch.Timeout),
	)
	bopts := append(build.ConfigOptions(cfg), build.WithFetcher(f), build.WithCache(a.store))
	pipeline := build.New(a.l, bopts...)

	a.ledger = ledger.New(a.l, cfg.Paths.Ledger())
	a.inst = install.New(a.l, a.ledger,
		install.WithRoot(cfg.Paths.Root),
		install.WithJournal(cfg.Paths.Journal()),
		install.WithSpaceFactor(cfg.Install.SpaceFactor),
	)

	a.orch = orchestrator.New(
		orchestrator.WithLogger(a.l),
		orchestrator.WithGraph(a.mgr.Graph()),
		orchestrator.WithDescriptors(a.mgr),
		orchestrator.WithBuilder(pipeline),
		orchestrator.WithInstaller(a.inst),
		orchestrator.WithLedger(a.ledger),
	)
	return nil
}

// loadGraph brings the graph up to date with the ports tree.
func (a *app) loadGraph(reimport bool) error {
	if err := a.mgr.Bootstrap(reimport); err != nil {
		a.l.Error("Could not load the ports tree", "error", err)
		return err
	}
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.l.Warn("Error closing storage", "error", err)
		}
	}
}
