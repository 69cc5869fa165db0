package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nport/pkg/http"
)

func newServeCmd() *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph, ledger and build status over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadGraph(false); err != nil {
				return err
			}
			if bind == "" {
				bind = a.cfg.Bind
			}

			srv, err := http.New(a.l)
			if err != nil {
				a.l.Error("Error initializing webserver", "error", err)
				return err
			}
			srv.Mount("/api/graph", a.mgr.HTTPEntry())
			srv.Mount("/api/installed", a.ledger.HTTPEntry())
			srv.Mount("/api/build", a.orch.HTTPEntry())

			errs := make(chan error, 1)
			go func() { errs <- srv.Serve(bind) }()

			select {
			case err := <-errs:
				return err
			case <-cmd.Context().Done():
			}

			a.l.Info("Shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Address to listen on (default from config)")
	return cmd
}
