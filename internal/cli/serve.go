package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the graceful stop of the HTTP listener.
const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the repository manager",
		Long: `Run the repository manager until interrupted.

The daemon loads the repository configuration, schedules merged index
updates for groups, follows external edits of the configuration file and
serves model resolution, health and metrics over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, nil)
		},
	}
	cmd.Flags().String("metrics-addr", "", "HTTP listen address")
	cmd.Flags().Bool("watch", true, "reload the configuration when the file changes")
	return cmd
}

// runServe blocks until ctx is done. When ready is not nil it receives the
// bound listener address once the server accepts connections.
func runServe(ctx context.Context, a *app, ready chan<- string) error {
	if err := a.open(ctx); err != nil {
		return err
	}
	if err := a.openFacts(); err != nil {
		return err
	}
	a.sched.Start()

	if a.settings.WatchConfig {
		go func() {
			if err := a.store.Watch(ctx); err != nil {
				a.log.Error(err, "watching configuration", "path", a.store.Path())
			}
		}()
	}

	ln, err := net.Listen("tcp", a.settings.MetricsAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	a.log.Info("serving", "addr", ln.Addr().String(), "repositories", len(a.reg.Repositories()))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
