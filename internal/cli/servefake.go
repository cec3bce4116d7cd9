package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/keeperhq/keeper/internal/remote/remotetest"
)

// ServeFakeOptions holds flags for the serve-fake command.
type ServeFakeOptions struct {
	*RootOptions
	Addr string
}

// NewServeFakeCommand creates the serve-fake command.
func NewServeFakeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeFakeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Run the in-memory fake backend",
		Long: `Run the in-memory fake backend used by the test suite as a real HTTP
server, for local development without the production backend.

State lives in memory and is lost on exit. Request metrics are exposed
at /metrics.

Example:
  keeper serve-fake --addr :8787`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeFake(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8787", "listen address")
	return cmd
}

func runServeFake(opts *ServeFakeOptions, cmd *cobra.Command) error {
	reg := prometheus.NewRegistry()
	srv := remotetest.NewServer()

	httpSrv := &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.HandlerWithMetrics(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	fmt.Fprintf(cmd.OutOrStdout(), "Fake backend listening on %s\n", opts.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitCommandError, "serve", err)
	}
}
