package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch bool
}

// SyncResult reports one drain pass for `keeper sync`.
type SyncResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Repaired  int `json:"repaired"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued operations against the backend",
		Long: `Drain the offline operation queue against the configured backend.

Operations replay in enqueue order per entity. Transient failures are
rescheduled with exponential backoff; stale references are repaired and
retried without user intervention.

Examples:
  keeper sync
  keeper sync --watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep draining on the configured interval until interrupted")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.engine.Monitor().Online() {
		return NewExitError(ExitCommandError, "no backend configured (remote.base_url is empty)")
	}

	if opts.Watch {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		err := e.engine.Run(ctx)
		if ctx.Err() != nil {
			return nil // interrupted, not a failure
		}
		return err
	}

	ctx := context.Background()
	report, err := e.engine.DrainOnce(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "drain queue", err)
	}
	remaining, err := e.store.QueueDepth(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "queue depth", err)
	}

	result := SyncResult{
		Processed: report.Processed,
		Succeeded: report.Succeeded,
		Retried:   report.Retried,
		Repaired:  report.Repaired,
		Dropped:   report.Dropped,
		Remaining: remaining,
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Processed %d operation(s): %d synced, %d retried, %d repaired, %d dropped\n",
		result.Processed, result.Succeeded, result.Retried, result.Repaired, result.Dropped)
	fmt.Fprintf(out, "Remaining in queue: %d\n", result.Remaining)

	if result.Retried > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) could not be synced", result.Retried))
	}
	return nil
}
