package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// QueueEntry is one pending operation for `keeper queue`.
type QueueEntry struct {
	Seq        int64  `json:"seq"`
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Retries    int    `json:"retries"`
	LastError  string `json:"last_error,omitempty"`
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List operations waiting in the offline queue",
		Long: `List the offline operation queue in replay order.

Each entry shows the mutation kind, its target entity, and how many
replay attempts have failed so far.

Examples:
  keeper queue
  keeper queue --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(rootOpts, cmd)
		},
	}
	return cmd
}

func runQueue(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	ops, err := e.engine.Operations(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "list operations", err)
	}

	entries := make([]QueueEntry, 0, len(ops))
	for _, op := range ops {
		entries = append(entries, QueueEntry{
			Seq:        op.Seq,
			ID:         op.ID,
			Kind:       string(op.Kind),
			EntityType: string(op.EntityType),
			EntityID:   op.TargetEntityID,
			Retries:    op.RetryCount,
			LastError:  op.LastError,
		})
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(entries)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}
	for _, en := range entries {
		fmt.Fprintf(out, "%4d  %-6s %-11s %s", en.Seq, en.Kind, en.EntityType, en.EntityID)
		if en.Retries > 0 {
			fmt.Fprintf(out, "  (retries: %d, last error: %s)", en.Retries, en.LastError)
		}
		fmt.Fprintln(out)
	}
	return nil
}
