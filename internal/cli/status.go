package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// StatusResult summarizes the local store for `keeper status`.
type StatusResult struct {
	AccountID    string `json:"account_id"`
	Online       bool   `json:"online"`
	Transactions int    `json:"transactions"`
	Items        int    `json:"items"`
	QueueDepth   int    `json:"queue_depth"`
	Conflicts    int    `json:"conflicts"`
	NeedsReview  int    `json:"needs_review"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local store and sync status",
		Long: `Show a summary of the local store: entity counts, operations
waiting in the offline queue, unresolved conflicts, and transactions
flagged for review.

Examples:
  keeper status
  keeper status --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	st := e.store
	txs, err := st.ListTransactions(ctx, e.cfg.AccountID)
	if err != nil {
		return WrapExitError(ExitCommandError, "list transactions", err)
	}
	items, err := st.ListItems(ctx, e.cfg.AccountID)
	if err != nil {
		return WrapExitError(ExitCommandError, "list items", err)
	}
	depth, err := st.QueueDepth(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "queue depth", err)
	}
	conflicts, err := st.ListConflicts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "list conflicts", err)
	}

	review := 0
	for _, tx := range txs {
		if tx.NeedsReview {
			review++
		}
	}

	result := StatusResult{
		AccountID:    e.cfg.AccountID,
		Online:       e.engine.Monitor().Online(),
		Transactions: len(txs),
		Items:        len(items),
		QueueDepth:   depth,
		Conflicts:    len(conflicts),
		NeedsReview:  review,
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(result)
	}

	out := cmd.OutOrStdout()
	state := "offline"
	if result.Online {
		state = "online"
	}
	fmt.Fprintf(out, "Account: %s (%s)\n", result.AccountID, state)
	fmt.Fprintf(out, "Transactions: %d (%d need review)\n", result.Transactions, result.NeedsReview)
	fmt.Fprintf(out, "Items: %d\n", result.Items)
	fmt.Fprintf(out, "Queued operations: %d\n", result.QueueDepth)
	fmt.Fprintf(out, "Unresolved conflicts: %d\n", result.Conflicts)
	return nil
}
