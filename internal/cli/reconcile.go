package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Project string
}

// ReconcileResult reports a sweep for `keeper reconcile`.
type ReconcileResult struct {
	Checked  int      `json:"checked"`
	Repaired int      `json:"repaired"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Verify and repair derived canonical amounts",
		Long: `Recompute the amount of every system-generated transaction from its
linked and moved-out items, and repair any that drifted.

Transactions whose total cannot be derived (an item missing from the
local store) are reported and left untouched.

Examples:
  keeper reconcile
  keeper reconcile --project P-1716900000-a1b2`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "restrict the sweep to one project")
	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.engine.ReconcileAccount(ctx, e.cfg.AccountID, opts.Project)
	if err != nil {
		return WrapExitError(ExitCommandError, "reconcile", err)
	}

	result := ReconcileResult{
		Checked:  report.Checked,
		Repaired: report.Repaired,
		Skipped:  report.Skipped,
		Errors:   report.Errors,
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked %d canonical transaction(s): %d repaired, %d skipped\n",
		result.Checked, result.Repaired, result.Skipped)
	for _, msg := range result.Errors {
		fmt.Fprintf(out, "  ! %s\n", msg)
	}

	if len(result.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d transaction(s) could not be reconciled", len(result.Errors)))
	}
	return nil
}
