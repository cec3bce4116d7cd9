package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keeperhq/keeper/internal/engine"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Keep string
}

// ConflictSummary is one unresolved conflict for `keeper resolve`.
type ConflictSummary struct {
	ID         string   `json:"id"`
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	Fields     []string `json:"fields"`
	DetectedAt string   `json:"detected_at"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve [conflict-id]",
		Short: "List or resolve sync conflicts",
		Long: `Without arguments, list unresolved conflicts between local edits and
the backend. With a conflict ID and --keep, apply one side and clear
the record.

--keep local re-enqueues the local values so the backend converges;
--keep remote overwrites the local cache and drops the entity's queued
writes.

Examples:
  keeper resolve
  keeper resolve 0197-... --keep local`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runListConflicts(opts, cmd)
			}
			return runResolveConflict(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Keep, "keep", "", "side to keep: local or remote")
	return cmd
}

func runListConflicts(opts *ResolveOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	recs, err := e.store.ListConflicts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "list conflicts", err)
	}

	summaries := make([]ConflictSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, ConflictSummary{
			ID:         rec.ID,
			EntityType: string(rec.EntityType),
			EntityID:   rec.EntityID,
			Fields:     rec.DivergentFields,
			DetectedAt: rec.DetectedAt.UTC().Format(time.RFC3339),
		})
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.Success(summaries)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No unresolved conflicts.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(out, "%s  %-11s %s  fields: %s\n", s.ID, s.EntityType, s.EntityID, strings.Join(s.Fields, ", "))
	}
	return nil
}

func runResolveConflict(opts *ResolveOptions, cmd *cobra.Command, conflictID string) error {
	var res engine.Resolution
	switch opts.Keep {
	case "local":
		res = engine.KeepLocal
	case "remote":
		res = engine.KeepRemote
	default:
		return NewExitError(ExitCommandError, "--keep must be 'local' or 'remote'")
	}

	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.engine.ResolveConflict(context.Background(), conflictID, res); err != nil {
		return WrapExitError(ExitFailure, "resolve conflict", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Conflict %s resolved, kept %s values.\n", conflictID, opts.Keep)
	return nil
}
