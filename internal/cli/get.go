package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boyhagemann/stratum/internal/record"
)

// NewGetCommand creates the get command: one record by id.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	rf := &readFlags{}
	var history bool

	cmd := &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Read one record by id",
		Long: `Resolve one live record at the requested version bound and condition
context. With --history, print every committed version of the record
instead, including tombstones.

Example:
  stratum get --db ./stratum.db product p1
  stratum get --db ./stratum.db product p1 --version 2 --lang nl
  stratum get --db ./stratum.db product p1 --history`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), rootOpts, rf, history, args[0], args[1], cmd)
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVar(&history, "history", false, "print the record's full version history")
	return cmd
}

func runGet(ctx context.Context, opts *RootOptions, rf *readFlags, history bool, entityID, id string, cmd *cobra.Command) error {
	queryOpts, err := rf.options(opts)
	if err != nil {
		return err
	}

	e, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	entity, err := e.catalog.GetEntity(ctx, entityID, rf.SchemaVersion)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("entity %q", entityID), err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if history {
		revisions, err := e.records.Versions(ctx, entity, id, queryOpts)
		if errors.Is(err, record.ErrRecordNotFound) {
			return WrapExitError(ExitFailure, fmt.Sprintf("record %q", id), err)
		}
		if err != nil {
			return WrapExitError(ExitFailure, "reading history", err)
		}

		rows := make([]record.Row, 0, len(revisions))
		for _, rev := range revisions {
			label := id
			if rev.Deleted {
				label = id + " (deleted)"
			}
			rows = append(rows, record.Row{ID: label, Version: rev.Version, Values: rev.Values})
		}
		return formatter.Rows(rows)
	}

	row, err := e.records.Get(ctx, entity, id, queryOpts)
	if errors.Is(err, record.ErrRecordNotFound) {
		return WrapExitError(ExitFailure, fmt.Sprintf("record %q", id), err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "reading record", err)
	}
	return formatter.Rows([]record.Row{*row})
}
