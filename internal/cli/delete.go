package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewDeleteCommand creates the delete command: singular by id, or bulk
// with --where.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	rf := &readFlags{}
	var where []string

	cmd := &cobra.Command{
		Use:   "delete <entity> [id]",
		Short: "Tombstone a record",
		Long: `Append a tombstone version to a record by id, or to every record
matching --where clauses. History below the tombstone stays readable
through --version; the id itself is terminal and cannot be reused.

Example:
  stratum delete --db ./stratum.db product p1
  stratum delete --db ./stratum.db product --where "label=discontinued"`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 1 {
				id = args[1]
			}
			return runDelete(cmd.Context(), rootOpts, rf, where, args[0], id, cmd)
		},
	}
	rf.register(cmd)
	cmd.Flags().StringArrayVar(&where, "where", nil, "bulk filter clause, repeatable (conjoined)")
	return cmd
}

func runDelete(ctx context.Context, opts *RootOptions, rf *readFlags, where []string, entityID, id string, cmd *cobra.Command) error {
	if (id == "") == (len(where) == 0) {
		return NewExitError(ExitCommandError, "pass either an id or --where clauses, not both")
	}

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

	if id != "" {
		if err := e.records.Delete(ctx, entity, id, queryOpts); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("deleting %q", id), err)
		}
		return formatter.Success(fmt.Sprintf("deleted %s", id))
	}

	filter, err := parseWhere(entity, where)
	if err != nil {
		return err
	}
	applied, err := e.records.DeleteWhere(ctx, entity, filter, queryOpts)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("bulk delete stopped after %d row(s)", applied), err)
	}
	return formatter.Success(fmt.Sprintf("deleted %d record(s)", applied))
}
