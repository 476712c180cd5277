package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewUpdateCommand creates the update command: singular by id, or bulk
// with --where.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	rf := &readFlags{}
	var (
		set   []string
		where []string
	)

	cmd := &cobra.Command{
		Use:   "update <entity> [id]",
		Short: "Append a new record version with changed fields",
		Long: `Update a record by id, or every record matching --where clauses.
Only fields that actually differ get a new value; a payload equal to
current state is rejected as a no-op. With --lang or --cond the written
values become overlays scoped to that context.

Example:
  stratum update --db ./stratum.db product p1 --set price=10.5
  stratum update --db ./stratum.db product p1 --set name="Wijn" --lang nl
  stratum update --db ./stratum.db product --where "price<5" --set label=budget`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 1 {
				id = args[1]
			}
			return runUpdate(cmd.Context(), rootOpts, rf, set, where, args[0], id, cmd)
		},
	}
	rf.register(cmd)
	cmd.Flags().StringArrayVar(&set, "set", nil, "field value as name=value, repeatable")
	cmd.Flags().StringArrayVar(&where, "where", nil, "bulk filter clause, repeatable (conjoined)")
	return cmd
}

func runUpdate(ctx context.Context, opts *RootOptions, rf *readFlags, set, where []string, entityID, id string, cmd *cobra.Command) error {
	if (id == "") == (len(where) == 0) {
		return NewExitError(ExitCommandError, "pass either an id or --where clauses, not both")
	}
	if len(set) == 0 {
		return NewExitError(ExitCommandError, "nothing to update: pass --set pairs")
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

	data, err := parseSet(entity, set)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if id != "" {
		if err := e.records.Update(ctx, entity, id, data, queryOpts); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("updating %q", id), err)
		}
		return formatter.Success(fmt.Sprintf("updated %s", id))
	}

	filter, err := parseWhere(entity, where)
	if err != nil {
		return err
	}
	applied, err := e.records.UpdateWhere(ctx, entity, filter, data, queryOpts)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("bulk update stopped after %d row(s)", applied), err)
	}
	return formatter.Success(fmt.Sprintf("updated %d record(s)", applied))
}
