package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
)

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	rf := &readFlags{}
	var (
		set []string
		id  string
	)

	cmd := &cobra.Command{
		Use:   "insert <entity>",
		Short: "Create a record at version 1",
		Long: `Create a new record from --set pairs. The id comes from --id or is
generated. Required fields must be present; values are coerced to their
field's declared type.

Example:
  stratum insert --db ./stratum.db product --id p1 --set name=Wine --set price=9.5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(cmd.Context(), rootOpts, rf, set, id, args[0], cmd)
		},
	}
	rf.register(cmd)
	cmd.Flags().StringArrayVar(&set, "set", nil, "field value as name=value, repeatable")
	cmd.Flags().StringVar(&id, "id", "", "record id (generated when omitted)")
	return cmd
}

func runInsert(ctx context.Context, opts *RootOptions, rf *readFlags, set []string, id, entityID string, cmd *cobra.Command) error {
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
	if id != "" {
		data[query.IDField] = eav.String(id)
	}

	created, err := e.records.Insert(ctx, entity, data, queryOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "inserting record", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(created)
}
