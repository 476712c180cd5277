package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boyhagemann/stratum/internal/query"
)

// NewFindCommand creates the find command: filtered record listing.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	rf := &readFlags{}
	var (
		where []string
		order string
		desc  bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "find <entity>",
		Short: "List live records matching a filter",
		Long: `Resolve every live record of an entity at the requested version bound
and condition context, optionally filtered, ordered and limited.

Where clauses compare a field id against a value (price>=10, name=Wine);
on json and collection fields the clause tests containment, optionally
scoped to a sub-path (profile.city=Utrecht).

Example:
  stratum find --db ./stratum.db product
  stratum find --db ./stratum.db product --where "price>=10" --order price --desc
  stratum find --db ./stratum.db product --version 3 --lang nl --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(cmd.Context(), rootOpts, rf, where, order, desc, limit, args[0], cmd)
		},
	}
	rf.register(cmd)
	cmd.Flags().StringArrayVar(&where, "where", nil, "filter clause field<op>value, repeatable (conjoined)")
	cmd.Flags().StringVar(&order, "order", "", "field id to order by (default _id)")
	cmd.Flags().BoolVar(&desc, "desc", false, "order descending")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the result set (0 = unlimited)")
	return cmd
}

func runFind(ctx context.Context, opts *RootOptions, rf *readFlags, where []string, order string, desc bool, limit int, entityID string, cmd *cobra.Command) error {
	queryOpts, err := rf.options(opts)
	if err != nil {
		return err
	}
	queryOpts.Order = order
	queryOpts.Limit = limit
	if desc {
		queryOpts.Direction = query.Desc
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

	filter, err := parseWhere(entity, where)
	if err != nil {
		return err
	}

	rows, err := e.records.Find(ctx, entity, filter, queryOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "finding records", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Rows(rows)
}
