package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
)

// seedFile is a YAML seed document: batches of records per entity.
type seedFile []seedBatch

type seedBatch struct {
	Entity  string           `yaml:"entity"`
	Records []map[string]any `yaml:"records"`
}

// NewSeedCommand creates the seed command: load records from a YAML file.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	rf := &readFlags{}

	cmd := &cobra.Command{
		Use:   "seed <data.yaml>",
		Short: "Load records from a YAML seed file",
		Long: `Read batches of records from YAML and converge the store to them.
Records carrying an _id are upserted (insert when absent, update when
different, no-op when equal); records without one are inserted with a
generated id.

File shape:

  - entity: product
    records:
      - _id: p1
        name: Wine
        price: 9.5

Example:
  stratum seed --db ./stratum.db ./fixtures/products.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), rootOpts, rf, args[0], cmd)
		},
	}
	rf.register(cmd)
	return cmd
}

func runSeed(ctx context.Context, opts *RootOptions, rf *readFlags, path string, cmd *cobra.Command) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", path), err)
	}
	var batches seedFile
	if err := yaml.Unmarshal(raw, &batches); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("parse %s", path), err)
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

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	total := 0
	for _, batch := range batches {
		entity, err := e.catalog.GetEntity(ctx, batch.Entity, rf.SchemaVersion)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("entity %q", batch.Entity), err)
		}

		for i, raw := range batch.Records {
			data, id, err := decodeSeedRecord(raw)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s record %d", batch.Entity, i), err)
			}

			if id == "" {
				_, err = e.records.Insert(ctx, entity, data, queryOpts)
			} else {
				err = e.records.Upsert(ctx, entity, id, data, queryOpts)
			}
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("%s record %d", batch.Entity, i), err)
			}
			total++
		}
	}

	return formatter.Success(fmt.Sprintf("seeded %d record(s)", total))
}

// decodeSeedRecord converts one YAML mapping into a mutation payload,
// splitting off the optional _id key.
func decodeSeedRecord(raw map[string]any) (map[string]eav.Value, string, error) {
	data := make(map[string]eav.Value, len(raw))
	id := ""
	for key, value := range raw {
		if key == query.IDField {
			s, ok := value.(string)
			if !ok {
				return nil, "", fmt.Errorf("_id must be a string, got %T", value)
			}
			id = s
			continue
		}
		v, err := eav.FromAny(value)
		if err != nil {
			return nil, "", fmt.Errorf("key %q: %w", key, err)
		}
		data[key] = v
	}
	return data, id, nil
}
