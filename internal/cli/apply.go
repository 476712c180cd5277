package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"github.com/spf13/cobra"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/schema"
)

// NewApplyCommand creates the apply command: converge the schema catalog
// to the entity definitions in a CUE file or directory.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <schema.cue | dir>",
		Short: "Apply CUE entity definitions to the schema catalog",
		Long: `Load entity and field definitions from CUE and converge the catalog:
missing entities and fields are created, existing fields are updated with
a new version when their attributes changed, and unchanged definitions
are left alone.

Definition shape:

  entity: product: {
      name: "Product"
      fields: {
          name:  {name: "name", type: "string", required: true}
          price: {name: "price", type: "float"}
      }
  }

Example:
  stratum apply --db ./stratum.db ./schema.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
	return cmd
}

// entityDef is one decoded entity definition.
type entityDef struct {
	ID     string
	Name   string
	Fields []fieldDef
}

type fieldDef struct {
	ID         string
	Name       string        `json:"name"`
	Type       eav.FieldType `json:"type"`
	Required   bool          `json:"required"`
	Collection bool          `json:"collection"`
	Order      *int64        `json:"order"`
}

func runApply(ctx context.Context, opts *RootOptions, path string, cmd *cobra.Command) error {
	defs, err := loadDefinitions(path)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no entity definitions in %s", path))
	}

	e, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	created, updated := 0, 0
	for _, def := range defs {
		err := e.catalog.CreateEntity(ctx, schema.EntityInput{ID: def.ID, Name: def.Name})
		switch {
		case errors.Is(err, schema.ErrDuplicateID):
			// already registered
		case err != nil:
			return WrapExitError(ExitFailure, fmt.Sprintf("entity %q", def.ID), err)
		default:
			created++
		}

		for _, field := range def.Fields {
			n, u, err := applyField(ctx, e.catalog, def.ID, field)
			if err != nil {
				return err
			}
			created += n
			updated += u
		}
	}

	return formatter.Success(fmt.Sprintf("applied %d definition(s): %d created, %d updated", len(defs), created, updated))
}

// applyField converges one field: create when absent, version-bump when
// attributes changed, no-op otherwise.
func applyField(ctx context.Context, catalog *schema.Catalog, entityID string, def fieldDef) (created, updated int, err error) {
	err = catalog.CreateField(ctx, schema.FieldInput{
		ID:         def.ID,
		Entity:     entityID,
		Name:       def.Name,
		Order:      def.Order,
		Type:       def.Type,
		Required:   def.Required,
		Collection: def.Collection,
	})
	if err == nil {
		return 1, 0, nil
	}
	if !errors.Is(err, schema.ErrDuplicateID) {
		return 0, 0, WrapExitError(ExitFailure, fmt.Sprintf("field %q", def.ID), err)
	}

	patch := schema.FieldPatch{
		Name:       &def.Name,
		Type:       &def.Type,
		Required:   &def.Required,
		Collection: &def.Collection,
		Order:      def.Order,
	}
	err = catalog.UpdateField(ctx, def.ID, patch)
	if errors.Is(err, schema.ErrFieldNotChanged) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, WrapExitError(ExitFailure, fmt.Sprintf("field %q", def.ID), err)
	}
	return 0, 1, nil
}

// loadDefinitions builds the CUE value from a file or directory and
// decodes the entity definitions under the "entity" root.
func loadDefinitions(path string) ([]entityDef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", path), err)
	}

	cuectx := cuecontext.New()
	var value cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 || instances[0].Err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("loading CUE from %s failed", path))
		}
		value = cuectx.BuildInstance(instances[0])
	} else {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", path), err)
		}
		value = cuectx.CompileBytes(raw, cue.Filename(path))
	}
	if err := value.Err(); err != nil {
		return nil, WrapExitError(ExitCommandError, "building CUE value", err)
	}

	root := value.LookupPath(cue.ParsePath("entity"))
	if !root.Exists() {
		return nil, nil
	}

	var defs []entityDef
	iter, err := root.Fields()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "iterating entity definitions", err)
	}
	for iter.Next() {
		def := entityDef{ID: iter.Selector().Unquoted()}

		if nameVal := iter.Value().LookupPath(cue.ParsePath("name")); nameVal.Exists() {
			if def.Name, err = nameVal.String(); err != nil {
				return nil, WrapExitError(ExitCommandError, fmt.Sprintf("entity %q: name", def.ID), err)
			}
		}

		fieldsVal := iter.Value().LookupPath(cue.ParsePath("fields"))
		if fieldsVal.Exists() {
			fieldIter, err := fieldsVal.Fields()
			if err != nil {
				return nil, WrapExitError(ExitCommandError, fmt.Sprintf("entity %q: fields", def.ID), err)
			}
			for fieldIter.Next() {
				var field fieldDef
				if err := fieldIter.Value().Decode(&field); err != nil {
					return nil, WrapExitError(ExitCommandError,
						fmt.Sprintf("entity %q: field %q", def.ID, fieldIter.Selector().Unquoted()), err)
				}
				field.ID = fieldIter.Selector().Unquoted()
				if field.Name == "" {
					field.Name = field.ID
				}
				def.Fields = append(def.Fields, field)
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}
