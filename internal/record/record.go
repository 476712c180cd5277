// Package record is the mutation and read facade over the versioned
// tables: get/find/first, insert, update, upsert, delete and their bulk
// variants.
//
// Every mutation appends: one record_header row at version previous_max+1
// plus one value_fact row per changed field, committed as a single
// transaction. Nothing is updated in place; deletion writes a tombstone
// header and the history stays readable below it.
package record

import (
	"log/slog"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/store"
	"github.com/boyhagemann/stratum/internal/token"
	"github.com/boyhagemann/stratum/internal/validate"
)

// versionRetries bounds the optimistic allocation loop on UNIQUE(id,version).
const versionRetries = 3

// Store performs record operations against one backing store. Operations
// take an entity handle per call; the handle pins the schema shape, so one
// Store serves every entity and schema version.
type Store struct {
	st     *store.Store
	vals   validate.Factory
	tokens token.Source
	log    *slog.Logger
}

// New creates a record Store.
func New(st *store.Store, vals validate.Factory, tokens token.Source) *Store {
	return &Store{st: st, vals: vals, tokens: tokens, log: slog.Default()}
}

// Row is one resolved record: identity, the header version it resolved at,
// and one value per handle field. Values always carries every field key;
// unresolvable fields hold the type's placeholder.
type Row struct {
	ID      string
	Version int64
	Values  map[string]eav.Value
}

// Revision is one step of a record's history: the row as it resolved at
// that committed header version.
type Revision struct {
	Version int64
	Deleted bool
	Values  map[string]eav.Value
}
