package query

import (
	"fmt"

	"github.com/boyhagemann/stratum/internal/eav"
)

// Validate checks a filter for structural problems before compilation:
// unknown operators, empty IN sets, values that cannot be compared.
// Compilation assumes a validated filter.
func (f Filter) Validate() error {
	for i, c := range f.And {
		if err := validateCond(c); err != nil {
			return fmt.Errorf("and[%d]: %w", i, err)
		}
	}
	for i, c := range f.Or {
		if err := validateCond(c); err != nil {
			return fmt.Errorf("or[%d]: %w", i, err)
		}
	}
	return nil
}

func validateCond(c Cond) error {
	switch cond := c.(type) {
	case Compare:
		if cond.Field == "" {
			return fmt.Errorf("compare: empty field")
		}
		if !cond.Op.Valid() {
			return fmt.Errorf("compare: unknown operator %q", cond.Op)
		}
		if cond.Value == nil {
			return fmt.Errorf("compare: nil value")
		}
		if cond.Op == OpIn {
			if _, ok := cond.Value.(eav.Array); !ok {
				return fmt.Errorf("compare: IN requires an array value")
			}
		}
		return nil
	case Contains:
		if cond.Field == "" {
			return fmt.Errorf("contains: empty field")
		}
		if cond.Value == nil {
			return fmt.Errorf("contains: nil value")
		}
		return nil
	case IDIn:
		if len(cond.IDs) == 0 {
			return fmt.Errorf("id-in: empty id set")
		}
		return nil
	case nil:
		return fmt.Errorf("nil condition")
	default:
		return fmt.Errorf("unsupported condition type: %T", c)
	}
}

// Validate checks read options.
func (o Options) Validate() error {
	if o.Version < 0 {
		return fmt.Errorf("options: negative version bound %d", o.Version)
	}
	if o.Limit < 0 {
		return fmt.Errorf("options: negative limit %d", o.Limit)
	}
	switch o.Direction {
	case "", Asc, Desc:
	default:
		return fmt.Errorf("options: unknown direction %q", o.Direction)
	}
	return nil
}
