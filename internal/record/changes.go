package record

import "github.com/boyhagemann/stratum/internal/eav"

// diff returns the proposed values that differ from current state under
// strict equality. A key absent from current counts as changed; an equal
// value is excluded so unchanged fields never get a new fact.
func diff(current, proposed map[string]eav.Value) map[string]eav.Value {
	changes := make(map[string]eav.Value)
	for key, value := range proposed {
		have, ok := current[key]
		if ok && eav.Equal(have, value) {
			continue
		}
		changes[key] = value
	}
	return changes
}

// hasChanges reports whether proposed differs from current at all.
func hasChanges(current, proposed map[string]eav.Value) bool {
	return len(diff(current, proposed)) > 0
}
