// Package resolve implements point-in-time resolution: picking, for a keyed
// history of versioned rows, the payload of the highest version at or below
// a bound, optionally narrowed by condition-map matching first.
//
// The SQL query path embeds the same two rules as correlated subqueries;
// this package is the in-memory form used for schema reconstruction and
// history replay. Both are pure functions of their row sets.
package resolve

import "github.com/boyhagemann/stratum/internal/eav"

// Unbounded requests the latest version with no upper bound.
const Unbounded int64 = 0

// Versioned pairs a payload with the version it was written at.
type Versioned[P any] struct {
	Version int64
	Payload P
}

// Latest returns the payload with the greatest version <= bound, or false
// when no row qualifies. A bound of Unbounded means "latest overall".
// Versions are unique per key, so ties cannot occur.
func Latest[P any](rows []Versioned[P], bound int64) (P, bool) {
	var (
		best    P
		bestVer int64
		found   bool
	)
	for _, row := range rows {
		if bound != Unbounded && row.Version > bound {
			continue
		}
		if !found || row.Version > bestVer {
			best = row.Payload
			bestVer = row.Version
			found = true
		}
	}
	return best, found
}

// Conditional is a versioned payload tagged with the condition map it is
// scoped to. Empty conditions mark the context-free fallback.
type Conditional[P any] struct {
	Version    int64
	Conditions eav.Conditions
	Payload    P
}

// Overlay resolves a conditional history against a caller context.
//
// The rows are partitioned into overlay candidates (non-empty conditions
// that subset-match ctx) and context-free fallbacks; Latest is applied to
// each partition independently, and the overlay partition wins when it
// resolves. The two axes compose: narrow by condition match first, then
// pick the latest version <= bound within the narrowed set.
func Overlay[P any](rows []Conditional[P], ctx eav.Conditions, bound int64) (P, bool) {
	var matching, fallback []Versioned[P]
	for _, row := range rows {
		switch {
		case len(row.Conditions) == 0:
			fallback = append(fallback, Versioned[P]{Version: row.Version, Payload: row.Payload})
		case row.Conditions.Match(ctx):
			matching = append(matching, Versioned[P]{Version: row.Version, Payload: row.Payload})
		}
	}
	if payload, ok := Latest(matching, bound); ok {
		return payload, true
	}
	return Latest(fallback, bound)
}
