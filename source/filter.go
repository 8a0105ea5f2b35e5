// ABOUTME: Record inclusion predicates for source fetches
// ABOUTME: Matches the free-form status label against include and deny sets
package source

import "strings"

// LabelPredicate decides whether a canonical record with the given status
// label is part of the sync. Pluggable so the same reconciler core serves
// different inclusion policies.
type LabelPredicate func(label string) bool

// LabelFilter builds the standard predicate: a record is kept when its label
// is in the include set and not in the deny set. An empty include set keeps
// everything not denied. Matching is case-insensitive.
func LabelFilter(include, deny map[string]bool) LabelPredicate {
	return func(label string) bool {
		key := strings.ToLower(strings.TrimSpace(label))
		if deny[key] {
			return false
		}
		if len(include) == 0 {
			return true
		}
		return include[key]
	}
}

// All keeps every record. Useful for backfills and tests.
func All() LabelPredicate {
	return func(string) bool { return true }
}
