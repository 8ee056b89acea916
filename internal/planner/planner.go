// Package planner compiles find-style inputs — filter trees, ordering,
// eager relation loads, and pagination — into parameterized MySQL queries.
// Paginated queries that would join a multiplying relation are rewritten
// into a two-phase plan: probe a page of distinct root primary keys first,
// then fetch full rows restricted to those keys.
package planner

import (
	"sort"

	"relquery/internal/relmeta"
)

// maxRecursiveDepth bounds filter and order-by recursion. Reaching it means
// runaway input or a compiler bug, so crossing it is an integrity error.
const maxRecursiveDepth = 20

// Where is the filter tree for an entity. Keys name fields, relations, or
// the logical combinators "_and" / "_or"; field values are literals
// (equality), arrays (IN), or operator objects; relation values are nested
// Where trees.
type Where map[string]interface{}

// FindInput describes one find request against an entity.
type FindInput struct {
	Entity string `json:"entity"`
	Where  Where  `json:"where,omitempty"`
	// OrderBy is a single object or an array of objects; keys name fields
	// (value: "ASC"/"DESC") or to-one relations (value: nested OrderBy).
	OrderBy interface{} `json:"orderBy,omitempty"`
	// Relations lists dotted relation paths to eager-load.
	Relations  []string    `json:"relations,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Planner builds executable query plans for the entities of one schema.
type Planner struct {
	analyzer *relmeta.Analyzer
	limits   Limits
}

// Option configures a Planner.
type Option func(*Planner)

// WithLimits overrides the pagination bounds.
func WithLimits(limits Limits) Option {
	return func(p *Planner) {
		p.limits = limits
	}
}

// New creates a Planner over the given relation analyzer.
func New(analyzer *relmeta.Analyzer, opts ...Option) *Planner {
	p := &Planner{analyzer: analyzer}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyzer returns the relation analyzer the planner consults.
func (p *Planner) Analyzer() *relmeta.Analyzer {
	return p.analyzer
}

// sortedKeys returns map keys in sorted order so generated SQL is
// deterministic regardless of map iteration order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
