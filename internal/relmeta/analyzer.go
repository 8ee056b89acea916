package relmeta

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxDepth bounds how many hops the relation graph walk follows.
const DefaultMaxDepth = 2

// RelationInfo describes one relation path reachable from a root entity,
// with the cardinality of the whole path aggregated hop by hop.
type RelationInfo struct {
	// Property is the dotted path relative to the root entity,
	// e.g. "details" or "details.product".
	Property string
	// Kind is the cardinality of the final hop.
	Kind Kind
	// AggregatedKind is the cardinality of the whole path.
	AggregatedKind Kind
	// Target is the terminal entity name.
	Target string
	// Path holds the per-hop relation descriptors, root first.
	Path []Relation

	// Flags carried from the final hop.
	Nullable bool
	Cascade  bool
	Eager    bool
	Lazy     bool

	// Extended marks paths with more than one hop.
	Extended bool
}

// Multiplying reports whether joining this whole path can yield more than
// one row per root row.
func (ri RelationInfo) Multiplying() bool {
	return ri.AggregatedKind.Multiplying()
}

// Name returns the last segment of the dotted property path.
func (ri RelationInfo) Name() string {
	if i := strings.LastIndex(ri.Property, "."); i >= 0 {
		return ri.Property[i+1:]
	}
	return ri.Property
}

// Analyzer computes and caches the reachable relation paths of each entity.
// Results are cached per entity; the cache is read-many write-once, so a
// racing recompute is idempotent and the first stored result wins.
type Analyzer struct {
	schema   *Schema
	maxDepth int

	mu    sync.RWMutex
	cache map[string][]RelationInfo
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithMaxDepth overrides the relation graph depth bound.
func WithMaxDepth(depth int) AnalyzerOption {
	return func(a *Analyzer) {
		a.maxDepth = depth
	}
}

// NewAnalyzer builds an analyzer over the given schema.
func NewAnalyzer(schema *Schema, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		schema:   schema,
		maxDepth: DefaultMaxDepth,
		cache:    make(map[string][]RelationInfo),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxDepth < 1 {
		a.maxDepth = DefaultMaxDepth
	}
	return a
}

// Schema returns the schema the analyzer was built over.
func (a *Analyzer) Schema() *Schema {
	return a.schema
}

// MaxDepth returns the relation graph depth bound.
func (a *Analyzer) MaxDepth() int {
	return a.maxDepth
}

// RelationsInfo returns every relation path reachable from the named entity
// within the depth bound, direct paths first, then extensions level by
// level. The returned slice is shared cache state and must not be mutated.
func (a *Analyzer) RelationsInfo(entityName string) ([]RelationInfo, error) {
	a.mu.RLock()
	cached, ok := a.cache[entityName]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}

	root := a.schema.Entity(entityName)
	if root == nil {
		return nil, fmt.Errorf("unknown entity %q", entityName)
	}
	infos, err := a.compute(root)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if prior, ok := a.cache[entityName]; ok {
		infos = prior
	} else {
		a.cache[entityName] = infos
	}
	a.mu.Unlock()
	return infos, nil
}

// Lookup returns the relation info for a dotted property path of an entity,
// or nil when the path is not reachable within the depth bound.
func (a *Analyzer) Lookup(entityName, property string) (*RelationInfo, error) {
	infos, err := a.RelationsInfo(entityName)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Property == property {
			return &infos[i], nil
		}
	}
	return nil, nil
}

// HasMultiplying reports whether any reachable relation path of the entity
// has multiplying aggregated cardinality.
func (a *Analyzer) HasMultiplying(entityName string) (bool, error) {
	infos, err := a.RelationsInfo(entityName)
	if err != nil {
		return false, err
	}
	for i := range infos {
		if infos[i].Multiplying() {
			return true, nil
		}
	}
	return false, nil
}

func (a *Analyzer) compute(root *Entity) ([]RelationInfo, error) {
	// Direct relations dedupe on name and target so a duplicated metadata
	// entry enters the result once.
	seen := make(map[string]struct{}, len(root.Relations))
	var out []RelationInfo
	for i := range root.Relations {
		rel := root.Relations[i]
		key := rel.Name + "->" + rel.Target
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, RelationInfo{
			Property:       rel.Name,
			Kind:           rel.Kind,
			AggregatedKind: rel.Kind,
			Target:         rel.Target,
			Path:           []Relation{rel},
			Nullable:       rel.Nullable,
			Cascade:        rel.Cascade,
			Eager:          rel.Eager,
			Lazy:           rel.Lazy,
		})
	}

	// Extensions walk each branch independently: two sibling paths reaching
	// the same entity both keep extending, and only a hop whose target was
	// already entered on the current branch is cut. Relation names are
	// unique per entity, so dotted properties stay unique across branches.
	level := out
	for depth := 1; depth < a.maxDepth; depth++ {
		var next []RelationInfo
		for i := range level {
			parent := &level[i]
			owner := a.schema.Entity(parent.Target)
			if owner == nil {
				// Dangling target, nothing to extend through.
				continue
			}
			onPath := make(map[string]struct{}, len(parent.Path))
			for _, hop := range parent.Path {
				onPath[hop.Target] = struct{}{}
			}
			for j := range owner.Relations {
				rel := owner.Relations[j]
				if _, cyclic := onPath[rel.Target]; cyclic {
					continue
				}
				agg, err := Combine(parent.AggregatedKind, rel.Kind)
				if err != nil {
					return nil, fmt.Errorf("relation %s.%s: %w", parent.Property, rel.Name, err)
				}
				next = append(next, RelationInfo{
					Property:       parent.Property + "." + rel.Name,
					Kind:           rel.Kind,
					AggregatedKind: agg,
					Target:         rel.Target,
					Path:           append(append([]Relation{}, parent.Path...), rel),
					Nullable:       rel.Nullable,
					Cascade:        rel.Cascade,
					Eager:          rel.Eager,
					Lazy:           rel.Lazy,
					Extended:       true,
				})
			}
		}
		if len(next) == 0 {
			break
		}
		out = append(out, next...)
		level = next
	}
	return out, nil
}
