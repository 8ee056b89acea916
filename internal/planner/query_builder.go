package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relquery/internal/relmeta"
	"relquery/internal/sqlutil"
)

// SelectedColumn describes one column of a select list, in select order.
// The row mapper zips scanned values against this metadata instead of
// parsing result-set labels.
type SelectedColumn struct {
	// Alias is the SQL alias of the owning table.
	Alias string
	// Column is the SQL column name, Field the property it backs.
	Column string
	Field  string
	// Label is the result-set label, alias + "__" + field.
	Label string
}

// JoinedRelation is a registry snapshot entry describing one joined
// relation of a plan, in registration order (parents before children).
type JoinedRelation struct {
	// Property is the alias-qualified reference, e.g. "invoice.details".
	Property string
	// RootPath is the dotted path relative to the root entity.
	RootPath    string
	Alias       string
	ParentAlias string
	// Name is the final path segment, Target the joined entity.
	Name   string
	Target string
	// Kind is the cardinality of the final hop: to-one relations map to a
	// nested object, to-many to a slice.
	Kind relmeta.Kind
	// Selected relations contribute columns to the select list.
	Selected bool
}

// joinPurpose records why a relation is being registered; multiplying
// relations are legal for eager selection but never for filtering or
// ordering.
type joinPurpose int

const (
	joinForFilter joinPurpose = iota
	joinForOrder
	joinForSelect
)

type registeredRelation struct {
	property    string
	rootPath    string
	alias       string
	parentAlias string
	name        string
	info        *relmeta.RelationInfo
	target      *relmeta.Entity
	selected    bool
	// joined is false when the relation was only recorded: a multiplying
	// relation referenced while the context ignores multiplying joins.
	joined bool
}

// queryContext owns one select statement under construction: the squirrel
// builder, the join/alias registry, and the select-list metadata. Each plan
// build uses fresh contexts, so a context is never shared across goroutines.
type queryContext struct {
	analyzer  *relmeta.Analyzer
	entity    *relmeta.Entity
	rootAlias string

	builder sq.SelectBuilder

	relations  []*registeredRelation
	byProperty map[string]*registeredRelation
	byAlias    map[string]*registeredRelation

	selection []SelectedColumn

	// orderColumns are the columns named by order clauses, in clause order.
	// A DISTINCT key probe must carry them in its select list: MySQL
	// rejects DISTINCT statements ordered by unselected columns.
	orderColumns []SelectedColumn

	// ignoreMultiplyingJoins makes eager registration of multiplying
	// relations record the reference without emitting the join;
	// ignoreSelects suppresses relation select columns. Both are set while
	// building the key-probe phase.
	ignoreMultiplyingJoins bool
	ignoreSelects          bool

	// sawMultiplying records that at least one multiplying relation was
	// referenced while ignoreMultiplyingJoins was set.
	sawMultiplying bool
}

func newQueryContext(analyzer *relmeta.Analyzer, entity *relmeta.Entity, ignoreMultiplyingJoins, ignoreSelects bool) *queryContext {
	rootAlias := strings.ToLower(entity.Name)
	ctx := &queryContext{
		analyzer:               analyzer,
		entity:                 entity,
		rootAlias:              rootAlias,
		byProperty:             make(map[string]*registeredRelation),
		byAlias:                make(map[string]*registeredRelation),
		ignoreMultiplyingJoins: ignoreMultiplyingJoins,
		ignoreSelects:          ignoreSelects,
	}
	ctx.builder = sq.Select().From(fmt.Sprintf("%s AS %s",
		sqlutil.QuoteIdentifier(entity.Table), sqlutil.QuoteIdentifier(rootAlias)))
	return ctx
}

// selectEntity appends every field of the entity to the select list under
// the given alias.
func (ctx *queryContext) selectEntity(alias string, entity *relmeta.Entity) {
	for _, f := range entity.Fields {
		label := alias + "__" + f.Name
		ctx.selection = append(ctx.selection, SelectedColumn{
			Alias:  alias,
			Column: f.Column,
			Field:  f.Name,
			Label:  label,
		})
		ctx.builder = ctx.builder.Column(fmt.Sprintf("%s AS %s",
			sqlutil.Qualify(alias, f.Column), sqlutil.QuoteIdentifier(label)))
	}
}

// selectPrimaryKey appends only the root primary key to the select list and
// returns its metadata; the probe phase selects nothing else.
func (ctx *queryContext) selectPrimaryKey() ([]SelectedColumn, error) {
	pk := ctx.entity.PrimaryKey()
	if len(pk) == 0 {
		return nil, fmt.Errorf("entity %q: %w", ctx.entity.Name, ErrNoPrimaryKey)
	}
	cols := make([]SelectedColumn, 0, len(pk))
	for _, f := range pk {
		label := ctx.rootAlias + "__" + f.Name
		col := SelectedColumn{Alias: ctx.rootAlias, Column: f.Column, Field: f.Name, Label: label}
		cols = append(cols, col)
		ctx.selection = append(ctx.selection, col)
		ctx.builder = ctx.builder.Column(fmt.Sprintf("%s AS %s",
			sqlutil.Qualify(ctx.rootAlias, f.Column), sqlutil.QuoteIdentifier(label)))
	}
	return cols, nil
}

// qualifiedRootPK returns the quoted alias-qualified root primary key
// columns, for the key restriction of a two-phase fetch.
func (ctx *queryContext) qualifiedRootPK() ([]string, error) {
	pk := ctx.entity.PrimaryKey()
	if len(pk) == 0 {
		return nil, fmt.Errorf("entity %q: %w", ctx.entity.Name, ErrNoPrimaryKey)
	}
	out := make([]string, len(pk))
	for i, f := range pk {
		out[i] = sqlutil.Qualify(ctx.rootAlias, f.Column)
	}
	return out, nil
}

// registerRelation resolves and registers one relation hop under a parent
// alias, emitting its join on first registration. Registration is
// idempotent: a repeated reference returns the existing entry, and a later
// select-purpose reference upgrades a join-only entry in place.
func (ctx *queryContext) registerRelation(parentAlias, name string, purpose joinPurpose) (*registeredRelation, error) {
	property := parentAlias + "." + name
	if existing, ok := ctx.byProperty[property]; ok {
		if (purpose == joinForFilter || purpose == joinForOrder) && existing.info.Multiplying() {
			return nil, multiplyingJoinError(existing.info)
		}
		if purpose == joinForSelect && existing.joined && !existing.selected && !ctx.ignoreSelects {
			existing.selected = true
			ctx.selectEntity(existing.alias, existing.target)
		}
		return existing, nil
	}

	rootPath, err := ctx.rootPathFor(parentAlias, name)
	if err != nil {
		return nil, err
	}
	info, err := ctx.analyzer.Lookup(ctx.entity.Name, rootPath)
	if err != nil {
		return nil, integrityf("resolving relation %q: %v", rootPath, err)
	}
	if info == nil {
		return nil, invalidInputf("invalid relation to property: %s", rootPath)
	}
	if !info.AggregatedKind.Valid() {
		return nil, integrityf("missing aggregated cardinality for relation %q", rootPath)
	}

	if info.Multiplying() {
		if purpose == joinForFilter || purpose == joinForOrder {
			return nil, multiplyingJoinError(info)
		}
		if ctx.ignoreMultiplyingJoins {
			ctx.sawMultiplying = true
			reg := &registeredRelation{
				property:    property,
				rootPath:    rootPath,
				parentAlias: parentAlias,
				name:        name,
				info:        info,
			}
			ctx.relations = append(ctx.relations, reg)
			ctx.byProperty[property] = reg
			return reg, nil
		}
	}

	target := ctx.analyzer.Schema().Entity(info.Target)
	if target == nil {
		return nil, integrityf("relation metadata not found for %q: unknown target entity %q", rootPath, info.Target)
	}
	hop := info.Path[len(info.Path)-1]
	alias := parentAlias + "_" + name
	if err := ctx.joinRelation(parentAlias, alias, hop); err != nil {
		return nil, err
	}

	reg := &registeredRelation{
		property:    property,
		rootPath:    rootPath,
		alias:       alias,
		parentAlias: parentAlias,
		name:        name,
		info:        info,
		target:      target,
		joined:      true,
	}
	if purpose == joinForSelect && !ctx.ignoreSelects {
		reg.selected = true
		ctx.selectEntity(alias, target)
	}
	ctx.relations = append(ctx.relations, reg)
	ctx.byProperty[property] = reg
	ctx.byAlias[alias] = reg
	return reg, nil
}

func multiplyingJoinError(info *relmeta.RelationInfo) error {
	return integrityf("invalid aggregatedCardinality %q for relation %q: it will cause a multiplying join",
		info.AggregatedKind, info.Property)
}

// rootPathFor reconstructs the root-relative dotted path of a reference by
// walking the registry backward from the parent alias.
func (ctx *queryContext) rootPathFor(parentAlias, name string) (string, error) {
	if parentAlias == ctx.rootAlias {
		return name, nil
	}
	parent, ok := ctx.byAlias[parentAlias]
	if !ok {
		return "", invalidInputf("invalid relation to property: %s.%s", parentAlias, name)
	}
	return parent.rootPath + "." + name, nil
}

// resolveRelationPath registers a relation reference. Two forms are
// accepted: a root-relative dotted path ("client.country"), registered hop
// by hop, and an alias-rooted reference ("invoice_client.country") naming an
// existing alias followed by exactly one segment.
func (ctx *queryContext) resolveRelationPath(path string, purpose joinPurpose) (*registeredRelation, error) {
	segments := strings.Split(path, ".")
	for _, segment := range segments {
		if segment == "" {
			return nil, invalidInputf("malformed relation reference %q", path)
		}
	}

	if len(segments) > 1 {
		if first := segments[0]; first == ctx.rootAlias || ctx.byAlias[first] != nil {
			if len(segments) > 2 {
				return nil, invalidInputf("malformed relation reference %q: only one segment may follow alias %q", path, first)
			}
			return ctx.registerRelation(first, segments[1], purpose)
		}
	}

	parentAlias := ctx.rootAlias
	var reg *registeredRelation
	var err error
	for _, segment := range segments {
		reg, err = ctx.registerRelation(parentAlias, segment, purpose)
		if err != nil {
			return nil, err
		}
		if !reg.joined {
			// Recorded without a join; deeper hops have no alias to hang from.
			return reg, nil
		}
		parentAlias = reg.alias
	}
	return reg, nil
}

// joinRelation emits the LEFT JOIN clauses for one relation hop. A
// many-to-many hop joins through its junction table with a derived alias.
func (ctx *queryContext) joinRelation(parentAlias, alias string, rel relmeta.Relation) error {
	targetEntity := ctx.analyzer.Schema().Entity(rel.Target)
	if targetEntity == nil {
		return integrityf("relation %q: unknown target entity %q", rel.Name, rel.Target)
	}
	quotedTarget := sqlutil.QuoteIdentifier(targetEntity.Table)
	quotedAlias := sqlutil.QuoteIdentifier(alias)

	if rel.Kind == relmeta.ManyToMany {
		if len(rel.JunctionLocalColumns) != len(rel.LocalColumns) ||
			len(rel.JunctionRemoteColumns) != len(rel.RemoteColumns) ||
			len(rel.LocalColumns) == 0 || len(rel.RemoteColumns) == 0 {
			return integrityf("relation %q has inconsistent junction join columns", rel.Name)
		}
		junctionAlias := alias + "_jt"
		ctx.builder = ctx.builder.LeftJoin(fmt.Sprintf("%s AS %s ON %s",
			sqlutil.QuoteIdentifier(rel.JunctionTable), sqlutil.QuoteIdentifier(junctionAlias),
			joinPairs(parentAlias, rel.LocalColumns, junctionAlias, rel.JunctionLocalColumns)))
		ctx.builder = ctx.builder.LeftJoin(fmt.Sprintf("%s AS %s ON %s",
			quotedTarget, quotedAlias,
			joinPairs(junctionAlias, rel.JunctionRemoteColumns, alias, rel.RemoteColumns)))
		return nil
	}

	if len(rel.LocalColumns) != len(rel.RemoteColumns) || len(rel.LocalColumns) == 0 {
		return integrityf("relation %q has mismatched join columns", rel.Name)
	}
	ctx.builder = ctx.builder.LeftJoin(fmt.Sprintf("%s AS %s ON %s",
		quotedTarget, quotedAlias,
		joinPairs(parentAlias, rel.LocalColumns, alias, rel.RemoteColumns)))
	return nil
}

func joinPairs(leftAlias string, leftColumns []string, rightAlias string, rightColumns []string) string {
	parts := make([]string, len(leftColumns))
	for i := range leftColumns {
		parts[i] = sqlutil.Qualify(leftAlias, leftColumns[i]) + " = " + sqlutil.Qualify(rightAlias, rightColumns[i])
	}
	return strings.Join(parts, " AND ")
}

// joins returns the registry snapshot the row mapper consumes: joined
// relations in registration order.
func (ctx *queryContext) joins() []JoinedRelation {
	out := make([]JoinedRelation, 0, len(ctx.relations))
	for _, r := range ctx.relations {
		if !r.joined {
			continue
		}
		out = append(out, JoinedRelation{
			Property:    r.property,
			RootPath:    r.rootPath,
			Alias:       r.alias,
			ParentAlias: r.parentAlias,
			Name:        r.name,
			Target:      r.target.Name,
			Kind:        r.info.Kind,
			Selected:    r.selected,
		})
	}
	return out
}
