package planner

import (
	"fmt"
	"strings"

	"relquery/internal/relmeta"
	"relquery/internal/sqlutil"
)

// Build compiles a find request into an executable plan.
//
// A request is answered directly unless it paginates an entity whose
// relation graph can multiply root rows. In that case the plan splits into
// a key probe, which applies the window over distinct root primary keys
// without multiplying joins, and a fetch, which hydrates exactly those keys
// with every requested join and no window.
func (p *Planner) Build(input FindInput) (*FindPlan, error) {
	entityName := strings.TrimSpace(input.Entity)
	if entityName == "" {
		return nil, invalidInputf("entity name is required")
	}
	entity := p.analyzer.Schema().Entity(entityName)
	if entity == nil {
		return nil, invalidInputf("unknown entity %q", entityName)
	}

	win, err := input.Pagination.normalize(p.limits)
	if err != nil {
		return nil, err
	}
	if win == nil {
		return p.buildDirect(entity, input, nil)
	}
	multiplying, err := p.analyzer.HasMultiplying(entity.Name)
	if err != nil {
		return nil, integrityf("analyzing relations for %q: %v", entity.Name, err)
	}
	if !multiplying {
		return p.buildDirect(entity, input, win)
	}

	probeCtx := newQueryContext(p.analyzer, entity, true, true)
	if err := p.populate(probeCtx, input, true); err != nil {
		return nil, err
	}
	if !probeCtx.sawMultiplying {
		// The graph can multiply, but this request never touched a
		// multiplying relation. One query is enough.
		return p.buildDirect(entity, input, win)
	}

	probeKeys, err := probeCtx.selectPrimaryKey()
	if err != nil {
		return nil, err
	}
	probeBuilder := probeCtx.builder.Distinct()
	seen := make(map[string]bool, len(probeKeys))
	for _, key := range probeKeys {
		seen[key.Label] = true
	}
	for _, oc := range probeCtx.orderColumns {
		if seen[oc.Label] {
			continue
		}
		seen[oc.Label] = true
		probeBuilder = probeBuilder.Column(fmt.Sprintf("%s AS %s",
			sqlutil.Qualify(oc.Alias, oc.Column), sqlutil.QuoteIdentifier(oc.Label)))
	}
	probeSQL, probeArgs, err := win.apply(probeBuilder).ToSql()
	if err != nil {
		return nil, integrityf("rendering probe query: %v", err)
	}

	fetchCtx := newQueryContext(p.analyzer, entity, false, false)
	fetchCtx.selectEntity(fetchCtx.rootAlias, entity)
	if err := p.populate(fetchCtx, input, false); err != nil {
		return nil, err
	}
	rootPK, err := fetchCtx.qualifiedRootPK()
	if err != nil {
		return nil, err
	}

	return &FindPlan{
		Mode:      PlanTwoPhase,
		Entity:    entity.Name,
		Probe:     &SQLQuery{SQL: probeSQL, Args: probeArgs},
		ProbeKeys: probeKeys,
		Selection: fetchCtx.selection,
		Joins:     fetchCtx.joins(),
		RootAlias: fetchCtx.rootAlias,
		rootPK:    rootPK,
		fetch:     fetchCtx.builder,
		window:    win,
	}, nil
}

// populate applies the shared request parts to a context: eager relation
// paths first so later filters reuse their joins, then the filter tree,
// then ordering. The fetch side of a two-phase plan skips the filter; its
// rows are fixed by the probed keys.
func (p *Planner) populate(ctx *queryContext, input FindInput, includeWhere bool) error {
	for _, path := range input.Relations {
		path = strings.TrimSpace(path)
		if path == "" {
			return invalidInputf("relation path cannot be empty")
		}
		if _, err := ctx.resolveRelationPath(path, joinForSelect); err != nil {
			return err
		}
	}
	if includeWhere && len(input.Where) > 0 {
		cond, err := ctx.compileWhere(ctx.entity, ctx.rootAlias, input.Where, 1)
		if err != nil {
			return err
		}
		if cond != nil {
			ctx.builder = ctx.builder.Where(cond)
		}
	}
	return ctx.applyOrderBy(input.OrderBy)
}

func (p *Planner) buildDirect(entity *relmeta.Entity, input FindInput, win *window) (*FindPlan, error) {
	ctx := newQueryContext(p.analyzer, entity, false, false)
	ctx.selectEntity(ctx.rootAlias, entity)
	if err := p.populate(ctx, input, true); err != nil {
		return nil, err
	}
	sqlStr, args, err := win.apply(ctx.builder).ToSql()
	if err != nil {
		return nil, integrityf("rendering query: %v", err)
	}
	return &FindPlan{
		Mode:      PlanDirect,
		Entity:    entity.Name,
		Query:     &SQLQuery{SQL: sqlStr, Args: args},
		Selection: ctx.selection,
		Joins:     ctx.joins(),
		RootAlias: ctx.rootAlias,
		window:    win,
	}, nil
}

// BuildCount compiles the total-count statement for a filter: the filtered
// base wrapped in COUNT(*) so joins cannot skew the total.
func (p *Planner) BuildCount(entityName string, where Where) (*SQLQuery, error) {
	entityName = strings.TrimSpace(entityName)
	if entityName == "" {
		return nil, invalidInputf("entity name is required")
	}
	entity := p.analyzer.Schema().Entity(entityName)
	if entity == nil {
		return nil, invalidInputf("unknown entity %q", entityName)
	}

	ctx := newQueryContext(p.analyzer, entity, false, false)
	ctx.builder = ctx.builder.Column("1")
	if len(where) > 0 {
		cond, err := ctx.compileWhere(ctx.entity, ctx.rootAlias, where, 1)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			ctx.builder = ctx.builder.Where(cond)
		}
	}
	return buildCountFromBase(ctx.builder)
}
