package planner

import (
	"strings"

	"relquery/internal/relmeta"
	"relquery/internal/sqlutil"
)

// applyOrderBy compiles the orderBy input and appends its clauses to the
// statement. Accepts a single object or an array of objects; array entries
// keep their order, keys within one object sort lexically.
func (ctx *queryContext) applyOrderBy(orderBy interface{}) error {
	if orderBy == nil {
		return nil
	}
	clauses, err := ctx.orderClauses(ctx.entity, ctx.rootAlias, orderBy, 1)
	if err != nil {
		return err
	}
	if len(clauses) > 0 {
		ctx.builder = ctx.builder.OrderBy(clauses...)
	}
	return nil
}

func (ctx *queryContext) orderClauses(entity *relmeta.Entity, alias string, spec interface{}, depth int) ([]string, error) {
	switch v := spec.(type) {
	case map[string]interface{}:
		return ctx.orderObject(entity, alias, v, depth)
	case []interface{}:
		var clauses []string
		for _, elem := range v {
			obj, ok := elem.(map[string]interface{})
			if !ok {
				return nil, invalidInputf("orderBy entries must be objects, got %T", elem)
			}
			sub, err := ctx.orderObject(entity, alias, obj, depth)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub...)
		}
		return clauses, nil
	default:
		return nil, invalidInputf("orderBy must be an object or an array of objects, got %T", spec)
	}
}

// orderObject compiles one orderBy object. A string value is a direction
// for a field of the current entity; an object value descends into a to-one
// relation.
func (ctx *queryContext) orderObject(entity *relmeta.Entity, alias string, obj map[string]interface{}, depth int) ([]string, error) {
	if depth > maxRecursiveDepth {
		return nil, integrityf("orderBy recursion exceeds %d levels", maxRecursiveDepth)
	}

	var clauses []string
	for _, key := range sortedKeys(obj) {
		switch v := obj[key].(type) {
		case string:
			field := entity.Field(key)
			if field == nil {
				// Diagnose without registering: a bad direction value must
				// not leave a join behind on the statement.
				rootPath, err := ctx.rootPathFor(alias, key)
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
				return nil, invalidInputf("orderBy for relation %s must be an object", rootPath)
			}
			direction := strings.ToUpper(v)
			if direction != "ASC" && direction != "DESC" {
				return nil, invalidInputf("invalid sort direction %q for field %s", v, key)
			}
			clauses = append(clauses, sqlutil.Qualify(alias, field.Column)+" "+direction)
			ctx.orderColumns = append(ctx.orderColumns, SelectedColumn{
				Alias:  alias,
				Column: field.Column,
				Field:  field.Name,
				Label:  alias + "__" + field.Name,
			})
		case map[string]interface{}:
			if entity.Field(key) != nil {
				return nil, invalidInputf("orderBy direction for field %s must be a string", key)
			}
			reg, err := ctx.registerRelation(alias, key, joinForOrder)
			if err != nil {
				return nil, err
			}
			sub, err := ctx.orderObject(reg.target, reg.alias, v, depth+1)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub...)
		default:
			return nil, invalidInputf("orderBy value for %s must be a direction string or an object, got %T", key, obj[key])
		}
	}
	return clauses, nil
}
