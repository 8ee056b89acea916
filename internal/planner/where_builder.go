package planner

import (
	"encoding/base64"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"relquery/internal/relmeta"
	"relquery/internal/sqlutil"
	"relquery/internal/uuidutil"
)

// compileWhere turns one filter object into a single condition. Data keys
// and "_and" entries conjoin into one group; "_or" entries each become a
// disjunct beside that group, so {a, _or: [b, c]} reads (a) OR b OR c. A nil
// result with a nil error means the object carried no predicate.
func (ctx *queryContext) compileWhere(entity *relmeta.Entity, alias string, where map[string]interface{}, depth int) (sq.Sqlizer, error) {
	if depth > maxRecursiveDepth {
		return nil, integrityf("filter recursion exceeds %d levels", maxRecursiveDepth)
	}

	var andConds []sq.Sqlizer
	var orConds []sq.Sqlizer
	for _, key := range sortedKeys(where) {
		value := where[key]
		switch key {
		case "_and":
			entries, err := combinatorEntries(key, value)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				sub, err := ctx.compileWhere(entity, alias, entry, depth+1)
				if err != nil {
					return nil, err
				}
				if sub != nil {
					andConds = append(andConds, sub)
				}
			}
		case "_or":
			entries, err := combinatorEntries(key, value)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				sub, err := ctx.compileWhere(entity, alias, entry, depth+1)
				if err != nil {
					return nil, err
				}
				if sub != nil {
					orConds = append(orConds, sub)
				}
			}
		default:
			cond, err := ctx.compileWhereKey(entity, alias, key, value, depth)
			if err != nil {
				return nil, err
			}
			if cond != nil {
				andConds = append(andConds, cond)
			}
		}
	}

	var andGroup sq.Sqlizer
	switch len(andConds) {
	case 0:
	case 1:
		andGroup = andConds[0]
	default:
		andGroup = sq.And(andConds)
	}

	if len(orConds) == 0 {
		return andGroup, nil
	}
	disjuncts := orConds
	if andGroup != nil {
		disjuncts = append([]sq.Sqlizer{andGroup}, orConds...)
	}
	if len(disjuncts) == 1 {
		return disjuncts[0], nil
	}
	return sq.Or(disjuncts), nil
}

// compileWhereKey handles one non-combinator key: a field filter or a nested
// relation filter.
func (ctx *queryContext) compileWhereKey(entity *relmeta.Entity, alias, key string, value interface{}, depth int) (sq.Sqlizer, error) {
	if value == nil {
		return nil, invalidInputf("field %s cannot be null or undefined", key)
	}
	if field := entity.Field(key); field != nil {
		return ctx.compileFieldCondition(field, alias, key, value)
	}

	reg, err := ctx.registerRelation(alias, key, joinForFilter)
	if err != nil {
		return nil, err
	}
	nested, ok := value.(map[string]interface{})
	if !ok {
		return nil, invalidInputf("filter for relation %q must be an object", reg.rootPath)
	}
	if len(nested) == 0 {
		return nil, invalidInputf("filter for relation %q cannot be empty", reg.rootPath)
	}
	return ctx.compileWhere(reg.target, reg.alias, nested, depth+1)
}

// compileFieldCondition compiles one field filter. A literal compares for
// equality, an array becomes IN, and an operator object conjoins its
// operators.
func (ctx *queryContext) compileFieldCondition(field *relmeta.Field, alias, key string, value interface{}) (sq.Sqlizer, error) {
	column := sqlutil.Qualify(alias, field.Column)

	switch v := value.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, invalidInputf("filter for field %s cannot be empty", key)
		}
		var conds []sq.Sqlizer
		for _, opKey := range sortedKeys(v) {
			op, ok := ParseOperator(opKey)
			if !ok {
				return nil, invalidInputf("unknown operator %q for field %s", opKey, key)
			}
			opValue := v[opKey]
			if opValue == nil {
				return nil, invalidInputf("operator %s for field %s cannot be null", op, key)
			}
			coerced, err := coerceFilterValue(field, opValue)
			if err != nil {
				return nil, invalidInputf("field %s: %v", key, err)
			}
			cond, err := op.condition(column, key, coerced)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return sq.And(conds), nil
	case []interface{}:
		coerced, err := coerceFilterValue(field, v)
		if err != nil {
			return nil, invalidInputf("field %s: %v", key, err)
		}
		return sq.Eq{column: coerced}, nil
	default:
		coerced, err := coerceFilterValue(field, value)
		if err != nil {
			return nil, invalidInputf("field %s: %v", key, err)
		}
		return sq.Eq{column: coerced}, nil
	}
}

// coerceFilterValue converts filter literals into their storage
// representation. UUID fields accept canonical or compact text and are
// stored per the column's data type; binary fields accept base64 text.
func coerceFilterValue(field *relmeta.Field, value interface{}) (interface{}, error) {
	switch field.Type {
	case relmeta.FieldUUID:
		switch v := value.(type) {
		case string:
			return uuidutil.StorageValue(v, field.DataType)
		case []interface{}:
			out := make([]interface{}, len(v))
			for i, elem := range v {
				s, ok := elem.(string)
				if !ok {
					return nil, fmt.Errorf("uuid filter values must be strings, got %T", elem)
				}
				sv, err := uuidutil.StorageValue(s, field.DataType)
				if err != nil {
					return nil, err
				}
				out[i] = sv
			}
			return out, nil
		default:
			return nil, fmt.Errorf("uuid filter value must be a string, got %T", value)
		}
	case relmeta.FieldBytes:
		switch v := value.(type) {
		case string:
			decoded, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("binary filter value must be base64: %v", err)
			}
			return decoded, nil
		case []byte:
			return v, nil
		case []interface{}:
			out := make([]interface{}, len(v))
			for i, elem := range v {
				s, ok := elem.(string)
				if !ok {
					return nil, fmt.Errorf("binary filter values must be base64 strings, got %T", elem)
				}
				decoded, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return nil, fmt.Errorf("binary filter value must be base64: %v", err)
				}
				out[i] = decoded
			}
			return out, nil
		default:
			return nil, fmt.Errorf("binary filter value must be a base64 string, got %T", value)
		}
	default:
		return value, nil
	}
}

// combinatorEntries accepts the two shapes of "_and"/"_or" values: a single
// object or an array of objects.
func combinatorEntries(key string, value interface{}) ([]map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}, nil
	case []interface{}:
		entries := make([]map[string]interface{}, 0, len(v))
		for _, elem := range v {
			entry, ok := elem.(map[string]interface{})
			if !ok {
				return nil, invalidInputf("%s entries must be objects, got %T", key, elem)
			}
			entries = append(entries, entry)
		}
		return entries, nil
	default:
		return nil, invalidInputf("%s must be an object or an array of objects, got %T", key, value)
	}
}
