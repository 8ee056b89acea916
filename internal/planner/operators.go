package planner

import (
	sq "github.com/Masterminds/squirrel"

	"relquery/internal/sqlutil"
)

// Operator is a comparison operator of the filter vocabulary. Filter keys
// are parsed into operators once at the input boundary; everything
// downstream dispatches on the enum.
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpBetween
	OpNotBetween
	OpStartsWith
	OpNotStartsWith
	OpEndsWith
	OpNotEndsWith
	OpContains
	OpNotContains
	OpLike
	OpNotLike
)

var operatorKeys = map[string]Operator{
	"_eq":            OpEq,
	"_neq":           OpNeq,
	"_gt":            OpGt,
	"_gte":           OpGte,
	"_lt":            OpLt,
	"_lte":           OpLte,
	"_in":            OpIn,
	"_between":       OpBetween,
	"_notbetween":    OpNotBetween,
	"_startswith":    OpStartsWith,
	"_notstartswith": OpNotStartsWith,
	"_endswith":      OpEndsWith,
	"_notendswith":   OpNotEndsWith,
	"_contains":      OpContains,
	"_notcontains":   OpNotContains,
	"_like":          OpLike,
	"_notlike":       OpNotLike,
}

var operatorNames = func() map[Operator]string {
	names := make(map[Operator]string, len(operatorKeys))
	for key, op := range operatorKeys {
		names[op] = key
	}
	return names
}()

// ParseOperator maps a filter key to its operator.
func ParseOperator(key string) (Operator, bool) {
	op, ok := operatorKeys[key]
	return op, ok
}

func (op Operator) String() string {
	if name, ok := operatorNames[op]; ok {
		return name
	}
	return "unknown"
}

// condition builds the squirrel predicate for one operator applied to a
// qualified column. value has already been through field coercion.
func (op Operator) condition(column, fieldName string, value interface{}) (sq.Sqlizer, error) {
	switch op {
	case OpEq:
		return sq.Eq{column: value}, nil
	case OpNeq:
		return sq.NotEq{column: value}, nil
	case OpGt:
		return sq.Gt{column: value}, nil
	case OpGte:
		return sq.GtOrEq{column: value}, nil
	case OpLt:
		return sq.Lt{column: value}, nil
	case OpLte:
		return sq.LtOrEq{column: value}, nil
	case OpIn:
		values, ok := value.([]interface{})
		if !ok {
			return nil, invalidInputf("operator %s for field %s requires an array value", op, fieldName)
		}
		return sq.Eq{column: values}, nil
	case OpBetween, OpNotBetween:
		bounds, ok := value.([]interface{})
		if !ok || len(bounds) != 2 {
			return nil, invalidInputf("operator %s for field %s requires a two-element array", op, fieldName)
		}
		if op == OpNotBetween {
			return sq.Expr(column+" NOT BETWEEN ? AND ?", bounds[0], bounds[1]), nil
		}
		return sq.Expr(column+" BETWEEN ? AND ?", bounds[0], bounds[1]), nil
	case OpStartsWith, OpNotStartsWith, OpEndsWith, OpNotEndsWith, OpContains, OpNotContains:
		literal, ok := value.(string)
		if !ok {
			return nil, invalidInputf("operator %s for field %s requires a string value", op, fieldName)
		}
		pattern := likePattern(op, literal)
		if op == OpNotStartsWith || op == OpNotEndsWith || op == OpNotContains {
			return sq.NotLike{column: pattern}, nil
		}
		return sq.Like{column: pattern}, nil
	case OpLike, OpNotLike:
		pattern, ok := value.(string)
		if !ok {
			return nil, invalidInputf("operator %s for field %s requires a string value", op, fieldName)
		}
		if op == OpNotLike {
			return sq.NotLike{column: pattern}, nil
		}
		return sq.Like{column: pattern}, nil
	default:
		return nil, integrityf("unhandled operator %d", int(op))
	}
}

// likePattern embeds an escaped literal into the pattern shape of the
// operator. Raw patterns (_like/_notlike) never pass through here.
func likePattern(op Operator, literal string) string {
	escaped := sqlutil.EscapeLike(literal)
	switch op {
	case OpStartsWith, OpNotStartsWith:
		return escaped + "%"
	case OpEndsWith, OpNotEndsWith:
		return "%" + escaped
	default:
		return "%" + escaped + "%"
	}
}
