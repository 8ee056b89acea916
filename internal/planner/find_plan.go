package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// SQLQuery is a rendered statement with its positional arguments.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// PlanMode distinguishes single-query plans from key-probe plans.
type PlanMode int

const (
	// PlanDirect answers the request with one query.
	PlanDirect PlanMode = iota
	// PlanTwoPhase probes a page of root primary keys first, then fetches
	// the full rows for exactly those keys.
	PlanTwoPhase
)

func (m PlanMode) String() string {
	switch m {
	case PlanDirect:
		return "direct"
	case PlanTwoPhase:
		return "two-phase"
	default:
		return fmt.Sprintf("PlanMode(%d)", int(m))
	}
}

// MarshalText renders the mode name, for plan output.
func (m PlanMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// KeyTuple is one root primary key value set scanned from a probe row.
type KeyTuple struct {
	Values []interface{}
}

// FindPlan is the compiled form of one find request.
//
// A direct plan carries the complete statement in Query. A two-phase plan
// carries the key probe in Probe; the fetch statement is completed by
// FetchByKeys once the probe keys are known.
type FindPlan struct {
	Mode   PlanMode
	Entity string

	// Query is the complete statement of a direct plan; nil on two-phase
	// plans.
	Query *SQLQuery
	// Probe selects the distinct root primary keys of the requested page;
	// nil on direct plans. ProbeKeys describes its select list.
	Probe     *SQLQuery
	ProbeKeys []SelectedColumn

	// Selection describes the select list of Query (direct) or of the
	// fetch statement (two-phase), in select order. Joins lists the joined
	// relations in registration order. RootAlias is the root table alias.
	Selection []SelectedColumn
	Joins     []JoinedRelation
	RootAlias string

	rootPK []string
	fetch  sq.SelectBuilder
	window *window
}

// FetchByKeys renders the fetch statement of a two-phase plan, restricted
// to the given root primary keys. The caller must not invoke it with an
// empty key set; an empty probe means an empty result.
func (p *FindPlan) FetchByKeys(keys []KeyTuple) (*SQLQuery, error) {
	if p.Mode != PlanTwoPhase {
		return nil, integrityf("fetch by keys requires a two-phase plan")
	}
	if len(keys) == 0 {
		return nil, integrityf("fetch by keys requires at least one key")
	}
	cond, err := buildTupleInCondition(p.rootPK, keys)
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := p.fetch.Where(cond).ToSql()
	if err != nil {
		return nil, integrityf("rendering fetch query: %v", err)
	}
	return &SQLQuery{SQL: sqlStr, Args: args}, nil
}

// buildTupleInCondition builds an IN condition over the given quoted key
// columns. Composite keys use row-value syntax: (a, b) IN ((?, ?), ...).
func buildTupleInCondition(quotedColumns []string, tuples []KeyTuple) (sq.Sqlizer, error) {
	if len(quotedColumns) == 0 {
		return nil, integrityf("tuple IN requires at least one key column")
	}

	if len(quotedColumns) == 1 {
		values := make([]interface{}, len(tuples))
		for i, t := range tuples {
			if len(t.Values) != 1 {
				return nil, integrityf("key tuple arity %d does not match 1 key column", len(t.Values))
			}
			values[i] = t.Values[0]
		}
		return sq.Eq{quotedColumns[0]: values}, nil
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(quotedColumns)), ", ") + ")"
	placeholders := make([]string, len(tuples))
	args := make([]interface{}, 0, len(tuples)*len(quotedColumns))
	for i, t := range tuples {
		if len(t.Values) != len(quotedColumns) {
			return nil, integrityf("key tuple arity %d does not match %d key columns", len(t.Values), len(quotedColumns))
		}
		placeholders[i] = placeholder
		args = append(args, t.Values...)
	}
	expr := fmt.Sprintf("(%s) IN (%s)",
		strings.Join(quotedColumns, ", "), strings.Join(placeholders, ", "))
	return sq.Expr(expr, args...), nil
}

// buildCountFromBase wraps a filtered base statement into a COUNT(*) so
// grouping and joins cannot skew the total.
func buildCountFromBase(base sq.SelectBuilder) (*SQLQuery, error) {
	sqlStr, args, err := base.ToSql()
	if err != nil {
		return nil, integrityf("rendering count query: %v", err)
	}
	return &SQLQuery{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS __count", sqlStr),
		Args: args,
	}, nil
}
