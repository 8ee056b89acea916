package finder

import (
	"fmt"
	"strings"

	"relquery/internal/dbexec"
	"relquery/internal/planner"
	"relquery/internal/relmeta"
	"relquery/internal/uuidutil"
)

// selectedField resolves one result-set label to the alias it belongs to
// and the field metadata behind it.
type selectedField struct {
	alias string
	field *relmeta.Field
}

// childRelation is one selected relation hop under a parent alias.
type childRelation struct {
	name  string
	alias string
	toOne bool
}

// recordNode pairs a materialized record with the identity index of its
// nested records, so repeated flat rows collapse instead of duplicating.
type recordNode struct {
	record   Record
	children map[string]map[string]*recordNode
}

func newRecordNode(record Record) *recordNode {
	return &recordNode{
		record:   record,
		children: make(map[string]map[string]*recordNode),
	}
}

// aliasMeta carries the per-alias identity metadata the mapper folds on.
type aliasMeta struct {
	// keyFields names the primary key fields; empty means the entity has
	// no identity and every scanned row stays its own record.
	keyFields []string
	// allFields names every selected field, for LEFT JOIN absence checks.
	allFields []string
}

// rowMapper folds the flat rows of a joined select back into nested
// records. Joins multiply parent rows, so every level deduplicates on the
// entity primary key. Root order follows first appearance, which is the
// statement's ORDER BY order.
type rowMapper struct {
	rootAlias string
	// columns resolves result-set labels to selection metadata.
	columns map[string]selectedField
	aliases map[string]aliasMeta
	// children lists the selected relations per parent alias, in
	// registration order.
	children map[string][]childRelation

	roots     []*recordNode
	rootIndex map[string]*recordNode
	serial    int
}

func newRowMapper(plan *planner.FindPlan, schema *relmeta.Schema) (*rowMapper, error) {
	root := schema.Entity(plan.Entity)
	if root == nil {
		return nil, integrityf("unknown entity %q in plan", plan.Entity)
	}

	entities := map[string]*relmeta.Entity{plan.RootAlias: root}
	for _, join := range plan.Joins {
		target := schema.Entity(join.Target)
		if target == nil {
			return nil, integrityf("unknown entity %q joined as %q", join.Target, join.Alias)
		}
		entities[join.Alias] = target
	}

	m := &rowMapper{
		rootAlias: plan.RootAlias,
		columns:   make(map[string]selectedField, len(plan.Selection)),
		aliases:   make(map[string]aliasMeta),
		children:  make(map[string][]childRelation),
		rootIndex: make(map[string]*recordNode),
	}

	selectedNames := make(map[string][]string)
	for _, sc := range plan.Selection {
		entity := entities[sc.Alias]
		if entity == nil {
			return nil, integrityf("selected column %q references unknown alias %q", sc.Label, sc.Alias)
		}
		field := entity.Field(sc.Field)
		if field == nil {
			return nil, integrityf("selected column %q references unknown field %s.%s", sc.Label, entity.Name, sc.Field)
		}
		m.columns[sc.Label] = selectedField{alias: sc.Alias, field: field}
		selectedNames[sc.Alias] = append(selectedNames[sc.Alias], field.Name)
	}

	for alias, names := range selectedNames {
		var key []string
		for _, pk := range entities[alias].PrimaryKey() {
			key = append(key, pk.Name)
		}
		m.aliases[alias] = aliasMeta{keyFields: key, allFields: names}
	}

	for _, join := range plan.Joins {
		if !join.Selected {
			continue
		}
		m.children[join.ParentAlias] = append(m.children[join.ParentAlias], childRelation{
			name:  join.Name,
			alias: join.Alias,
			toOne: !join.Kind.Multiplying(),
		})
	}

	return m, nil
}

// consume scans every row and returns the assembled records. The result is
// never nil; zero rows map to an empty slice.
func (m *rowMapper) consume(rows dbexec.Rows) ([]Record, error) {
	labels, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	fields := make([]selectedField, len(labels))
	for i, label := range labels {
		sf, ok := m.columns[label]
		if !ok {
			return nil, integrityf("result column %q missing from plan selection", label)
		}
		fields[i] = sf
	}

	for rows.Next() {
		values := make([]interface{}, len(labels))
		valuePtrs := make([]interface{}, len(labels))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		m.addRow(fields, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]Record, len(m.roots))
	for i, node := range m.roots {
		records[i] = node.record
	}
	return records, nil
}

func (m *rowMapper) addRow(fields []selectedField, values []interface{}) {
	byAlias := make(map[string]Record, len(m.aliases))
	for i, sf := range fields {
		rec := byAlias[sf.alias]
		if rec == nil {
			rec = Record{}
			byAlias[sf.alias] = rec
		}
		rec[sf.field.Name] = normalizeValue(sf.field, values[i])
	}

	rootRec := byAlias[m.rootAlias]
	if rootRec == nil {
		return
	}
	key := m.identity(m.rootAlias, rootRec)
	node := m.rootIndex[key]
	if node == nil {
		node = newRecordNode(rootRec)
		m.rootIndex[key] = node
		m.roots = append(m.roots, node)
	}
	m.attachChildren(node, m.rootAlias, byAlias)
}

// attachChildren merges this row's slice of each selected relation under
// the parent node, descending depth first.
func (m *rowMapper) attachChildren(parent *recordNode, parentAlias string, byAlias map[string]Record) {
	for _, child := range m.children[parentAlias] {
		rec := byAlias[child.alias]
		if rec == nil || m.absent(child.alias, rec) {
			// The LEFT JOIN found no related row: surface an explicit
			// null or empty list instead of omitting the key.
			if child.toOne {
				if _, ok := parent.record[child.name]; !ok {
					parent.record[child.name] = nil
				}
			} else if parent.record[child.name] == nil {
				parent.record[child.name] = []Record{}
			}
			continue
		}

		key := m.identity(child.alias, rec)
		index := parent.children[child.name]
		if index == nil {
			index = make(map[string]*recordNode)
			parent.children[child.name] = index
		}
		node := index[key]
		if node == nil {
			node = newRecordNode(rec)
			index[key] = node
			if child.toOne {
				parent.record[child.name] = node.record
			} else {
				list, _ := parent.record[child.name].([]Record)
				parent.record[child.name] = append(list, node.record)
			}
		}
		m.attachChildren(node, child.alias, byAlias)
	}
}

// absent reports whether the joined row carried no entity: every key
// column NULL means the LEFT JOIN found no match.
func (m *rowMapper) absent(alias string, rec Record) bool {
	names := m.aliases[alias].keyFields
	if len(names) == 0 {
		names = m.aliases[alias].allFields
	}
	for _, name := range names {
		if rec[name] != nil {
			return false
		}
	}
	return true
}

func (m *rowMapper) identity(alias string, rec Record) string {
	names := m.aliases[alias].keyFields
	if len(names) == 0 {
		// No primary key, no identity: every scanned row is its own
		// record.
		m.serial++
		return fmt.Sprintf("#%d", m.serial)
	}
	values := make([]interface{}, len(names))
	for i, name := range names {
		values[i] = rec[name]
	}
	return valuesKey(values)
}

// valuesKey fingerprints a value tuple for identity comparison. Values are
// length-framed so composite tuples cannot collide across boundaries.
func valuesKey(values []interface{}) string {
	var b strings.Builder
	for _, v := range values {
		var s string
		switch val := v.(type) {
		case nil:
			b.WriteString("n;")
			continue
		case []byte:
			s = string(val)
		case string:
			s = val
		default:
			s = fmt.Sprint(val)
		}
		fmt.Fprintf(&b, "%d:%s;", len(s), s)
	}
	return b.String()
}

// normalizeValue converts a driver value into its engine representation.
// The MySQL text protocol hands most scalars over as []byte, which callers
// expect as strings; raw byte columns pass through untouched.
func normalizeValue(field *relmeta.Field, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	switch field.Type {
	case relmeta.FieldUUID:
		return normalizeUUID(field, value)
	case relmeta.FieldBytes:
		return value
	}
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// normalizeUUID renders stored UUID values in canonical lower-case form.
// Values that fail to parse pass through untouched so malformed rows stay
// visible.
func normalizeUUID(field *relmeta.Field, value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		if uuidutil.IsBinaryStorageType(field.DataType) {
			if _, canonical, err := uuidutil.ParseBytes(v); err == nil {
				return canonical
			}
			return v
		}
		if _, canonical, err := uuidutil.ParseString(string(v)); err == nil {
			return canonical
		}
		return string(v)
	case string:
		if _, canonical, err := uuidutil.ParseString(v); err == nil {
			return canonical
		}
		return v
	default:
		return value
	}
}
