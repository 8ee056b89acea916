package introspection

// junctionInfo describes a pure junction table: a table whose only purpose
// is linking two other tables. Pure junctions collapse into many-to-many
// relations between their endpoints and never become entities themselves.
type junctionInfo struct {
	table string
	// leftFK and rightFK are ordered alphabetically by referenced table
	// for consistent naming.
	leftFK  ForeignKeyConstraint
	rightFK ForeignKeyConstraint
}

// classifyJunctions returns the pure junction tables of a schema, keyed by
// table name. A table qualifies when:
//   - it has exactly 2 foreign key constraints to two different tables
//   - both referenced tables exist in the schema
//   - all FK columns are NOT NULL
//   - a primary key or unique index covers all FK columns
//   - it carries no columns beyond the FK columns
//
// Tables that link two others but carry extra attributes stay regular
// entities; their edges surface as ordinary one-to-many relations.
func classifyJunctions(tables []Table) map[string]junctionInfo {
	names := make(map[string]bool, len(tables))
	for _, table := range tables {
		names[table.Name] = true
	}

	result := make(map[string]junctionInfo)
	for _, table := range tables {
		if table.IsView {
			continue
		}
		if info, ok := classifyTable(table, names); ok {
			result[table.Name] = info
		}
	}
	return result
}

func classifyTable(table Table, tables map[string]bool) (junctionInfo, bool) {
	constraints := ForeignKeyConstraints(table)
	if len(constraints) != 2 {
		return junctionInfo{}, false
	}

	left, right := constraints[0], constraints[1]
	if left.ReferencedTable == right.ReferencedTable {
		return junctionInfo{}, false
	}
	if !tables[left.ReferencedTable] || !tables[right.ReferencedTable] {
		return junctionInfo{}, false
	}

	fkCols := make(map[string]bool)
	for _, c := range constraints {
		for _, col := range c.ColumnNames {
			fkCols[col] = true
		}
	}

	for _, col := range table.Columns {
		if fkCols[col.Name] && col.IsNullable {
			return junctionInfo{}, false
		}
		if !fkCols[col.Name] {
			// Extra columns make this an attribute-bearing link table,
			// which keeps its own entity.
			return junctionInfo{}, false
		}
	}

	if !hasCoveringConstraint(table, fkCols) {
		return junctionInfo{}, false
	}

	if left.ReferencedTable > right.ReferencedTable {
		left, right = right, left
	}
	return junctionInfo{table: table.Name, leftFK: left, rightFK: right}, true
}

// hasCoveringConstraint checks if there's a PK or unique index covering all FK columns.
func hasCoveringConstraint(table Table, fkCols map[string]bool) bool {
	pkCols := make(map[string]bool)
	for _, col := range table.Columns {
		if col.IsPrimaryKey {
			pkCols[col.Name] = true
		}
	}
	if len(pkCols) > 0 && coversAll(pkCols, fkCols) {
		return true
	}

	for _, idx := range table.Indexes {
		if !idx.Unique {
			continue
		}
		idxCols := make(map[string]bool)
		for _, col := range idx.Columns {
			idxCols[col] = true
		}
		if coversAll(idxCols, fkCols) {
			return true
		}
	}
	return false
}

// coversAll returns true if 'covering' contains all keys from 'required'.
func coversAll(covering, required map[string]bool) bool {
	for col := range required {
		if !covering[col] {
			return false
		}
	}
	return true
}
