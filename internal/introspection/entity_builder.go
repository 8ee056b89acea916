package introspection

import (
	"log/slog"
	"sort"
	"strings"

	"relquery/internal/naming"
	"relquery/internal/relmeta"
)

// buildEntities assembles the entity model from raw catalog metadata.
// Tables become entities in catalog order, columns become typed fields,
// and foreign keys become relations in four passes: to-one relations from
// each table's FK constraints, their one-to-many (or one-to-one) inverses,
// and many-to-many relations through pure junction tables. Pure junctions
// themselves never become entities.
func buildEntities(tables []Table, junctions map[string]junctionInfo, namer *naming.Namer, logger *slog.Logger) []*relmeta.Entity {
	namer.Reset()

	// Emit each unsupported composite warning once per schema build.
	warned := make(map[string]struct{})
	warnCompositeSkip := func(kind, tableName, constraintName string, localCols []string, remoteTable string, remoteCols []string, reason string) {
		key := strings.Join([]string{
			kind,
			tableName,
			constraintName,
			strings.Join(localCols, ","),
			remoteTable,
			strings.Join(remoteCols, ","),
			reason,
		}, "|")
		if _, seen := warned[key]; seen {
			return
		}
		warned[key] = struct{}{}
		logger.Warn("skipping unsupported composite relationship mapping",
			"kind", kind,
			"table", tableName,
			"constraint", constraintName,
			"local_columns", localCols,
			"remote_table", remoteTable,
			"remote_columns", remoteCols,
			"reason", reason,
		)
	}

	// Count FK constraints per (source table, target table) pair. When a
	// table references the same target through several constraints, inverse
	// relation names need the FK column as a disambiguating prefix.
	fkCount := make(map[string]map[string]int)
	for _, table := range tables {
		if table.IsView {
			continue
		}
		for _, fk := range ForeignKeyConstraints(table) {
			if fkCount[table.Name] == nil {
				fkCount[table.Name] = make(map[string]int)
			}
			fkCount[table.Name][fk.ReferencedTable]++
		}
	}

	// First pass: entities and their fields. Pure junctions are collapsed,
	// so they never surface as entities.
	var entities []*relmeta.Entity
	entityByTable := make(map[string]*relmeta.Entity)
	for i := range tables {
		table := &tables[i]
		if _, isJunction := junctions[table.Name]; isJunction {
			continue
		}

		entityName := namer.RegisterEntity(table.Name)
		entity := &relmeta.Entity{Name: entityName, Table: table.Name}
		for _, col := range table.Columns {
			entity.Fields = append(entity.Fields, relmeta.Field{
				Name:          namer.RegisterField(entityName, col.Name),
				Column:        col.Name,
				Type:          mapFieldType(col),
				DataType:      col.DataType,
				ColumnType:    col.ColumnType,
				Nullable:      col.IsNullable,
				PrimaryKey:    col.IsPrimaryKey,
				AutoIncrement: col.IsAutoIncrement,
				EnumValues:    col.EnumValues,
			})
		}
		entities = append(entities, entity)
		entityByTable[table.Name] = entity
	}

	// Second pass: to-one relations from FK constraints. The relation is
	// one-to-one instead of many-to-one when a unique constraint on the FK
	// columns pins the owning side to a single row.
	for _, table := range tables {
		entity := entityByTable[table.Name]
		if entity == nil || table.IsView {
			continue
		}
		for _, fk := range ForeignKeyConstraints(table) {
			target := entityByTable[fk.ReferencedTable]
			if target == nil {
				continue
			}
			if len(fk.ColumnNames) == 0 || len(fk.ColumnNames) != len(fk.ReferencedColumns) {
				warnCompositeSkip("to_one", table.Name, fk.ConstraintName, fk.ColumnNames, fk.ReferencedTable, fk.ReferencedColumns, "invalid_foreign_key_mapping")
				continue
			}

			kind := relmeta.ManyToOne
			if fkForcesSingleRow(table, fk.ColumnNames) {
				kind = relmeta.OneToOne
			}
			name := namer.RegisterRelation(entity.Name, namer.ManyToOnePropertyName(fk.ColumnNames[0]), fk.ConstraintName, true)
			entity.Relations = append(entity.Relations, relmeta.Relation{
				Name:          name,
				Kind:          kind,
				Target:        target.Name,
				LocalColumns:  append([]string(nil), fk.ColumnNames...),
				RemoteColumns: append([]string(nil), fk.ReferencedColumns...),
				Nullable:      anyColumnNullable(table, fk.ColumnNames),
			})
		}
	}

	// Third pass: inverse relations on the referenced side. A single FK
	// from the child names the relation after the child table; several FKs
	// to the same target prefix the FK column for disambiguation. A unique
	// FK makes the inverse one-to-one instead of one-to-many.
	for _, table := range tables {
		entity := entityByTable[table.Name]
		if entity == nil || table.IsView {
			continue
		}
		for _, child := range tables {
			if child.IsView {
				continue
			}
			if _, isJunction := junctions[child.Name]; isJunction {
				continue
			}
			childEntity := entityByTable[child.Name]
			if childEntity == nil {
				continue
			}
			for _, fk := range ForeignKeyConstraints(child) {
				if fk.ReferencedTable != table.Name {
					continue
				}
				if len(fk.ColumnNames) != 1 || len(fk.ReferencedColumns) != 1 {
					warnCompositeSkip("inverse", child.Name, fk.ConstraintName, fk.ColumnNames, table.Name, fk.ReferencedColumns, "composite_inverse_not_supported")
					continue
				}

				isOnlyFK := fkCount[child.Name][table.Name] == 1
				property := namer.OneToManyPropertyName(child.Name, fk.ColumnNames[0], isOnlyFK)
				kind := relmeta.OneToMany
				toOne := false
				nullable := false
				if fkForcesSingleRow(child, fk.ColumnNames) {
					// The child row is unique per parent, so the inverse
					// collapses to an optional to-one property.
					kind = relmeta.OneToOne
					toOne = true
					nullable = true
					property = namer.Singularize(property)
				}
				name := namer.RegisterRelation(entity.Name, property, child.Name+"."+fk.ConstraintName, toOne)
				entity.Relations = append(entity.Relations, relmeta.Relation{
					Name:          name,
					Kind:          kind,
					Target:        childEntity.Name,
					LocalColumns:  append([]string(nil), fk.ReferencedColumns...),
					RemoteColumns: append([]string(nil), fk.ColumnNames...),
					Nullable:      nullable,
					Cascade:       fk.DeleteRule == "CASCADE",
				})
			}
		}
	}

	// Fourth pass: many-to-many relations through pure junctions, in both
	// directions. The junction's FK columns carry the join; the endpoints
	// contribute the referenced key columns.
	junctionNames := make([]string, 0, len(junctions))
	for name := range junctions {
		junctionNames = append(junctionNames, name)
	}
	sort.Strings(junctionNames)

	for _, junctionName := range junctionNames {
		jc := junctions[junctionName]
		left := entityByTable[jc.leftFK.ReferencedTable]
		right := entityByTable[jc.rightFK.ReferencedTable]
		if left == nil || right == nil {
			continue
		}

		leftName := namer.RegisterRelation(left.Name, namer.ManyToManyPropertyName(jc.rightFK.ReferencedTable), jc.table, false)
		left.Relations = append(left.Relations, relmeta.Relation{
			Name:                  leftName,
			Kind:                  relmeta.ManyToMany,
			Target:                right.Name,
			LocalColumns:          append([]string(nil), jc.leftFK.ReferencedColumns...),
			RemoteColumns:         append([]string(nil), jc.rightFK.ReferencedColumns...),
			JunctionTable:         jc.table,
			JunctionLocalColumns:  append([]string(nil), jc.leftFK.ColumnNames...),
			JunctionRemoteColumns: append([]string(nil), jc.rightFK.ColumnNames...),
		})

		rightName := namer.RegisterRelation(right.Name, namer.ManyToManyPropertyName(jc.leftFK.ReferencedTable), jc.table, false)
		right.Relations = append(right.Relations, relmeta.Relation{
			Name:                  rightName,
			Kind:                  relmeta.ManyToMany,
			Target:                left.Name,
			LocalColumns:          append([]string(nil), jc.rightFK.ReferencedColumns...),
			RemoteColumns:         append([]string(nil), jc.leftFK.ReferencedColumns...),
			JunctionTable:         jc.table,
			JunctionLocalColumns:  append([]string(nil), jc.rightFK.ColumnNames...),
			JunctionRemoteColumns: append([]string(nil), jc.leftFK.ColumnNames...),
		})
	}

	return entities
}

// fkForcesSingleRow reports whether a unique constraint limits the table to
// at most one row per FK value: the primary key or some unique index must
// use only columns of the FK.
func fkForcesSingleRow(table Table, fkColumns []string) bool {
	fkCols := make(map[string]bool, len(fkColumns))
	for _, col := range fkColumns {
		fkCols[col] = true
	}

	pk := PrimaryKeyColumns(table)
	if len(pk) > 0 {
		all := true
		for _, col := range pk {
			if !fkCols[col.Name] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}

	for _, idx := range table.Indexes {
		if !idx.Unique || len(idx.Columns) == 0 {
			continue
		}
		all := true
		for _, col := range idx.Columns {
			if !fkCols[col] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func anyColumnNullable(table Table, columns []string) bool {
	for _, name := range columns {
		for _, col := range table.Columns {
			if col.Name == name && col.IsNullable {
				return true
			}
		}
	}
	return false
}
