// Package introspection discovers the entity metadata model from a MySQL
// information_schema catalog. It reads tables, columns, primary keys,
// foreign keys with their delete rules, and indexes, then assembles them
// into relmeta entities with typed fields and cardinality-classified
// relations: many-to-one from foreign keys, one-to-many inverses,
// one-to-one where a unique constraint pins the child side, and
// many-to-many through pure junction tables.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relquery/internal/naming"
	"relquery/internal/relmeta"
	"relquery/internal/schemafilter"
)

// Column represents a database column.
type Column struct {
	Name            string
	DataType        string
	ColumnType      string
	IsNullable      bool
	IsPrimaryKey    bool
	IsAutoIncrement bool
	HasDefault      bool
	ColumnDefault   string
	EnumValues      []string
	Comment         string
	// IsUUID marks columns resolved as UUID storage via configured
	// type mapping patterns.
	IsUUID bool
}

// ForeignKey represents one column of a foreign key constraint, as reported
// by KEY_COLUMN_USAGE. Multi-column constraints appear as multiple rows
// sharing a ConstraintName; ForeignKeyConstraints groups them.
type ForeignKey struct {
	ColumnName       string // e.g., "client_id"
	ReferencedTable  string // e.g., "clients"
	ReferencedColumn string // e.g., "id"
	ConstraintName   string // e.g., "invoices_ibfk_1"
	OrdinalPosition  int    // Column position within the FK constraint
	DeleteRule       string // e.g., "CASCADE", "SET NULL"
}

// Index represents a database index with ordered columns.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// Table represents a database table or view.
type Table struct {
	Name        string
	IsView      bool
	Comment     string
	Columns     []Column
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Option configures a discovery run.
type Option func(*options)

type options struct {
	filter       *schemafilter.Filter
	namer        *naming.Namer
	uuidPatterns map[string][]string
	logger       *slog.Logger
}

// WithFilter restricts which tables and columns enter the entity model.
func WithFilter(f *schemafilter.Filter) Option {
	return func(o *options) {
		if f != nil {
			o.filter = f
		}
	}
}

// WithNamer overrides the namer used for entity and property names.
func WithNamer(n *naming.Namer) Option {
	return func(o *options) {
		if n != nil {
			o.namer = n
		}
	}
}

// WithUUIDColumns declares table/column glob patterns whose columns store
// UUID values. Columns matching a pattern must use a compatible SQL type,
// otherwise discovery fails.
func WithUUIDColumns(patterns map[string][]string) Option {
	return func(o *options) { o.uuidPatterns = patterns }
}

// WithLogger sets the logger for discovery warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Discover queries information_schema and builds the entity metadata model
// the query engine plans against. Tables become entities, columns become
// typed fields, and foreign keys become relations; pure junction tables
// collapse into many-to-many relations and do not appear as entities.
func Discover(ctx context.Context, db Queryer, databaseName string, opts ...Option) (*relmeta.Schema, error) {
	o := &options{
		filter: schemafilter.New(schemafilter.Config{}),
		namer:  naming.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	ctx, span := startSpan(ctx, "introspection.discover",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	tables, err := loadTables(ctx, db, databaseName, o.filter)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if err := applyUUIDOverrides(tables, o.uuidPatterns); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	junctions := classifyJunctions(tables)
	entities := buildEntities(tables, junctions, o.namer, o.logger)

	span.SetAttributes(
		attribute.Int("schema.tables", len(tables)),
		attribute.Int("schema.entities", len(entities)),
	)
	return relmeta.NewSchema(entities...), nil
}

// loadTables reads the raw catalog metadata for every allowed table.
func loadTables(ctx context.Context, db Queryer, databaseName string, filter *schemafilter.Filter) ([]Table, error) {
	infos, err := getTables(ctx, db, databaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	var tables []Table
	allowedColumns := make(map[string]map[string]bool)
	for _, info := range infos {
		if !filter.TableAllowed(info.Name, info.IsView) {
			continue
		}

		columns, err := getColumns(ctx, db, databaseName, info.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to get columns for %s: %w", info.Name, err)
		}
		kept := columns[:0]
		colSet := make(map[string]bool, len(columns))
		for _, col := range columns {
			if !filter.ColumnAllowed(info.Name, col.Name) {
				continue
			}
			kept = append(kept, col)
			colSet[col.Name] = true
		}
		columns = kept
		allowedColumns[info.Name] = colSet

		var primaryKeys []string
		var foreignKeys []ForeignKey
		var indexes []Index
		if !info.IsView {
			primaryKeys, err = getPrimaryKeys(ctx, db, databaseName, info.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to get primary keys for table %s: %w", info.Name, err)
			}
			foreignKeys, err = getForeignKeys(ctx, db, databaseName, info.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", info.Name, err)
			}
			indexes, err = getIndexes(ctx, db, databaseName, info.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to get indexes for table %s: %w", info.Name, err)
			}
		}

		for i := range columns {
			for _, pk := range primaryKeys {
				if columns[i].Name == pk {
					columns[i].IsPrimaryKey = true
					break
				}
			}
		}

		tables = append(tables, Table{
			Name:        info.Name,
			IsView:      info.IsView,
			Comment:     info.Comment,
			Columns:     columns,
			ForeignKeys: foreignKeys,
			Indexes:     indexes,
		})
	}

	pruneFilteredReferences(tables, allowedColumns)
	return tables, nil
}

// pruneFilteredReferences drops foreign keys and indexes that mention
// columns or tables excluded by the filter, so relation building never
// reaches outside the allowed model.
func pruneFilteredReferences(tables []Table, allowedColumns map[string]map[string]bool) {
	for i := range tables {
		table := &tables[i]
		localCols := allowedColumns[table.Name]

		keptFKs := table.ForeignKeys[:0]
		for _, fk := range table.ForeignKeys {
			refCols, refAllowed := allowedColumns[fk.ReferencedTable]
			if !localCols[fk.ColumnName] || !refAllowed || !refCols[fk.ReferencedColumn] {
				continue
			}
			keptFKs = append(keptFKs, fk)
		}
		table.ForeignKeys = keptFKs

		keptIdx := table.Indexes[:0]
		for _, idx := range table.Indexes {
			complete := true
			for _, col := range idx.Columns {
				if !localCols[col] {
					complete = false
					break
				}
			}
			if complete {
				keptIdx = append(keptIdx, idx)
			}
		}
		table.Indexes = keptIdx
	}
}

type tableInfo struct {
	Name    string
	IsView  bool
	Comment string
}

func getTables(ctx context.Context, db Queryer, databaseName string) ([]tableInfo, error) {
	ctx, span := startSpan(ctx, "introspection.get_tables",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	query := `
		SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME
	`

	rows, err := db.QueryContext(ctx, query, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []tableInfo
	for rows.Next() {
		var tableName string
		var tableType string
		var tableComment sql.NullString
		if err := rows.Scan(&tableName, &tableType, &tableComment); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		comment := ""
		if tableComment.Valid {
			comment = strings.TrimSpace(tableComment.String)
		}
		tables = append(tables, tableInfo{
			Name:    tableName,
			IsView:  strings.EqualFold(tableType, "VIEW"),
			Comment: comment,
		})
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return tables, nil
}

func getColumns(ctx context.Context, db Queryer, databaseName, tableName string) ([]Column, error) {
	ctx, span := startSpan(ctx, "introspection.get_columns",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			COLUMN_TYPE,
			COLUMN_COMMENT,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []Column
	for rows.Next() {
		var col Column
		var isNullable string
		var columnDefault sql.NullString
		var extra string
		var columnType string
		var columnComment sql.NullString
		if err := rows.Scan(&col.Name, &col.DataType, &columnType, &columnComment, &isNullable, &columnDefault, &extra); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		col.ColumnType = columnType
		if columnComment.Valid {
			col.Comment = strings.TrimSpace(columnComment.String)
		}
		col.IsNullable = strings.ToUpper(isNullable) == "YES"
		if columnDefault.Valid {
			col.ColumnDefault = columnDefault.String
			col.HasDefault = true
		}
		col.IsAutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		if strings.EqualFold(col.DataType, "enum") {
			values, err := parseEnumValues(columnType)
			if err != nil {
				slog.Default().Warn("failed to parse enum values", slog.String("column", col.Name), slog.String("type", columnType), slog.String("error", err.Error()))
			} else {
				col.EnumValues = values
			}
		} else if strings.EqualFold(col.DataType, "set") {
			values, err := parseSetValues(columnType)
			if err != nil {
				slog.Default().Warn("failed to parse set values", slog.String("column", col.Name), slog.String("type", columnType), slog.String("error", err.Error()))
			} else {
				col.EnumValues = values
			}
		}
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

func getPrimaryKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error) {
	ctx, span := startSpan(ctx, "introspection.get_primary_keys",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var primaryKeys []string
	for rows.Next() {
		var columnName string
		if err := rows.Scan(&columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		primaryKeys = append(primaryKeys, columnName)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return primaryKeys, nil
}

func getForeignKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]ForeignKey, error) {
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	// REFERENTIAL_CONSTRAINTS carries the delete rule, which decides the
	// Cascade flag on the inverse one-to-many relation.
	query := `
		SELECT
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME,
			kcu.CONSTRAINT_NAME,
			kcu.ORDINAL_POSITION,
			rc.DELETE_RULE
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		LEFT JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
			ON rc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA
			AND rc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND rc.TABLE_NAME = kcu.TABLE_NAME
		WHERE kcu.TABLE_SCHEMA = ?
			AND kcu.TABLE_NAME = ?
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var foreignKeys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var deleteRule sql.NullString
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable,
			&fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition, &deleteRule); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if deleteRule.Valid {
			fk.DeleteRule = strings.ToUpper(strings.TrimSpace(deleteRule.String))
		}
		foreignKeys = append(foreignKeys, fk)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return foreignKeys, nil
}

func getIndexes(ctx context.Context, db Queryer, databaseName, tableName string) ([]Index, error) {
	ctx, span := startSpan(ctx, "introspection.get_indexes",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT
			INDEX_NAME,
			NON_UNIQUE,
			SEQ_IN_INDEX,
			COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var order []string
	indexByName := make(map[string]*Index)
	for rows.Next() {
		var indexName string
		var nonUnique int
		var seq int
		var columnName string
		if err := rows.Scan(&indexName, &nonUnique, &seq, &columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}

		index, ok := indexByName[indexName]
		if !ok {
			index = &Index{
				Name:   indexName,
				Unique: nonUnique == 0,
			}
			indexByName[indexName] = index
			order = append(order, indexName)
		}
		index.Columns = append(index.Columns, columnName)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	indexes := make([]Index, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *indexByName[name])
	}
	return indexes, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relquery/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
