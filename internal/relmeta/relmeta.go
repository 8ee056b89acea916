// Package relmeta defines the entity metadata model the query engine plans
// against: entities with typed fields, relations between entities with
// declared cardinality, and the relation graph analysis that aggregates
// cardinality along multi-hop paths.
package relmeta

// FieldType is the engine-level category of a field value, derived from the
// SQL column type during introspection.
type FieldType int

const (
	FieldUnknown FieldType = iota
	FieldString
	FieldInt
	FieldFloat
	FieldDecimal
	FieldBool
	FieldTime
	FieldBytes
	FieldUUID
	FieldEnum
	FieldJSON
)

var fieldTypeNames = map[FieldType]string{
	FieldUnknown: "unknown",
	FieldString:  "string",
	FieldInt:     "int",
	FieldFloat:   "float",
	FieldDecimal: "decimal",
	FieldBool:    "bool",
	FieldTime:    "time",
	FieldBytes:   "bytes",
	FieldUUID:    "uuid",
	FieldEnum:    "enum",
	FieldJSON:    "json",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets schema dumps render field types as their names.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Field describes one scalar property of an entity and the column backing it.
type Field struct {
	// Name is the property name callers use in filters and ordering (camelCase).
	Name string
	// Column is the SQL column name.
	Column string
	Type   FieldType
	// DataType is the base SQL type (e.g. "varchar"), ColumnType the full
	// definition (e.g. "varchar(255)", "enum('a','b')").
	DataType   string
	ColumnType string

	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	// EnumValues holds the allowed values when Type is FieldEnum.
	EnumValues []string
}

// Relation describes one hop from an entity to a target entity.
type Relation struct {
	// Name is the property name of the relation on the owning entity.
	Name   string
	Kind   Kind
	Target string

	// LocalColumns/RemoteColumns are the join columns on the owning and
	// target tables. For many-to-many they are the owning and target key
	// columns matched by the junction columns below.
	LocalColumns  []string
	RemoteColumns []string

	JunctionTable         string
	JunctionLocalColumns  []string
	JunctionRemoteColumns []string

	// ORM-layer flags carried through analysis, never computed here.
	Nullable bool
	Cascade  bool
	Eager    bool
	Lazy     bool
}

// Entity is one queryable entity and its backing table.
type Entity struct {
	// Name is the entity name (PascalCase singular).
	Name string
	// Table is the SQL table name.
	Table     string
	Fields    []Field
	Relations []Relation
}

// Field returns the field with the given property name, or nil.
func (e *Entity) Field(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// FieldByColumn returns the field backed by the given SQL column, or nil.
func (e *Entity) FieldByColumn(column string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Column == column {
			return &e.Fields[i]
		}
	}
	return nil
}

// Relation returns the direct relation with the given property name, or nil.
func (e *Entity) Relation(name string) *Relation {
	for i := range e.Relations {
		if e.Relations[i].Name == name {
			return &e.Relations[i]
		}
	}
	return nil
}

// PrimaryKey returns the primary key fields in declaration order.
func (e *Entity) PrimaryKey() []Field {
	var pk []Field
	for _, f := range e.Fields {
		if f.PrimaryKey {
			pk = append(pk, f)
		}
	}
	return pk
}

// Schema is the set of entities the engine can query.
type Schema struct {
	Entities []*Entity
}

// NewSchema builds a schema from the given entities.
func NewSchema(entities ...*Entity) *Schema {
	return &Schema{Entities: entities}
}

// Entity returns the entity with the given name, or nil.
func (s *Schema) Entity(name string) *Entity {
	for _, e := range s.Entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// EntityByTable returns the entity backed by the given table, or nil.
func (s *Schema) EntityByTable(table string) *Entity {
	for _, e := range s.Entities {
		if e.Table == table {
			return e
		}
	}
	return nil
}
