package introspection

import (
	"strings"

	"relquery/internal/relmeta"
)

// mapFieldType converts a discovered column to its engine-level field type.
// The SQL type match is case-insensitive; tinyint(1) is treated as boolean
// per MySQL convention, and storage resolved as UUID wins over the SQL type.
func mapFieldType(col Column) relmeta.FieldType {
	if col.IsUUID {
		return relmeta.FieldUUID
	}
	switch strings.ToLower(col.DataType) {
	case "tinyint":
		if strings.HasPrefix(strings.ToLower(col.ColumnType), "tinyint(1)") {
			return relmeta.FieldBool
		}
		return relmeta.FieldInt
	// Integer Numeric Data Types
	case "smallint", "mediumint", "int", "integer", "bigint", "serial", "bit", "year":
		return relmeta.FieldInt
	// Floating Point Numeric Data Types
	case "float", "double", "real":
		return relmeta.FieldFloat
	// Fixed-Point Numeric Data Types
	case "decimal", "numeric":
		return relmeta.FieldDecimal
	// Boolean Data Type
	case "bool", "boolean":
		return relmeta.FieldBool
	// Date and Time Data Types
	case "date", "datetime", "timestamp", "time":
		return relmeta.FieldTime
	// JSON Type
	case "json":
		return relmeta.FieldJSON
	case "enum", "set":
		return relmeta.FieldEnum
	// Binary Data Types
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return relmeta.FieldBytes
	// String Data Types
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext":
		return relmeta.FieldString
	default:
		return relmeta.FieldString
	}
}
