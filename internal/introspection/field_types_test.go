package introspection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"relquery/internal/relmeta"
)

func TestMapFieldType(t *testing.T) {
	tests := []struct {
		name string
		col  Column
		want relmeta.FieldType
	}{
		{"varchar", Column{DataType: "varchar", ColumnType: "varchar(255)"}, relmeta.FieldString},
		{"text", Column{DataType: "text", ColumnType: "text"}, relmeta.FieldString},
		{"int", Column{DataType: "int", ColumnType: "int(11)"}, relmeta.FieldInt},
		{"bigint", Column{DataType: "bigint", ColumnType: "bigint unsigned"}, relmeta.FieldInt},
		{"tinyint(1) is boolean", Column{DataType: "tinyint", ColumnType: "tinyint(1)"}, relmeta.FieldBool},
		{"wider tinyint stays integer", Column{DataType: "tinyint", ColumnType: "tinyint(4)"}, relmeta.FieldInt},
		{"double", Column{DataType: "double", ColumnType: "double"}, relmeta.FieldFloat},
		{"decimal", Column{DataType: "decimal", ColumnType: "decimal(10,2)"}, relmeta.FieldDecimal},
		{"date", Column{DataType: "date", ColumnType: "date"}, relmeta.FieldTime},
		{"datetime", Column{DataType: "datetime", ColumnType: "datetime"}, relmeta.FieldTime},
		{"timestamp", Column{DataType: "timestamp", ColumnType: "timestamp"}, relmeta.FieldTime},
		{"json", Column{DataType: "json", ColumnType: "json"}, relmeta.FieldJSON},
		{"enum", Column{DataType: "enum", ColumnType: "enum('a','b')"}, relmeta.FieldEnum},
		{"set", Column{DataType: "set", ColumnType: "set('a','b')"}, relmeta.FieldEnum},
		{"binary", Column{DataType: "binary", ColumnType: "binary(16)"}, relmeta.FieldBytes},
		{"blob", Column{DataType: "blob", ColumnType: "blob"}, relmeta.FieldBytes},
		{"uuid override wins", Column{DataType: "binary", ColumnType: "binary(16)", IsUUID: true}, relmeta.FieldUUID},
		{"case-insensitive", Column{DataType: "VARCHAR", ColumnType: "VARCHAR(40)"}, relmeta.FieldString},
		{"unknown defaults to string", Column{DataType: "geometry", ColumnType: "geometry"}, relmeta.FieldString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapFieldType(tt.col))
		})
	}
}
