package introspection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUUIDOverrides(t *testing.T) {
	tables := []Table{
		{
			Name: "orders",
			Columns: []Column{
				{Name: "id", DataType: "binary", ColumnType: "binary(16)"},
				{Name: "customer_uuid", DataType: "varchar", ColumnType: "varchar(36)"},
				{Name: "notes", DataType: "varchar", ColumnType: "varchar(255)"},
			},
		},
		{
			Name: "events",
			Columns: []Column{
				{Name: "event_uuid", DataType: "char", ColumnType: "char(36)"},
			},
		},
	}

	err := applyUUIDOverrides(tables, map[string][]string{
		"*":      {"*_uuid"},
		"orders": {"id"},
	})
	require.NoError(t, err)

	orders := tables[0]
	assert.True(t, orders.Columns[0].IsUUID)
	assert.True(t, orders.Columns[1].IsUUID)
	assert.False(t, orders.Columns[2].IsUUID)

	events := tables[1]
	assert.True(t, events.Columns[0].IsUUID)
}

func TestApplyUUIDOverrides_TablePatternCaseInsensitive(t *testing.T) {
	tables := []Table{
		{
			Name: "Orders",
			Columns: []Column{
				{Name: "id", DataType: "binary", ColumnType: "binary(16)"},
			},
		},
	}

	err := applyUUIDOverrides(tables, map[string][]string{
		"orders": {"id"},
	})
	require.NoError(t, err)
	assert.True(t, tables[0].Columns[0].IsUUID)
}

func TestApplyUUIDOverrides_TableGlobPattern(t *testing.T) {
	tables := []Table{
		{
			Name: "order_events",
			Columns: []Column{
				{Name: "event_uuid", DataType: "char", ColumnType: "char(36)"},
			},
		},
	}

	err := applyUUIDOverrides(tables, map[string][]string{
		"order_*": {"*_uuid"},
	})
	require.NoError(t, err)
	assert.True(t, tables[0].Columns[0].IsUUID)
}

func TestApplyUUIDOverrides_InvalidType(t *testing.T) {
	tables := []Table{
		{
			Name: "files",
			Columns: []Column{
				{Name: "file_uuid", DataType: "blob", ColumnType: "blob"},
			},
		},
	}

	err := applyUUIDOverrides(tables, map[string][]string{
		"*": {"*_uuid"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported SQL type")
}

func TestApplyUUIDOverrides_InvalidBinaryLength(t *testing.T) {
	tables := []Table{
		{
			Name: "orders",
			Columns: []Column{
				{Name: "id", DataType: "binary", ColumnType: "binary(8)"},
			},
		},
	}

	err := applyUUIDOverrides(tables, map[string][]string{
		"orders": {"id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length 16")
}

func TestApplyUUIDOverrides_InvalidTextLength(t *testing.T) {
	tables := []Table{
		{
			Name: "orders",
			Columns: []Column{
				{Name: "id", DataType: "char", ColumnType: "char(10)"},
			},
		},
	}

	err := applyUUIDOverrides(tables, map[string][]string{
		"orders": {"id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length >= 36")
}

func TestMergePatterns_DeduplicatesAdjacent(t *testing.T) {
	patterns := map[string][]string{
		"*":      {"*_uuid", "id"},
		"orders": {"id", "customer_uuid"},
	}

	merged := mergePatterns(patterns, "orders")
	assert.Equal(t, []string{"*_uuid", "id", "customer_uuid"}, merged)
}
