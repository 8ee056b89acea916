// Package schemafilter decides which tables and columns of a discovered
// database schema become part of the entity model. Patterns are shell globs
// matched case-insensitively; deny rules always win.
package schemafilter

import (
	"path"
	"slices"
	"strings"
)

// Config controls allow/deny filters for tables and columns. Column maps
// are keyed by table name pattern; the "*" key applies to every table.
type Config struct {
	AllowTables      []string            `mapstructure:"allow_tables"`
	DenyTables       []string            `mapstructure:"deny_tables"`
	ScanViewsEnabled bool                `mapstructure:"scan_views_enabled"`
	AllowColumns     map[string][]string `mapstructure:"allow_columns"`
	DenyColumns      map[string][]string `mapstructure:"deny_columns"`
}

// Filter answers allow/deny questions during schema discovery.
type Filter struct {
	cfg Config
}

// New compiles a filter from its configuration. The zero Config allows all
// tables and columns and hides views.
func New(cfg Config) *Filter {
	return &Filter{cfg: cfg}
}

// TableAllowed reports whether a table may enter the entity model. Views
// are hidden unless scanning them is enabled.
func (f *Filter) TableAllowed(table string, isView bool) bool {
	if isView && !f.cfg.ScanViewsEnabled {
		return false
	}
	if matchesAny(table, f.cfg.DenyTables) {
		return false
	}
	if len(f.cfg.AllowTables) == 0 {
		return true
	}
	return matchesAny(table, f.cfg.AllowTables)
}

// ColumnAllowed reports whether a column of an allowed table may enter the
// entity model.
func (f *Filter) ColumnAllowed(table, column string) bool {
	if matchesAny(column, f.mergePatterns(f.cfg.DenyColumns, table)) {
		return false
	}
	allow := f.mergePatterns(f.cfg.AllowColumns, table)
	if len(allow) == 0 {
		return true
	}
	return matchesAny(column, allow)
}

func (f *Filter) mergePatterns(patterns map[string][]string, table string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	combined = append(combined, patterns[table]...)
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// matching should be case-insensitive
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
