// Package sqlutil provides SQL identifier and literal helpers shared by the
// query planner.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, alias)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// Qualify returns the quoted alias-qualified column reference `alias`.`column`.
func Qualify(alias, column string) string {
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

// likeEscaper escapes the MySQL LIKE wildcards and the escape character
// itself, so a literal can be embedded in a pattern without matching
// unintended rows ("50%" must not behave as a wildcard).
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes a literal for embedding into a LIKE pattern.
func EscapeLike(literal string) string {
	return likeEscaper.Replace(literal)
}
