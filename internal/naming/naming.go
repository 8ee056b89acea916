// Package naming converts SQL schema names into the entity and property
// names the query engine exposes, including pluralization, foreign-key
// derived relation names, and collision handling.
package naming

import (
	"log/slog"
	"strings"
)

// Namer provides the name transformations used while building the entity
// model from an introspected schema.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration.
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration.
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision resolver state, allowing the namer to be reused
// for a new schema build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// ToEntityName converts a table name to an entity name: singular PascalCase.
// Example: "invoice_details" -> "InvoiceDetail".
func (n *Namer) ToEntityName(tableName string) string {
	return toPascalCase(n.Singularize(tableName))
}

// ToPropertyName converts a column or table name to a property name (camelCase).
// Example: "client_id" -> "clientId".
func (n *Namer) ToPropertyName(name string) string {
	return toCamelCase(name)
}

// ManyToOnePropertyName derives the property name for a many-to-one relation
// from its FK column, with common suffixes stripped.
// Example: "client_id" -> "client", "created_by_user_id" -> "createdByUser".
func (n *Namer) ManyToOnePropertyName(fkColumn string) string {
	name := fkColumn
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return n.ToPropertyName(name)
}

// OneToManyPropertyName derives the property name for a one-to-many relation.
// With a single FK from the child table the pluralized child table name is
// enough; with several FKs the name is prefixed by the FK column for
// disambiguation. Example: isOnlyFK=false, fkColumn="author_id",
// childTable="posts" -> "authorPosts".
func (n *Namer) OneToManyPropertyName(childTable, fkColumn string, isOnlyFK bool) string {
	tablePlural := n.Pluralize(n.ToPropertyName(childTable))
	if isOnlyFK {
		return tablePlural
	}
	prefix := n.ManyToOnePropertyName(fkColumn)
	if len(tablePlural) > 0 {
		return prefix + strings.ToUpper(tablePlural[:1]) + tablePlural[1:]
	}
	return prefix
}

// ManyToManyPropertyName derives the property name for a many-to-many
// relation through a pure junction: the pluralized target table name.
// Example: "tags" -> "tags", "role" -> "roles".
func (n *Namer) ManyToManyPropertyName(targetTable string) string {
	return n.Pluralize(n.ToPropertyName(targetTable))
}

// RegisterEntity registers a table's entity name and returns the resolved
// name, suffixed when it collides with an earlier table.
func (n *Namer) RegisterEntity(tableName string) string {
	return n.resolver.RegisterEntity(n.ToEntityName(tableName), tableName)
}

// RegisterField registers a column-backed property and returns the resolved
// name. Columns register before relations, so they always keep their name.
func (n *Namer) RegisterField(entityName, columnName string) string {
	return n.resolver.RegisterProperty(entityName, n.ToPropertyName(columnName), "column:"+columnName)
}

// RegisterRelation registers a relation property and returns the resolved
// name. A collision with a column gets a kind-specific suffix before the
// numeric fallback.
func (n *Namer) RegisterRelation(entityName, propertyName, source string, toOne bool) string {
	if n.resolver.PropertyExists(entityName, propertyName) {
		if toOne {
			propertyName += "Ref"
		} else {
			propertyName += "Rel"
		}
	}
	return n.resolver.RegisterProperty(entityName, propertyName, "relation:"+source)
}

// toPascalCase converts snake_case to PascalCase.
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}

// toCamelCase converts snake_case to camelCase.
func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
