package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered entity and property names and resolves
// collisions by applying numeric suffixes when duplicates are detected.
type CollisionResolver struct {
	seenEntities   map[string]string            // entity name → source table
	seenProperties map[string]map[string]string // entity name → property name → source
	logger         *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seenEntities:   make(map[string]string),
		seenProperties: make(map[string]map[string]string),
		logger:         logger,
	}
}

// RegisterEntity registers an entity name and returns the resolved name.
func (c *CollisionResolver) RegisterEntity(entityName, tableName string) string {
	return c.resolveCollision(entityName, c.seenEntities, "table:"+tableName)
}

// RegisterProperty registers a property name within an entity and returns
// the resolved name.
func (c *CollisionResolver) RegisterProperty(entityName, propertyName, source string) string {
	if c.seenProperties[entityName] == nil {
		c.seenProperties[entityName] = make(map[string]string)
	}
	return c.resolveCollision(propertyName, c.seenProperties[entityName], source)
}

// PropertyExists checks whether a property name is already taken on an entity.
func (c *CollisionResolver) PropertyExists(entityName, propertyName string) bool {
	if props, ok := c.seenProperties[entityName]; ok {
		_, exists := props[propertyName]
		return exists
	}
	return false
}

// resolveCollision attempts to register a name in the given map. If the name
// already exists, finds the next available numeric suffix.
func (c *CollisionResolver) resolveCollision(name string, seen map[string]string, source string) string {
	if _, exists := seen[name]; !exists {
		seen[name] = source
		return name
	}

	existingSource := seen[name]
	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", existingSource),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", name, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}
