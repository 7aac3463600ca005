package cache

import "fmt"

// EntityKey generates the ENTITIES cache key for an entity instance
func EntityKey(entity, id string) string {
	return fmt.Sprintf("%s#%s", entity, id)
}

// AssociationKey generates the ASSOCIATIONS cache key for a collection role
func AssociationKey(entity, id, role string) string {
	return fmt.Sprintf("%s#%s#%s", entity, id, role)
}
