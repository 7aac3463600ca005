package search

// QueryKind selects the query type
type QueryKind int

// Query kinds
const (
	KindMatchAll QueryKind = iota
	KindMatch
)

// Query is a backend-independent full-text query over one entity type
type Query struct {
	Entity string
	Kind   QueryKind
	Field  string
	Text   string
}

// QueryContextBuilder selects the entity a query builder targets
type QueryContextBuilder struct {
	entity string
}

// ForEntity sets the target entity type
func (b *QueryContextBuilder) ForEntity(entity string) *QueryContextBuilder {
	b.entity = entity
	return b
}

// Get returns the query builder for the selected entity
func (b *QueryContextBuilder) Get() *QueryBuilder {
	return &QueryBuilder{entity: b.entity}
}

// QueryBuilder creates queries for a single entity type
type QueryBuilder struct {
	entity string
}

// All matches every indexed instance of the entity
func (b *QueryBuilder) All() Query {
	return Query{Entity: b.entity, Kind: KindMatchAll}
}

// Keyword matches instances whose analysed field contains any term of text
func (b *QueryBuilder) Keyword(field, text string) Query {
	return Query{Entity: b.entity, Kind: KindMatch, Field: field, Text: text}
}
