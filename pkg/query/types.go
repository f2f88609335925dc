// ABOUTME: Search criteria types for the entity store
// ABOUTME: Equality term filters, ascending field sorts and a result limit

package query

import "strings"

// TermQuery matches rows whose field equals Value.
type TermQuery struct {
	Field string
	Value any
}

// FieldSorting orders results ascending by Field.
type FieldSorting struct {
	Field string
}

// Criteria describes one search against a single definition
type Criteria struct {
	Filters  []TermQuery
	Sortings []FieldSorting
	Limit    int // 0 means unlimited
}

// NewCriteria creates empty criteria
func NewCriteria() *Criteria {
	return &Criteria{}
}

// Where adds an equality filter
func (c *Criteria) Where(field string, value any) *Criteria {
	c.Filters = append(c.Filters, TermQuery{Field: field, Value: value})
	return c
}

// OrderBy adds an ascending sort
func (c *Criteria) OrderBy(field string) *Criteria {
	c.Sortings = append(c.Sortings, FieldSorting{Field: field})
	return c
}

// WithLimit caps the number of ids returned
func (c *Criteria) WithLimit(limit int) *Criteria {
	c.Limit = limit
	return c
}

// Property strips a "definition." qualifier from a criteria field.
func Property(definition, field string) string {
	return strings.TrimPrefix(field, definition+".")
}
