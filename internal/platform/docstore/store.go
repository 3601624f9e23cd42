// Package docstore is the schema-less resource store. Callers address fields
// with dot paths and express predicates with a fixed set of operator objects;
// the engines (memory, PostgreSQL JSONB) share that vocabulary.
package docstore

import (
	"context"
	"errors"
	"strings"
)

// Document is a stored resource. Nested objects are map[string]any, arrays
// are []any and numbers are float64, the shape encoding/json produces.
type Document = map[string]any

// Condition is a predicate object with dot-path keys and operator values.
type Condition = map[string]any

// RowKey is the internal row identifier every engine adds to documents.
const RowKey = "_id"

// TextOr is the disjunction token understood by $text searches.
const TextOr = " or "

var (
	ErrNotFound  = errors.New("docstore: no document matched")
	ErrDuplicate = errors.New("docstore: resourceType/id already stored")
)

// Operators accepted in conditions.
const (
	OpEq        = "$eq"
	OpNe        = "$ne"
	OpGt        = "$gt"
	OpGte       = "$gte"
	OpLt        = "$lt"
	OpLte       = "$lte"
	OpIn        = "$in"
	OpNin       = "$nin"
	OpAll       = "$all"
	OpExists    = "$exists"
	OpElemMatch = "$elemMatch"
	OpRegex     = "$regex"
	OpOptions   = "$options"
	OpAnd       = "$and"
	OpOr        = "$or"
	OpNor       = "$nor"
	OpText      = "$text"
	OpSearch    = "$search"
)

// IsOperator reports whether key is a reserved operator token.
func IsOperator(key string) bool {
	return strings.HasPrefix(key, "$")
}

// IsOperatorObject reports whether every key of m is an operator token.
// Empty maps are not operator objects.
func IsOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !IsOperator(k) {
			return false
		}
	}
	return true
}

// SortField orders results by a dot path. Direction is 1 or -1.
type SortField struct {
	Field     string
	Direction int
}

type FindOptions struct {
	Projection map[string]any
	Sort       []SortField
	Skip       int
	// Limit of 0 returns every match.
	Limit int
}

// Update is an atomic modification: Set assigns dot paths, Push appends a
// value to the array at each path.
type Update struct {
	Set  map[string]any
	Push map[string]any
}

// Store is the document-store contract. FindOne, ReplaceOne and UpdateOne
// return ErrNotFound when nothing matched; Insert returns ErrDuplicate when a
// document with the same resourceType and id is already stored.
type Store interface {
	FindOne(ctx context.Context, cond Condition, projection map[string]any) (Document, error)
	Find(ctx context.Context, cond Condition, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, cond Condition) (int, error)
	Insert(ctx context.Context, doc Document) (Document, error)
	ReplaceOne(ctx context.Context, cond Condition, doc Document) (Document, error)
	UpdateOne(ctx context.Context, cond Condition, update Update) (Document, error)
}

// identity returns the resourceType and id of a document.
func identity(doc Document) (string, string) {
	rt, _ := doc["resourceType"].(string)
	id, _ := doc["id"].(string)
	return rt, id
}
