package operation

import (
	"sort"
	"strings"
)

// SearchField extracts one lower-cased lookup value set from a resource.
// Expr is a path expression that must yield primitive strings.
type SearchField struct {
	Name string
	Expr string
}

// SearchFields maps a resource type to its extracted lookup fields. The
// values are stored under "_search" and matched by prefix.
type SearchFields map[string][]SearchField

// DefaultSearchFields covers the name-bearing types. Types without an entry
// fall back to a top-level string name or title.
var DefaultSearchFields = SearchFields{
	"Patient": {
		{Name: "family", Expr: "Patient.name.family"},
		{Name: "given", Expr: "Patient.name.given"},
		{Name: "birthdate", Expr: "Patient.birthDate"},
	},
	"Practitioner": {
		{Name: "family", Expr: "Practitioner.name.family"},
		{Name: "given", Expr: "Practitioner.name.given"},
	},
	"RelatedPerson": {
		{Name: "family", Expr: "RelatedPerson.name.family"},
		{Name: "given", Expr: "RelatedPerson.name.given"},
	},
	"Organization": {
		{Name: "name", Expr: "Organization.name"},
		{Name: "alias", Expr: "Organization.alias"},
	},
	"Location": {
		{Name: "name", Expr: "Location.name"},
	},
}

// fallbackFields are copied verbatim when they hold a string.
var fallbackFields = []string{"name", "title"}

// Names returns the field names declared for resourceType, sorted.
func (t SearchFields) Names(resourceType string) []string {
	fields, ok := t[resourceType]
	if !ok {
		return fallbackFields
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// Extract evaluates the fields of the document's type. Extraction is best
// effort: fields whose expression fails or yields nothing are left out.
func (t SearchFields) Extract(eval PathEvaluator, doc map[string]any) map[string]any {
	resourceType, _ := doc["resourceType"].(string)
	out := map[string]any{}

	fields, ok := t[resourceType]
	if !ok {
		for _, name := range fallbackFields {
			if s, ok := doc[name].(string); ok && strings.TrimSpace(s) != "" {
				out[name] = []any{strings.ToLower(strings.TrimSpace(s))}
			}
		}
		return out
	}

	for _, f := range fields {
		values, err := eval.Values(doc, f.Expr)
		if err != nil {
			continue
		}
		var collected []any
		for v := range values {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				collected = append(collected, v)
			}
		}
		if len(collected) > 0 {
			out[f.Name] = collected
		}
	}
	return out
}
