// Package query translates FHIR search parameters into document-store
// conditions, projections, sort orders and paging windows.
package query

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/pkg/pagination"
)

// Search parameter names understood by the builder.
const (
	ParamCount      = "_count"
	ParamOffset     = "_offset"
	ParamSort       = "_sort"
	ParamElements   = "_elements"
	ParamSummary    = "_summary"
	ParamInclude    = "_include"
	ParamRevInclude = "_revinclude"
	ParamSecurity   = "_security"
	ParamTag        = "_tag"
	ParamProfile    = "_profile"
	ParamText       = "_text"
	ParamID         = "_id"
	ParamType       = "_type"
	ParamIdentifier = "identifier"
)

// singleResourceParams are the only parameters kept when a query addresses
// one resource by id. Filters never leak into an id-keyed fetch.
var singleResourceParams = map[string]bool{
	ParamCount:      true,
	ParamSort:       true,
	ParamElements:   true,
	ParamInclude:    true,
	ParamSummary:    true,
	ParamRevInclude: true,
}

// DefaultSort orders results newest first.
var DefaultSort = []docstore.SortField{{Field: "meta.lastUpdated", Direction: -1}}

// Query is the translated form of a search request.
type Query struct {
	Types []string
	ID    string
	// Params is the working parameter set after id-mode filtering and
	// removal of _type.
	Params  url.Values
	Page    pagination.Params
	Summary string

	condition    map[string]any
	projection   map[string]any
	sort         []docstore.SortField
	searchFields map[string]bool
}

// Option customizes a Query before parameters are processed.
type Option func(*Query)

// WithSearchFields declares the extracted search fields of the resource
// type. A parameter with one of these names filters on the lower-cased
// prefix of the stored value.
func WithSearchFields(names ...string) Option {
	return func(q *Query) {
		for _, n := range names {
			q.searchFields[n] = true
		}
	}
}

// Build translates params for the given resource types. A non-empty id
// takes precedence over params' _id and switches to single-resource mode.
// Unknown parameters and malformed values are ignored.
func Build(types []string, params url.Values, id string, opts ...Option) *Query {
	q := &Query{
		Types:        types,
		Params:       cloneValues(params),
		condition:    map[string]any{},
		sort:         DefaultSort,
		searchFields: map[string]bool{},
	}
	for _, opt := range opts {
		opt(q)
	}

	q.Params.Del(ParamType)
	if id == "" {
		id = strings.TrimSpace(q.Params.Get(ParamID))
	}
	if id != "" {
		q.ID = id
		for key := range q.Params {
			if !singleResourceParams[key] {
				q.Params.Del(key)
			}
		}
	}

	switch len(types) {
	case 0:
	case 1:
		q.condition["resourceType"] = types[0]
	default:
		q.condition["resourceType"] = map[string]any{docstore.OpIn: types}
	}
	if q.ID != "" {
		q.condition["id"] = q.ID
	}

	for _, h := range handlers {
		if values, ok := q.Params[h.param]; ok && len(values) > 0 {
			h.apply(q, values)
		}
	}
	if q.ID == "" {
		q.applySearchFields()
	}

	q.Page = pagination.Parse(q.Params.Get(ParamCount), q.Params.Get(ParamOffset))
	return q
}

// Condition returns the store predicate with plain nested objects flattened
// to dot paths.
func (q *Query) Condition() docstore.Condition {
	return Flatten(q.condition)
}

// Projection returns the field projection, nil when every field is wanted.
func (q *Query) Projection() map[string]any {
	return q.projection
}

func (q *Query) Sort() []docstore.SortField {
	return q.sort
}

// FindOptions bundles projection, sort and the paging window.
func (q *Query) FindOptions() docstore.FindOptions {
	return docstore.FindOptions{
		Projection: q.projection,
		Sort:       q.sort,
		Skip:       q.Page.Offset,
		Limit:      q.Page.Count,
	}
}

// Includes returns the raw _include values.
func (q *Query) Includes() []string {
	return q.Params[ParamInclude]
}

// RevIncludes returns the raw _revinclude values.
func (q *Query) RevIncludes() []string {
	return q.Params[ParamRevInclude]
}

// set assigns a value at a dot path of the nested condition.
func (q *Query) set(path string, value any) {
	parts := strings.Split(path, ".")
	cur := q.condition
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok || docstore.IsOperatorObject(next) {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func (q *Query) applySearchFields() {
	for name := range q.searchFields {
		v := strings.ToLower(strings.TrimSpace(q.Params.Get(name)))
		if v == "" {
			continue
		}
		q.condition["_search."+name] = map[string]any{docstore.OpRegex: "^" + regexp.QuoteMeta(v)}
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
