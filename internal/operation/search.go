package operation

import (
	"context"
	"errors"
	"net/url"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/query"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/searchparam"
)

// Result is either a single formatted resource or a Bundle.
type Result struct {
	Resource map[string]any
	Bundle   *fhir.Bundle
}

// Search answers read and search interactions. Soft-deleted resources are
// never returned, neither as matches nor as included resources.
type Search struct {
	Operation
	include    *Include
	revInclude *RevInclude
	fields     SearchFields
}

func NewSearch(op Operation, registry *searchparam.Registry, eval PathEvaluator, fields SearchFields) *Search {
	return &Search{
		Operation:  op,
		include:    NewInclude(op, registry, eval),
		revInclude: NewRevInclude(op, registry),
		fields:     fields,
	}
}

// FindByID reads one resource. When _include or _revinclude resolve at
// least one resource the result is a Bundle with the primary as the match,
// otherwise the plain resource.
func (s *Search) FindByID(ctx context.Context, resourceType, id string, params url.Values, req *fhir.Request) (*Result, error) {
	q := query.Build([]string{resourceType}, params, id)
	includes, revIncludes, err := instructions(q)
	if err != nil {
		return nil, err
	}

	cond := Visible(q.Condition())
	s.logger.Debug().Interface("condition", cond).Msg("find by id")
	doc, err := s.store.FindOne(ctx, cond, q.Projection())
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fhir.ErrNotFound(resourceType, id)
	}
	if err != nil {
		return nil, err
	}

	extras, err := s.resolve(ctx, []docstore.Document{doc}, includes, revIncludes)
	if err != nil {
		return nil, err
	}
	doc = fhir.ApplySummary(doc, q.Summary)
	if len(extras) > 0 {
		return &Result{Bundle: s.assembler.Concat(doc, extras, req)}, nil
	}
	return &Result{Resource: s.assembler.Format(doc)}, nil
}

// Find searches one resource type.
func (s *Search) Find(ctx context.Context, resourceType string, params url.Values, req *fhir.Request) (*fhir.Bundle, error) {
	q := query.Build([]string{resourceType}, params, "", query.WithSearchFields(s.fields.Names(resourceType)...))
	return s.search(ctx, q, req)
}

// FindByType searches across several resource types. The _type parameter
// is consumed and never applied as a filter.
func (s *Search) FindByType(ctx context.Context, types []string, params url.Values, req *fhir.Request) (*fhir.Bundle, error) {
	return s.search(ctx, query.Build(types, params, ""), req)
}

func (s *Search) search(ctx context.Context, q *query.Query, req *fhir.Request) (*fhir.Bundle, error) {
	includes, revIncludes, err := instructions(q)
	if err != nil {
		return nil, err
	}

	cond := Visible(q.Condition())
	s.logger.Debug().
		Strs("types", q.Types).
		Interface("condition", cond).
		Int("count", q.Page.Count).
		Int("offset", q.Page.Offset).
		Msg("search")

	total, err := s.store.Count(ctx, cond)
	if err != nil {
		return nil, err
	}
	if q.Summary == fhir.SummaryCount {
		return s.assembler.Bundle(nil, total, q.Page, req), nil
	}

	docs, err := s.store.Find(ctx, cond, q.FindOptions())
	if err != nil {
		return nil, err
	}
	extras, err := s.resolve(ctx, docs, includes, revIncludes)
	if err != nil {
		return nil, err
	}

	for i, doc := range docs {
		docs[i] = fhir.ApplySummary(doc, q.Summary)
	}
	bundle := s.assembler.Bundle(docs, total, q.Page, req)
	s.assembler.AppendIncludes(bundle, extras)
	return bundle, nil
}

// resolve runs the include and revinclude instructions for every primary.
// A resource reached more than once, or already a primary, is returned
// only once.
func (s *Search) resolve(ctx context.Context, primaries []docstore.Document, includes, revIncludes []searchparam.Instruction) ([]docstore.Document, error) {
	if len(includes) == 0 && len(revIncludes) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(primaries))
	for _, p := range primaries {
		seen[referenceOf(p)] = true
	}

	var out []docstore.Document
	for _, p := range primaries {
		forward, err := s.include.Execute(ctx, p, includes)
		if err != nil {
			return nil, err
		}
		backward, err := s.revInclude.Execute(ctx, p, revIncludes)
		if err != nil {
			return nil, err
		}
		for _, doc := range append(forward, backward...) {
			key := referenceOf(doc)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, doc)
		}
	}
	return out, nil
}

func instructions(q *query.Query) ([]searchparam.Instruction, []searchparam.Instruction, error) {
	includes, err := searchparam.ParseInstructions(q.Includes())
	if err != nil {
		return nil, nil, err
	}
	revIncludes, err := searchparam.ParseInstructions(q.RevIncludes())
	if err != nil {
		return nil, nil, err
	}
	return includes, revIncludes, nil
}

func referenceOf(doc docstore.Document) string {
	rt, _ := doc["resourceType"].(string)
	id, _ := doc["id"].(string)
	return fhir.FormatReference(rt, id)
}
