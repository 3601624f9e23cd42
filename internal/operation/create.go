package operation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
)

type Create struct {
	Operation
	eval   PathEvaluator
	fields SearchFields
}

func NewCreate(op Operation, eval PathEvaluator, fields SearchFields) *Create {
	return &Create{Operation: op, eval: eval, fields: fields}
}

// Execute stores a new resource as version 1. The caller's id is kept when
// it is a non-empty string, otherwise one is generated. Creating an id that
// is already stored is a conflict and writes nothing.
func (c *Create) Execute(ctx context.Context, resourceType string, data map[string]any) (map[string]any, error) {
	id, _ := data["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	exists, err := c.Exists(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fhir.ErrDuplicate(resourceType, id)
	}

	doc, err := prepare(resourceType, id, data)
	if err != nil {
		return nil, err
	}
	meta := metaOf(doc)
	meta["versionId"] = "1"
	meta["lastUpdated"] = fhir.Now()
	meta["tag"] = mergeTags(meta["tag"], fhir.TagTenant)
	doc["meta"] = meta
	doc["status"] = fhir.StatusActive
	if fields := c.fields.Extract(c.eval, doc); len(fields) > 0 {
		doc[fhir.SearchFieldsKey] = fields
	}

	stored, err := c.store.Insert(ctx, doc)
	if errors.Is(err, docstore.ErrDuplicate) {
		// the id belongs to a soft-deleted resource
		return nil, fhir.ErrDuplicate(resourceType, id)
	}
	if err != nil {
		return nil, err
	}
	return c.assembler.Format(stored), nil
}

// mergeTags prepends required to the caller's string tags, skipping
// duplicates.
func mergeTags(existing any, required ...string) []any {
	out := make([]any, 0, len(required))
	seen := map[string]bool{}
	for _, t := range required {
		out = append(out, t)
		seen[t] = true
	}
	list, _ := existing.([]any)
	for _, t := range list {
		s, ok := t.(string)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
