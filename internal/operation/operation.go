// Package operation implements the FHIR interactions on top of the document
// store: create, update and soft delete with versioning, search by id, type
// or type set, and forward and reverse reference resolution.
package operation

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
)

// PathEvaluator yields the scalar results of a path expression evaluated
// against a resource.
type PathEvaluator interface {
	Values(resource map[string]any, expr string) (iter.Seq[string], error)
}

// Operation holds the collaborators shared by every interaction.
type Operation struct {
	store     docstore.Store
	assembler *fhir.Assembler
	logger    zerolog.Logger
}

func New(store docstore.Store, assembler *fhir.Assembler, logger zerolog.Logger) Operation {
	return Operation{store: store, assembler: assembler, logger: logger}
}

// Exists reports whether an active resource with the given type and id is
// stored.
func (o Operation) Exists(ctx context.Context, resourceType, id string) (bool, error) {
	_, err := o.active(ctx, resourceType, id)
	switch {
	case err == nil:
		return true, nil
	case fhir.IsKind(err, fhir.KindNotFound):
		return false, nil
	default:
		return false, err
	}
}

// active loads the active resource or fails with not-found. It always reads
// the store itself: the version it returns feeds the optimistic check.
func (o Operation) active(ctx context.Context, resourceType, id string) (docstore.Document, error) {
	doc, err := o.store.FindOne(docstore.WithoutCache(ctx), docstore.Condition{
		"resourceType": resourceType,
		"id":           id,
		"status":       fhir.StatusActive,
	}, nil)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fhir.ErrNotFound(resourceType, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Visible restricts a condition to resources that were not soft deleted.
func Visible(cond docstore.Condition) docstore.Condition {
	cond["status"] = map[string]any{docstore.OpNe: fhir.StatusInactive}
	return cond
}

// versionOf returns meta.versionId as a string, "" when absent.
func versionOf(doc map[string]any) string {
	meta, _ := doc["meta"].(map[string]any)
	switch v := meta["versionId"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// metaOf returns a shallow copy of the resource's meta object.
func metaOf(doc map[string]any) map[string]any {
	out := map[string]any{}
	if meta, ok := doc["meta"].(map[string]any); ok {
		for k, v := range meta {
			out[k] = v
		}
	}
	return out
}

// prepare normalizes caller data into a fresh document keyed by the path
// parameters, which always override embedded values.
func prepare(resourceType, id string, data map[string]any) (docstore.Document, error) {
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return nil, err
	}
	doc, _ := normalized.(map[string]any)
	if doc == nil {
		doc = docstore.Document{}
	}
	delete(doc, fhir.RowKey)
	delete(doc, fhir.SearchFieldsKey)
	doc["resourceType"] = resourceType
	doc["id"] = id
	return doc, nil
}
