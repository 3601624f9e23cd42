package operation

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
)

type Update struct {
	Operation
	eval   PathEvaluator
	fields SearchFields
}

func NewUpdate(op Operation, eval PathEvaluator, fields SearchFields) *Update {
	return &Update{Operation: op, eval: eval, fields: fields}
}

// Execute replaces an active resource with data and bumps its version.
//
// The declared version is taken from data's meta.versionId, or from ifMatch
// (an ETag such as W/"3") when the body carries none. A declared version
// that differs from the stored one is a conflict and nothing is written.
// Without a declared version the write is unconditional.
func (u *Update) Execute(ctx context.Context, resourceType, id string, data map[string]any, ifMatch string) (map[string]any, error) {
	stored, err := u.active(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}

	current := versionOf(stored)
	declared := versionOf(data)
	if declared == "" && strings.TrimSpace(ifMatch) != "" {
		if n, err := fhir.ParseETag(ifMatch); err == nil {
			declared = strconv.Itoa(n)
		}
	}
	if declared != "" && declared != current {
		return nil, fhir.ErrVersionConflict(resourceType, id, current, declared)
	}

	doc, err := prepare(resourceType, id, data)
	if err != nil {
		return nil, err
	}
	meta := metaOf(doc)
	meta["versionId"] = strconv.Itoa(fhir.ParseVersion(current) + 1)
	meta["lastUpdated"] = fhir.Now()
	doc["meta"] = meta
	doc["status"] = fhir.StatusActive
	if fields := u.fields.Extract(u.eval, doc); len(fields) > 0 {
		doc[fhir.SearchFieldsKey] = fields
	}

	replaced, err := u.store.ReplaceOne(ctx, docstore.Condition{
		"id":           id,
		"resourceType": resourceType,
	}, doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fhir.ErrUpdateFailed(resourceType, id)
	}
	if err != nil {
		return nil, err
	}
	return u.assembler.Format(replaced), nil
}
