package operation

import (
	"context"
	"errors"
	"strings"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/searchparam"
)

// Include resolves _include instructions: references held by a primary
// resource are followed to the resources they point at.
type Include struct {
	Operation
	registry *searchparam.Registry
	eval     PathEvaluator
}

func NewInclude(op Operation, registry *searchparam.Registry, eval PathEvaluator) *Include {
	return &Include{Operation: op, registry: registry, eval: eval}
}

// Execute returns the resources referenced by primary through each
// instruction, in instruction order and then in path evaluation order.
// Instructions for another source type, unknown parameters and malformed
// or dangling references are skipped.
func (i *Include) Execute(ctx context.Context, primary docstore.Document, instructions []searchparam.Instruction) ([]docstore.Document, error) {
	resourceType, _ := primary["resourceType"].(string)

	var out []docstore.Document
	for _, in := range instructions {
		if in.SourceType != resourceType {
			continue
		}
		entry, ok := i.registry.Lookup(resourceType, in.Param)
		if !ok {
			continue
		}

		refs, err := i.eval.Values(primary, entry.Path)
		if err != nil {
			i.logger.Warn().Err(err).Str("instruction", in.String()).Msg("include path not evaluable")
			continue
		}
		for ref := range refs {
			targetType, targetID, ok := splitReference(ref)
			if !ok || (in.TargetType != "" && in.TargetType != targetType) {
				continue
			}
			doc, err := i.store.FindOne(ctx, Visible(docstore.Condition{
				"resourceType": targetType,
				"id":           targetID,
			}), nil)
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if id, _ := doc["id"].(string); id != targetID {
				continue
			}
			out = append(out, doc)
		}
	}
	return out, nil
}

// splitReference accepts only relative "Type/id" references.
func splitReference(ref string) (string, string, bool) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
