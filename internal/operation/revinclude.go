package operation

import (
	"context"
	"strings"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/searchparam"
)

// RevInclude resolves _revinclude instructions: resources of the source type
// that reference the primary resource.
type RevInclude struct {
	Operation
	registry *searchparam.Registry
}

func NewRevInclude(op Operation, registry *searchparam.Registry) *RevInclude {
	return &RevInclude{Operation: op, registry: registry}
}

// Execute returns every visible resource that points at primary through
// the instruction's parameter. Results are appended per instruction
// without deduplication.
func (r *RevInclude) Execute(ctx context.Context, primary docstore.Document, instructions []searchparam.Instruction) ([]docstore.Document, error) {
	resourceType, _ := primary["resourceType"].(string)
	id, _ := primary["id"].(string)
	if resourceType == "" || id == "" {
		return nil, nil
	}
	ref := fhir.FormatReference(resourceType, id)

	var out []docstore.Document
	for _, in := range instructions {
		if in.TargetType != "" && in.TargetType != resourceType {
			continue
		}
		entry, ok := r.registry.Lookup(in.SourceType, in.Param)
		if !ok {
			continue
		}
		fields := referenceFields(in.SourceType, entry.Path)
		if len(fields) == 0 {
			continue
		}

		cond := Visible(docstore.Condition{"resourceType": in.SourceType})
		if len(fields) == 1 {
			cond[fields[0]] = ref
		} else {
			alternatives := make([]any, 0, len(fields))
			for _, f := range fields {
				alternatives = append(alternatives, map[string]any{f: ref})
			}
			cond[docstore.OpOr] = alternatives
		}

		docs, err := r.store.Find(ctx, cond, docstore.FindOptions{})
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// referenceFields turns a registry path into the dot paths of the
// reference strings it addresses, one per union alternative. Alternatives
// rooted at another type are dropped, and function calls end the path.
//
//	Observation.subject                   -> subject.reference
//	Encounter.participant.individual      -> participant.individual.reference
//	Observation.subject.where(resolve())  -> subject.reference
func referenceFields(sourceType, path string) []string {
	var out []string
	for _, alt := range searchparam.Alternatives(path) {
		rest, ok := strings.CutPrefix(alt, sourceType+".")
		if !ok {
			continue
		}
		var segments []string
		for _, seg := range strings.Split(rest, ".") {
			if seg == "" || strings.Contains(seg, "(") {
				break
			}
			segments = append(segments, seg)
		}
		if len(segments) == 0 {
			continue
		}
		out = append(out, strings.Join(segments, ".")+".reference")
	}
	return out
}
