package operation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
)

type Delete struct {
	Operation
}

func NewDelete(op Operation) *Delete {
	return &Delete{Operation: op}
}

// Execute soft-deletes an active resource: it becomes inactive, gains the
// "deleted" tag and a new version. Deleting an inactive resource is
// not-found.
func (d *Delete) Execute(ctx context.Context, resourceType, id string) (*fhir.OperationOutcome, error) {
	stored, err := d.active(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}

	_, err = d.store.UpdateOne(ctx, docstore.Condition{
		"resourceType": resourceType,
		"id":           id,
		"status":       fhir.StatusActive,
	}, docstore.Update{
		Set: map[string]any{
			"status":           fhir.StatusInactive,
			"meta.versionId":   strconv.Itoa(fhir.ParseVersion(versionOf(stored)) + 1),
			"meta.lastUpdated": fhir.Now(),
		},
		Push: map[string]any{"meta.tag": fhir.TagDeleted},
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fhir.ErrUpdateFailed(resourceType, id)
	}
	if err != nil {
		return nil, err
	}
	return fhir.SuccessOutcome(fmt.Sprintf("Successfully deleted %s/%s", resourceType, id)), nil
}
