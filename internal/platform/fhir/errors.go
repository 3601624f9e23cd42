package fhir

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies the failures raised by resource operations.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not-found"
	KindConflictDuplicate ErrorKind = "conflict-duplicate"
	KindConflictVersion   ErrorKind = "conflict-version"
	KindBadInstruction    ErrorKind = "bad-instruction"
	KindUpdateFailure     ErrorKind = "update-failure"
)

// Error is a caller-distinguishable failure carrying the OperationOutcome
// that should be sent to the client and the HTTP status it maps to.
type Error struct {
	Kind    ErrorKind
	Status  int
	Outcome *OperationOutcome
}

func (e *Error) Error() string {
	if e.Outcome != nil && len(e.Outcome.Issue) > 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Outcome.Issue[0].Diagnostics)
	}
	return string(e.Kind)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

func ErrNotFound(resourceType, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Outcome: NotFoundOutcome(resourceType, id),
	}
}

func ErrDuplicate(resourceType, id string) *Error {
	return &Error{
		Kind:   KindConflictDuplicate,
		Status: http.StatusConflict,
		Outcome: NewOperationOutcome(IssueSeverityError, IssueTypeDuplicate,
			fmt.Sprintf("%s/%s already exists", resourceType, id)),
	}
}

func ErrVersionConflict(resourceType, id, expected, received string) *Error {
	return &Error{
		Kind:   KindConflictVersion,
		Status: http.StatusConflict,
		Outcome: ConflictOutcome(fmt.Sprintf(
			"version conflict on %s/%s: expected version %s but received %s",
			resourceType, id, expected, received)),
	}
}

func ErrBadInstruction(instruction string) *Error {
	return &Error{
		Kind:   KindBadInstruction,
		Status: http.StatusBadRequest,
		Outcome: BadRequestOutcome(fmt.Sprintf(
			"invalid include instruction %q: expected SourceType:param[:TargetType][:modifier]", instruction)),
	}
}

func ErrUpdateFailed(resourceType, id string) *Error {
	return &Error{
		Kind:    KindUpdateFailure,
		Status:  http.StatusInternalServerError,
		Outcome: ErrorOutcome(fmt.Sprintf("update of %s/%s did not modify any resource", resourceType, id)),
	}
}
