package fhir

import (
	"strconv"
	"time"
)

// InstantFormat is the layout used for meta.lastUpdated. The fixed
// millisecond precision keeps lexical and chronological order identical.
const InstantFormat = "2006-01-02T15:04:05.000Z"

// Resource status values stored alongside every document.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Tags written by the mutating operations.
const (
	TagTenant  = "tenant"
	TagDeleted = "deleted"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// Now returns the current time formatted as a FHIR instant.
func Now() string {
	return time.Now().UTC().Format(InstantFormat)
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}

// ParseVersion parses a string-encoded versionId. Missing or malformed
// values count as version 0.
func ParseVersion(v interface{}) int {
	switch val := v.(type) {
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int(val)
	case int:
		return val
	default:
		return 0
	}
}
