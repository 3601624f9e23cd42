package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/martijn-on-fhir/fhir-server-sub000/pkg/pagination"
)

func testResources(n int) []map[string]interface{} {
	out := make([]map[string]interface{}, n)
	for i := range out {
		out[i] = map[string]interface{}{
			"resourceType": "Patient",
			"id":           fmt.Sprintf("p%d", i),
			"_id":          "row",
			"_search":      map[string]interface{}{"family": "doe"},
		}
	}
	return out
}

func TestAssembler_Format_StripsInternalKeys(t *testing.T) {
	a := NewAssembler("http://localhost/fhir")
	in := map[string]interface{}{"resourceType": "Patient", "id": "1", "_id": "x", "_search": map[string]interface{}{}}

	out := a.Format(in)

	if _, ok := out["_id"]; ok {
		t.Error("expected _id to be removed")
	}
	if _, ok := out["_search"]; ok {
		t.Error("expected _search to be removed")
	}
	if _, ok := in["_id"]; !ok {
		t.Error("input must not be mutated")
	}
}

func TestAssembler_Bundle(t *testing.T) {
	a := NewAssembler("http://localhost/fhir/")
	req := &Request{Method: http.MethodGet, URL: "http://localhost/fhir/Patient?name=doe&_offset=40&_count=20"}

	b := a.Bundle(testResources(2), 100, pagination.Params{Count: 20, Offset: 40}, req)

	if b.ResourceType != "Bundle" || b.Type != "searchset" {
		t.Errorf("unexpected bundle header: %s/%s", b.ResourceType, b.Type)
	}
	if b.Total == nil || *b.Total != 100 {
		t.Errorf("expected total 100, got %v", b.Total)
	}
	if len(b.Entry) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(b.Entry))
	}
	if b.Entry[0].FullURL != "http://localhost/fhir/Patient/p0" {
		t.Errorf("fullUrl = %s", b.Entry[0].FullURL)
	}
	if b.Entry[0].Search == nil || b.Entry[0].Search.Mode != SearchModeMatch {
		t.Error("expected search mode match")
	}
	if _, ok := b.Entry[0].Resource["_id"]; ok {
		t.Error("entry resource must be formatted")
	}

	rels := map[string]string{}
	for _, l := range b.Link {
		rels[l.Relation] = l.URL
	}
	if rels["next"] != "http://localhost/fhir/Patient?name=doe&_offset=60&_count=20" {
		t.Errorf("next = %s", rels["next"])
	}
	if rels["previous"] != "http://localhost/fhir/Patient?name=doe&_offset=20&_count=20" {
		t.Errorf("previous = %s", rels["previous"])
	}
}

func TestAssembler_Bundle_NoPagingLinks(t *testing.T) {
	a := NewAssembler("http://localhost/fhir")
	b := a.Bundle(testResources(10), 10, pagination.Params{Count: 20}, &Request{URL: "http://localhost/fhir/Patient"})

	if len(b.Link) != 1 || b.Link[0].Relation != "self" {
		t.Errorf("expected only self link, got %+v", b.Link)
	}
}

func TestAssembler_Concat(t *testing.T) {
	a := NewAssembler("http://localhost/fhir")
	primary := map[string]interface{}{"resourceType": "Observation", "id": "o1"}
	extras := []map[string]interface{}{
		{"resourceType": "Patient", "id": "p1"},
		{"resourceType": "Practitioner", "id": "pr1"},
	}

	b := a.Concat(primary, extras, &Request{URL: "http://localhost/fhir/Observation/o1?_include=Observation:subject"})

	if len(b.Entry) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(b.Entry))
	}
	if b.Entry[0].Search.Mode != SearchModeMatch {
		t.Errorf("primary mode = %s", b.Entry[0].Search.Mode)
	}
	for _, e := range b.Entry[1:] {
		if e.Search.Mode != SearchModeInclude {
			t.Errorf("extra mode = %s", e.Search.Mode)
		}
	}
	if *b.Total != 1 {
		t.Errorf("expected total 1, got %d", *b.Total)
	}
}

func TestBundle_JSON(t *testing.T) {
	a := NewAssembler("http://localhost/fhir")
	b := a.Bundle(nil, 0, pagination.Params{Count: 20}, nil)

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["total"] != float64(0) {
		t.Errorf("expected total 0 in JSON, got %v", m["total"])
	}
	if _, ok := m["entry"]; ok {
		t.Error("expected entry to be omitted when empty")
	}
}

func TestAssembler_Outcomes(t *testing.T) {
	a := NewAssembler("")
	tests := []struct {
		name string
		oo   *OperationOutcome
		code string
	}{
		{"notFound", a.NotFound("x"), IssueTypeNotFound},
		{"forbidden", a.Forbidden("x"), IssueTypeForbidden},
		{"badRequest", a.BadRequest("x"), IssueTypeInvalid},
		{"notAcceptable", a.NotAcceptable("x"), IssueTypeNotSupported},
	}
	for _, tt := range tests {
		if tt.oo.Issue[0].Code != tt.code {
			t.Errorf("%s: code = %s, want %s", tt.name, tt.oo.Issue[0].Code, tt.code)
		}
		if !tt.oo.HasErrors() {
			t.Errorf("%s: expected error severity", tt.name)
		}
	}
}

func TestError_Kinds(t *testing.T) {
	tests := []struct {
		err    *Error
		kind   ErrorKind
		status int
	}{
		{ErrNotFound("Patient", "1"), KindNotFound, http.StatusNotFound},
		{ErrDuplicate("Patient", "1"), KindConflictDuplicate, http.StatusConflict},
		{ErrVersionConflict("Patient", "1", "5", "3"), KindConflictVersion, http.StatusConflict},
		{ErrBadInstruction("Observation"), KindBadInstruction, http.StatusBadRequest},
		{ErrUpdateFailed("Patient", "1"), KindUpdateFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if tt.err.Kind != tt.kind {
			t.Errorf("kind = %s, want %s", tt.err.Kind, tt.kind)
		}
		if tt.err.Status != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.kind, tt.err.Status, tt.status)
		}
		wrapped := fmt.Errorf("wrapped: %w", tt.err)
		if !IsKind(wrapped, tt.kind) {
			t.Errorf("IsKind(%s) should see through wrapping", tt.kind)
		}
	}

	if IsKind(errors.New("plain"), KindNotFound) {
		t.Error("plain errors are not typed failures")
	}
}

func TestErrVersionConflict_Message(t *testing.T) {
	err := ErrVersionConflict("Patient", "1", "5", "3")
	want := "conflict-version: version conflict on Patient/1: expected version 5 but received 3"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
