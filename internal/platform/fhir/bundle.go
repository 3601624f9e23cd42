package fhir

import (
	"strings"
	"time"

	"github.com/martijn-on-fhir/fhir-server-sub000/pkg/pagination"
)

// Keys the storage layer keeps on documents that never leave the server.
const (
	RowKey          = "_id"
	SearchFieldsKey = "_search"
)

// Bundle search modes.
const (
	SearchModeMatch   = "match"
	SearchModeInclude = "include"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string                 `json:"fullUrl,omitempty"`
	Resource map[string]interface{} `json:"resource,omitempty"`
	Search   *BundleSearch          `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// Request is the read-only view of the inbound request used to rebuild links.
type Request struct {
	Method string
	// URL is the full original request URL including the query string.
	URL string
}

// Assembler shapes stored documents into FHIR responses.
type Assembler struct {
	baseURL string
}

// NewAssembler creates an Assembler that synthesizes absolute entry URLs
// below baseURL (e.g. "http://localhost:8000/fhir").
func NewAssembler(baseURL string) *Assembler {
	return &Assembler{baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the server base the assembler writes into fullUrl values.
func (a *Assembler) BaseURL() string {
	return a.baseURL
}

// FullURL builds the absolute URL of a resource.
func (a *Assembler) FullURL(resourceType, id string) string {
	return a.baseURL + "/" + FormatReference(resourceType, id)
}

// Format returns a copy of the resource without storage-internal keys.
func (a *Assembler) Format(resource map[string]interface{}) map[string]interface{} {
	if resource == nil {
		return nil
	}
	out := make(map[string]interface{}, len(resource))
	for k, v := range resource {
		if k == RowKey || k == SearchFieldsKey {
			continue
		}
		out[k] = v
	}
	return out
}

// Bundle creates a paginated searchset Bundle. Every resource is tagged as
// a "match"; the links are rebuilt from the request URL.
func (a *Assembler) Bundle(resources []map[string]interface{}, total int, page pagination.Params, req *Request) *Bundle {
	b := a.newSearchset(total)
	for _, r := range resources {
		b.Entry = append(b.Entry, a.entry(r, SearchModeMatch))
	}
	for _, l := range page.Links(a.requestURL(req), total) {
		b.Link = append(b.Link, BundleLink{Relation: l.Relation, URL: l.URL})
	}
	return b
}

// Concat composes a primary resource with resolved references into a
// searchset Bundle: the primary is tagged "match", the extras "include".
func (a *Assembler) Concat(primary map[string]interface{}, extras []map[string]interface{}, req *Request) *Bundle {
	b := a.newSearchset(1)
	b.Link = []BundleLink{{Relation: "self", URL: a.requestURL(req)}}
	b.Entry = append(b.Entry, a.entry(primary, SearchModeMatch))
	for _, r := range extras {
		b.Entry = append(b.Entry, a.entry(r, SearchModeInclude))
	}
	return b
}

// AppendIncludes adds resolved references to an existing Bundle as
// "include" entries. The total is left untouched.
func (a *Assembler) AppendIncludes(b *Bundle, extras []map[string]interface{}) {
	for _, r := range extras {
		b.Entry = append(b.Entry, a.entry(r, SearchModeInclude))
	}
}

func (a *Assembler) NotFound(description string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, description)
}

func (a *Assembler) Forbidden(description string) *OperationOutcome {
	return ForbiddenOutcome(description)
}

func (a *Assembler) BadRequest(description string) *OperationOutcome {
	return BadRequestOutcome(description)
}

func (a *Assembler) NotAcceptable(description string) *OperationOutcome {
	return NotAcceptableOutcome(description)
}

func (a *Assembler) newSearchset(total int) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
	}
}

func (a *Assembler) entry(r map[string]interface{}, mode string) BundleEntry {
	formatted := a.Format(r)
	return BundleEntry{
		FullURL:  a.extractFullURL(formatted),
		Resource: formatted,
		Search:   &BundleSearch{Mode: mode},
	}
}

// extractFullURL builds a fullUrl from a resource's resourceType and id.
func (a *Assembler) extractFullURL(m map[string]interface{}) string {
	rt, _ := m["resourceType"].(string)
	id, _ := m["id"].(string)
	if rt != "" && id != "" {
		return a.FullURL(rt, id)
	}
	return ""
}

func (a *Assembler) requestURL(req *Request) string {
	if req == nil || req.URL == "" {
		return a.baseURL
	}
	return req.URL
}
