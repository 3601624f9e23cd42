package query

import (
	"strings"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
)

type handler struct {
	param string
	apply func(q *Query, values []string)
}

// handlers run in this order for every parameter present in the working set.
var handlers = []handler{
	{ParamSummary, applySummary},
	{ParamElements, applyElements},
	{ParamSecurity, applySecurity},
	{ParamTag, applyTag},
	{ParamIdentifier, applyIdentifier},
	{ParamProfile, applyProfile},
	{ParamSort, applySort},
	{ParamText, applyText},
}

func applySummary(q *Query, values []string) {
	mode := strings.TrimSpace(values[len(values)-1])
	switch mode {
	case fhir.SummaryText:
		q.projection = map[string]any{
			"id":            1,
			"resourceType":  1,
			"meta":          1,
			"text":          1,
			"implicitRules": 1,
			"language":      1,
		}
	case fhir.SummaryData:
		q.projection = map[string]any{"text": 0}
	case fhir.SummaryFalse:
		q.projection = map[string]any{docstore.RowKey: 0}
	case fhir.SummaryTrue, fhir.SummaryCount:
	default:
		return
	}
	q.Summary = mode
}

func applyElements(q *Query, values []string) {
	fields := splitList(values)
	if len(fields) == 0 {
		return
	}
	projection := map[string]any{"resourceType": 1, "id": 1, docstore.RowKey: 0}
	for _, f := range fields {
		if f == docstore.RowKey {
			continue
		}
		projection[f] = 1
	}
	q.projection = projection
}

func applySecurity(q *Query, values []string) {
	system, code, _ := strings.Cut(values[len(values)-1], "|")
	match := map[string]any{}
	if system = strings.TrimSpace(system); system != "" {
		match["system"] = system
	}
	if code = strings.TrimSpace(code); code != "" {
		match["code"] = code
	}
	if len(match) == 0 {
		return
	}
	q.set("meta.security", map[string]any{docstore.OpElemMatch: match})
}

func applyTag(q *Query, values []string) {
	tags := splitList(values)
	if len(tags) == 0 {
		return
	}
	q.set("meta.tag", map[string]any{docstore.OpIn: tags})
}

// applyIdentifier keeps only the last identifier when several are given.
func applyIdentifier(q *Query, values []string) {
	for _, v := range values {
		system, value, _ := strings.Cut(v, "|")
		match := map[string]any{}
		if system = strings.TrimSpace(system); system != "" {
			match["system"] = system
		}
		if value = strings.TrimSpace(value); value != "" {
			match["value"] = value
		}
		if len(match) == 0 {
			continue
		}
		q.condition["identifier"] = map[string]any{docstore.OpElemMatch: match}
	}
}

func applyProfile(q *Query, values []string) {
	if p := strings.TrimSpace(values[len(values)-1]); p != "" {
		q.set("meta.profile", p)
	}
}

// sortAliases maps search parameter names to the fields they sort on.
var sortAliases = map[string]string{
	"_lastUpdated": "meta.lastUpdated",
	"_id":          "id",
}

func applySort(q *Query, values []string) {
	var fields []docstore.SortField
	for _, f := range splitList(values) {
		dir := 1
		if strings.HasPrefix(f, "-") {
			dir = -1
			f = strings.TrimPrefix(f, "-")
		}
		if f == "" {
			continue
		}
		if alias, ok := sortAliases[f]; ok {
			f = alias
		}
		fields = append(fields, docstore.SortField{Field: f, Direction: dir})
	}
	if len(fields) > 0 {
		q.sort = fields
	}
}

func applyText(q *Query, values []string) {
	search := TextSearch(values[len(values)-1])
	if search == "" {
		return
	}
	q.condition[docstore.OpText] = map[string]any{docstore.OpSearch: search}
	q.set("text.div", map[string]any{docstore.OpExists: true})
}

// TextSearch rewrites the _text grammar into the store's search syntax. A
// fully quoted value is an exact phrase; " OR " separates alternatives and
// " AND " conjunctive terms; a leading "-" negation passes through verbatim.
func TextSearch(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return ""
	case len(s) > 1 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`):
		return s
	case strings.HasPrefix(s, "-"):
		return s
	case strings.Contains(s, " OR ") || strings.Contains(s, " AND "):
		var alternatives []string
		for _, alt := range strings.Split(s, " OR ") {
			var terms []string
			for _, t := range strings.Split(alt, " AND ") {
				if t = strings.TrimSpace(t); t != "" {
					terms = append(terms, t)
				}
			}
			if len(terms) > 0 {
				alternatives = append(alternatives, strings.Join(terms, " "))
			}
		}
		return strings.Join(alternatives, docstore.TextOr)
	}
	return s
}

// splitList flattens comma-separated values, trimming and dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
