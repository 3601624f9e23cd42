package docstore

import "testing"

func observation() Document {
	doc, _ := normalizeDoc(map[string]any{
		"resourceType": "Observation",
		"id":           "o1",
		"status":       "final",
		"meta": map[string]any{
			"versionId":   "2",
			"lastUpdated": "2024-01-02T00:00:00.000Z",
			"tag":         []string{"tenant", "lab"},
			"security":    []map[string]any{{"system": "http://sec", "code": "R"}},
		},
		"identifier": []map[string]any{
			{"system": "http://a", "value": "1"},
			{"system": "http://b", "value": "2"},
		},
		"subject":  map[string]any{"reference": "Patient/p1"},
		"valueInt": 7,
		"text":     map[string]any{"div": "<div>Blood <b>glucose</b> level high</div>"},
	})
	return doc
}

func TestMatch(t *testing.T) {
	doc := observation()
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"empty", Condition{}, true},
		{"equality", Condition{"status": "final"}, true},
		{"equality mismatch", Condition{"status": "amended"}, false},
		{"dot path", Condition{"subject.reference": "Patient/p1"}, true},
		{"array fan-out", Condition{"identifier.value": "2"}, true},
		{"array element equality", Condition{"meta.tag": "lab"}, true},
		{"missing field equals nil", Condition{"missing": nil}, true},
		{"ne", Condition{"status": Condition{OpNe: "inactive"}}, true},
		{"ne on missing field", Condition{"nothing": Condition{OpNe: "x"}}, true},
		{"gt int vs float", Condition{"valueInt": Condition{OpGt: 5}}, true},
		{"lte false", Condition{"valueInt": Condition{OpLte: 6}}, false},
		{"string range", Condition{"meta.lastUpdated": Condition{OpGte: "2024-01-01"}}, true},
		{"in", Condition{"meta.tag": Condition{OpIn: []string{"x", "lab"}}}, true},
		{"in none", Condition{"meta.tag": Condition{OpIn: []string{"x"}}}, false},
		{"nin", Condition{"meta.tag": Condition{OpNin: []string{"deleted"}}}, true},
		{"all", Condition{"meta.tag": Condition{OpAll: []string{"tenant", "lab"}}}, true},
		{"all partial", Condition{"meta.tag": Condition{OpAll: []string{"tenant", "x"}}}, false},
		{"exists", Condition{"text.div": Condition{OpExists: true}}, true},
		{"not exists", Condition{"text.status": Condition{OpExists: true}}, false},
		{"elemMatch", Condition{"identifier": Condition{OpElemMatch: Condition{"system": "http://a", "value": "1"}}}, true},
		{"elemMatch crossed", Condition{"identifier": Condition{OpElemMatch: Condition{"system": "http://a", "value": "2"}}}, false},
		{"elemMatch scalar ops", Condition{"meta.tag": Condition{OpElemMatch: Condition{OpEq: "lab"}}}, true},
		{"regex", Condition{"subject.reference": Condition{OpRegex: "^patient/", OpOptions: "i"}}, true},
		{"and", Condition{OpAnd: []any{Condition{"status": "final"}, Condition{"id": "o1"}}}, true},
		{"or", Condition{OpOr: []any{Condition{"status": "x"}, Condition{"id": "o1"}}}, true},
		{"or none", Condition{OpOr: []any{Condition{"status": "x"}, Condition{"id": "x"}}}, false},
		{"nor", Condition{OpNor: []any{Condition{"status": "x"}}}, true},
		{"text", Condition{OpText: Condition{OpSearch: "glucose"}}, true},
		{"text markup stripped", Condition{OpText: Condition{OpSearch: "div"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(doc, tt.cond)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestMatch_Errors(t *testing.T) {
	doc := observation()
	tests := []Condition{
		{"$where": "1"},
		{"status": Condition{"$size": 1}},
		{"status": Condition{OpRegex: "("}},
		{OpOr: "not-an-array"},
		{"status": Condition{OpExists: "yes"}},
	}
	for _, cond := range tests {
		if _, err := Match(doc, cond); err == nil {
			t.Errorf("Match(%v) should fail", cond)
		}
	}
}

func TestIsOperatorObject(t *testing.T) {
	if !IsOperatorObject(map[string]any{"$gte": 1, "$lt": 2}) {
		t.Error("expected operator object")
	}
	if IsOperatorObject(map[string]any{"$gte": 1, "b": 2}) {
		t.Error("mixed map is not an operator object")
	}
	if IsOperatorObject(map[string]any{}) {
		t.Error("empty map is not an operator object")
	}
}
