package docstore

import "testing"

func TestParseTextQuery(t *testing.T) {
	q := ParseTextQuery(`heart "blood pressure" -murmur or Lung`)
	if len(q) != 2 {
		t.Fatalf("expected 2 alternatives, got %d: %+v", len(q), q)
	}
	if len(q[0]) != 3 {
		t.Fatalf("expected 3 terms in first group, got %+v", q[0])
	}
	if !q[0][1].Phrase || len(q[0][1].Words) != 2 {
		t.Errorf("expected phrase term, got %+v", q[0][1])
	}
	if !q[0][2].Negate || q[0][2].Words[0] != "murmur" {
		t.Errorf("expected negated term, got %+v", q[0][2])
	}
	if q[1][0].Words[0] != "lung" {
		t.Errorf("expected lower-cased term, got %+v", q[1][0])
	}
}

func TestTextQuery_Match(t *testing.T) {
	narrative := `<div xmlns="http://www.w3.org/1999/xhtml">Patient has <b>high</b> blood pressure</div>`
	tests := []struct {
		query string
		want  bool
	}{
		{"pressure", true},
		{"PRESSURE", true},
		{"blood pressure", true},
		{`"blood pressure"`, true},
		{`"pressure blood"`, false},
		{"pressure -high", false},
		{"pressure -low", true},
		{"fever or blood", true},
		{"fever or cough", false},
		{"press", false},
		{"xhtml", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := ParseTextQuery(tt.query).Match(narrative); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}
