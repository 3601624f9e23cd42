package searchparam

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
)

func TestDefault(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if reg.Len() == 0 {
		t.Fatal("expected embedded entries")
	}

	e, ok := reg.Lookup("Observation", "subject")
	if !ok {
		t.Fatal("expected Observation:subject")
	}
	if e.Path != "Observation.subject" {
		t.Errorf("path = %s", e.Path)
	}
	if len(e.Target) == 0 || e.Target[0] != "Patient" {
		t.Errorf("target = %v", e.Target)
	}

	if _, ok := reg.Lookup("Observation", "nope"); ok {
		t.Error("unexpected entry")
	}
	if !sort.StringsAreSorted(reg.Keys()) {
		t.Error("keys must be sorted")
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing colon", "Observation:\n  path: Observation.subject\n"},
		{"empty path", "Observation:subject:\n  target: [Patient]\n"},
		{"not rooted", "Observation:subject:\n  path: Encounter.subject\n"},
		{"union not rooted", "Observation:subject:\n  path: Observation.subject | Encounter.subject\n"},
		{"empty target", "Observation:subject:\n  path: Observation.subject\n  target: ['']\n"},
		{"bad yaml", "Observation:subject: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParse_Union(t *testing.T) {
	reg, err := Parse([]byte("Observation:ref:\n  path: Observation.subject | Observation.focus\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e, _ := reg.Lookup("Observation", "ref")
	alts := Alternatives(e.Path)
	if len(alts) != 2 || alts[1] != "Observation.focus" {
		t.Errorf("alternatives = %v", alts)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("Task:owner:\n  path: Task.owner\n  target: [Practitioner]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("expected file to replace the embedded registry, got %d entries", reg.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop()); err == nil {
		t.Error("expected missing file to fail")
	}
}

func TestParseInstruction(t *testing.T) {
	tests := []struct {
		raw  string
		want Instruction
	}{
		{"Observation:subject", Instruction{SourceType: "Observation", Param: "subject"}},
		{"Observation:subject:Patient", Instruction{SourceType: "Observation", Param: "subject", TargetType: "Patient"}},
		{"Observation:subject:*", Instruction{SourceType: "Observation", Param: "subject"}},
		{"Observation:has-member:*:iterate", Instruction{SourceType: "Observation", Param: "has-member", Iterate: true}},
		{"Observation:subject:Patient:other", Instruction{SourceType: "Observation", Param: "subject", TargetType: "Patient"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseInstruction(tt.raw)
			if err != nil {
				t.Fatalf("ParseInstruction: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseInstruction_Bad(t *testing.T) {
	for _, raw := range []string{"Observation", "", ":subject", "Observation:"} {
		_, err := ParseInstruction(raw)
		if !fhir.IsKind(err, fhir.KindBadInstruction) {
			t.Errorf("ParseInstruction(%q) = %v, want bad-instruction", raw, err)
		}
	}
}

func TestParseInstructions(t *testing.T) {
	got, err := ParseInstructions([]string{"Observation:subject,Observation:encounter", "Observation:performer"})
	if err != nil {
		t.Fatalf("ParseInstructions: %v", err)
	}
	if len(got) != 3 || got[1].Param != "encounter" {
		t.Errorf("got %+v", got)
	}

	if _, err := ParseInstructions([]string{"Observation:subject", "bad"}); err == nil {
		t.Error("expected failure on a malformed value")
	}
}

func TestInstruction_String(t *testing.T) {
	in := Instruction{SourceType: "Observation", Param: "has-member", Iterate: true}
	if in.String() != "Observation:has-member:*:iterate" {
		t.Errorf("String() = %s", in.String())
	}
}
