package searchparam

import (
	"strings"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
)

// ModifierIterate asks for the inclusion to be applied to included
// resources as well. It is parsed and carried, the resolvers do not recurse.
const ModifierIterate = "iterate"

// Instruction is a parsed _include or _revinclude value of the form
// SourceType:param[:TargetType|*][:modifier].
type Instruction struct {
	SourceType string
	Param      string
	// TargetType is empty when unconstrained.
	TargetType string
	Iterate    bool
}

// ParseInstruction parses a single instruction. Fewer than two segments is
// a bad-instruction failure.
func ParseInstruction(raw string) (Instruction, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Instruction{}, fhir.ErrBadInstruction(raw)
	}

	in := Instruction{SourceType: parts[0], Param: parts[1]}
	if len(parts) > 2 && parts[2] != "*" {
		in.TargetType = parts[2]
	}
	if len(parts) > 3 && parts[3] == ModifierIterate {
		in.Iterate = true
	}
	return in, nil
}

// ParseInstructions parses every value, failing on the first malformed one.
// Comma-separated values are treated as separate instructions.
func ParseInstructions(raw []string) ([]Instruction, error) {
	var out []Instruction
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			in, err := ParseInstruction(part)
			if err != nil {
				return nil, err
			}
			out = append(out, in)
		}
	}
	return out, nil
}

func (in Instruction) String() string {
	s := in.SourceType + ":" + in.Param
	if in.TargetType != "" {
		s += ":" + in.TargetType
	}
	if in.Iterate {
		if in.TargetType == "" {
			s += ":*"
		}
		s += ":" + ModifierIterate
	}
	return s
}
