package query

import "github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"

// Flatten rewrites plain nested objects as dot-path keys:
//
//	{a: {b: 1, c: 2}}   -> {"a.b": 1, "a.c": 2}
//	{a: {$gte: 1}}      -> {a: {$gte: 1}}
//	{$or: [...]}        -> {$or: [...]}
//
// Operator keys and objects made only of operators are kept intact, and
// arrays are never descended into.
func Flatten(cond map[string]any) docstore.Condition {
	out := docstore.Condition{}
	flattenInto(out, "", cond)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if docstore.IsOperator(k) {
			out[key] = v
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok || len(sub) == 0 || docstore.IsOperatorObject(sub) {
			out[key] = v
			continue
		}
		flattenInto(out, key, sub)
	}
}
