package docstore

import (
	"fmt"
	"sort"
	"strings"
)

// Project applies a projection map. A projection either includes fields
// (value 1 or true) or excludes them (0 or false); RowKey may be excluded in
// either form. The result never shares nested values with doc.
func Project(doc Document, projection map[string]any) (Document, error) {
	if doc == nil {
		return nil, nil
	}
	if len(projection) == 0 {
		return cloneMap(doc), nil
	}

	include, exclude, keepRow, err := splitProjection(projection)
	if err != nil {
		return nil, err
	}

	if len(include) == 0 {
		out := cloneMap(doc)
		for _, path := range exclude {
			deletePath(out, path)
		}
		if !keepRow {
			delete(out, RowKey)
		}
		return out, nil
	}

	out := Document{}
	if keepRow {
		if v, ok := doc[RowKey]; ok {
			out[RowKey] = v
		}
	}
	for _, path := range include {
		includePath(out, doc, splitPath(path))
	}
	return out, nil
}

func splitProjection(projection map[string]any) (include, exclude []string, keepRow bool, err error) {
	keepRow = true
	for field, v := range projection {
		on, ok := projectionFlag(v)
		if !ok {
			return nil, nil, false, fmt.Errorf("docstore: projection value for %s must be 0/1 or a boolean", field)
		}
		if field == RowKey {
			keepRow = on
			continue
		}
		if on {
			include = append(include, field)
		} else {
			exclude = append(exclude, field)
		}
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, nil, false, fmt.Errorf("docstore: cannot mix inclusion and exclusion (%s)",
			strings.Join(append(include, exclude...), ","))
	}
	sort.Strings(include)
	sort.Strings(exclude)
	return include, exclude, keepRow, nil
}

func projectionFlag(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// includePath copies the value at path from src into dst, descending into
// arrays of objects.
func includePath(dst, src map[string]any, path []string) {
	v, ok := src[path[0]]
	if !ok {
		return
	}
	if len(path) == 1 {
		dst[path[0]] = cloneValue(v)
		return
	}
	switch t := v.(type) {
	case map[string]any:
		child, ok := dst[path[0]].(map[string]any)
		if !ok {
			child = map[string]any{}
			dst[path[0]] = child
		}
		includePath(child, t, path[1:])
	case []any:
		existing, _ := dst[path[0]].([]any)
		out := make([]any, 0, len(t))
		for i, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			var child map[string]any
			if i < len(existing) {
				child, _ = existing[i].(map[string]any)
			}
			if child == nil {
				child = map[string]any{}
			}
			includePath(child, m, path[1:])
			out = append(out, child)
		}
		dst[path[0]] = out
	}
}
