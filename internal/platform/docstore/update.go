package docstore

import (
	"fmt"
	"sort"
)

// Apply performs update on doc in place. Pushing onto a missing path creates
// the array; pushing onto a value that is not an array is an error.
func (u Update) Apply(doc Document) error {
	for _, path := range sortedKeys(u.Set) {
		v, err := Normalize(u.Set[path])
		if err != nil {
			return err
		}
		if err := setPath(doc, path, v); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(u.Push) {
		v, err := Normalize(u.Push[path])
		if err != nil {
			return err
		}
		var arr []any
		if existing, ok := getPath(doc, path); ok && existing != nil {
			a, ok := existing.([]any)
			if !ok {
				return fmt.Errorf("docstore: push to %s: not an array", path)
			}
			arr = a
		}
		if err := setPath(doc, path, append(arr, v)); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
