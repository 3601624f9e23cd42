// Package fhirpath evaluates FHIRPath expressions against stored resources.
package fhirpath

import (
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"
)

// Evaluator compiles expressions once and caches them. It is safe for
// concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*fhirpath.Expression
}

func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*fhirpath.Expression)}
}

// Values evaluates expr against resource and yields the string form of each
// result item in evaluation order. A Reference yields its reference string;
// other complex values are skipped. Compilation and evaluation errors are
// returned before iteration starts.
func (e *Evaluator) Values(resource map[string]any, expr string) (iter.Seq[string], error) {
	compiled, err := e.compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile FHIRPath %q: %w", expr, err)
	}

	data, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	result, err := compiled.Evaluate(data)
	if err != nil {
		return nil, fmt.Errorf("evaluate FHIRPath %q: %w", expr, err)
	}

	return func(yield func(string) bool) {
		for _, v := range result {
			s, ok := scalar(v)
			if !ok {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}, nil
}

func scalar(v types.Value) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case types.String:
		return v.Value(), true
	case *types.ObjectValue:
		ref, ok := v.Get("reference")
		if !ok {
			return "", false
		}
		s, ok := ref.(types.String)
		return s.Value(), ok
	default:
		return v.String(), true
	}
}

func (e *Evaluator) compile(expr string) (*fhirpath.Expression, error) {
	e.mu.RLock()
	compiled, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := fhirpath.Compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = compiled
	e.mu.Unlock()
	return compiled, nil
}

// CacheSize returns the number of compiled expressions held.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
