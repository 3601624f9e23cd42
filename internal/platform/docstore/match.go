package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Match reports whether doc satisfies cond. Unknown operators and invalid
// regular expressions are errors.
func Match(doc Document, cond Condition) (bool, error) {
	nc, err := normalizeDoc(cond)
	if err != nil {
		return false, err
	}
	return matchDoc(doc, nc)
}

func matchDoc(doc map[string]any, cond map[string]any) (bool, error) {
	for key, expr := range cond {
		var (
			ok  bool
			err error
		)
		switch key {
		case OpAnd, OpOr, OpNor:
			ok, err = matchLogical(doc, key, expr)
		case OpText:
			ok, err = matchText(doc, expr)
		default:
			if IsOperator(key) {
				return false, fmt.Errorf("docstore: unsupported top-level operator %s", key)
			}
			ok, err = matchField(lookup(doc, key), expr)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc map[string]any, op string, expr any) (bool, error) {
	clauses, ok := toSlice(expr)
	if !ok {
		return false, fmt.Errorf("docstore: %s expects an array", op)
	}
	for _, c := range clauses {
		sub, ok := c.(map[string]any)
		if !ok {
			return false, fmt.Errorf("docstore: %s clause must be an object", op)
		}
		matched, err := matchDoc(doc, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == OpAnd && !matched:
			return false, nil
		case op == OpOr && matched:
			return true, nil
		case op == OpNor && matched:
			return false, nil
		}
	}
	return op != OpOr, nil
}

func matchText(doc map[string]any, expr any) (bool, error) {
	m, ok := expr.(map[string]any)
	if !ok {
		return false, fmt.Errorf("docstore: %s expects an object", OpText)
	}
	search, ok := m[OpSearch].(string)
	if !ok {
		return false, fmt.Errorf("docstore: %s requires a string %s", OpText, OpSearch)
	}
	for _, v := range lookup(doc, "text.div") {
		if div, ok := v.(string); ok && ParseTextQuery(search).Match(div) {
			return true, nil
		}
	}
	return false, nil
}

// matchField applies expr to the values resolved at a path.
func matchField(values []any, expr any) (bool, error) {
	ops, ok := expr.(map[string]any)
	if !ok || !IsOperatorObject(ops) {
		return containsEqual(values, expr), nil
	}
	for op, arg := range ops {
		ok, err := applyOperator(values, op, arg, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func applyOperator(values []any, op string, arg any, ops map[string]any) (bool, error) {
	switch op {
	case OpEq:
		return containsEqual(values, arg), nil
	case OpNe:
		return !containsEqual(values, arg), nil
	case OpGt, OpGte, OpLt, OpLte:
		for _, c := range candidates(values) {
			cmp, ok := compare(c, arg)
			if !ok {
				continue
			}
			if (op == OpGt && cmp > 0) || (op == OpGte && cmp >= 0) ||
				(op == OpLt && cmp < 0) || (op == OpLte && cmp <= 0) {
				return true, nil
			}
		}
		return false, nil
	case OpIn, OpNin:
		list, ok := toSlice(arg)
		if !ok {
			return false, fmt.Errorf("docstore: %s expects an array", op)
		}
		found := false
		for _, want := range list {
			if containsEqual(values, want) || (want == nil && len(values) == 0) {
				found = true
				break
			}
		}
		return found == (op == OpIn), nil
	case OpAll:
		list, ok := toSlice(arg)
		if !ok {
			return false, fmt.Errorf("docstore: %s expects an array", op)
		}
		if len(list) == 0 {
			return false, nil
		}
		for _, want := range list {
			if !containsEqual(values, want) {
				return false, nil
			}
		}
		return true, nil
	case OpExists:
		want, ok := arg.(bool)
		if !ok {
			return false, fmt.Errorf("docstore: %s expects a boolean", op)
		}
		return (len(values) > 0) == want, nil
	case OpElemMatch:
		return matchElem(values, arg)
	case OpRegex:
		opts, _ := ops[OpOptions].(string)
		re, err := compileRegex(arg, opts)
		if err != nil {
			return false, err
		}
		for _, c := range candidates(values) {
			if s, ok := c.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	case OpOptions:
		return true, nil
	}
	return false, fmt.Errorf("docstore: unsupported operator %s", op)
}

func matchElem(values []any, arg any) (bool, error) {
	sub, ok := arg.(map[string]any)
	if !ok {
		return false, fmt.Errorf("docstore: %s expects an object", OpElemMatch)
	}
	for _, v := range values {
		arr, ok := v.([]any)
		if !ok {
			continue
		}
		for _, elem := range arr {
			var (
				matched bool
				err     error
			)
			if IsOperatorObject(sub) {
				matched, err = matchField([]any{elem}, sub)
			} else if m, isMap := elem.(map[string]any); isMap {
				matched, err = matchDoc(m, sub)
			}
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
	}
	return false, nil
}

func containsEqual(values []any, want any) bool {
	if want == nil && len(values) == 0 {
		return true
	}
	for _, c := range candidates(values) {
		if equal(c, want) {
			return true
		}
	}
	return false
}

// regexFlags keeps the $options flags both engines understand.
func regexFlags(opts string) string {
	var b strings.Builder
	for _, r := range opts {
		if strings.ContainsRune("ims", r) && !strings.ContainsRune(b.String(), r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func compileRegex(arg any, opts string) (*regexp.Regexp, error) {
	pattern, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("docstore: %s expects a string", OpRegex)
	}
	if flags := regexFlags(opts); flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("docstore: invalid %s: %w", OpRegex, err)
	}
	return re, nil
}
