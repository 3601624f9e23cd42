package docstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// sqlBuilder turns conditions into a PostgreSQL WHERE clause over a jsonb
// column named doc. Field paths become lax-mode SQL/JSON paths, which fan
// out over arrays the same way the memory engine does. Every caller value is
// bound as a query parameter.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// where translates cond. Keys are visited in sorted order so the output is
// deterministic.
func (b *sqlBuilder) where(cond Condition) (string, error) {
	if len(cond) == 0 {
		return "TRUE", nil
	}
	keys := sortedKeys(cond)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		expr := cond[key]
		var (
			sql string
			err error
		)
		switch key {
		case OpAnd, OpOr, OpNor:
			sql, err = b.logical(key, expr)
		case OpText:
			sql, err = b.text(expr)
		default:
			if IsOperator(key) {
				return "", fmt.Errorf("docstore: unsupported top-level operator %s", key)
			}
			sql, err = b.field(key, expr)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) logical(op string, expr any) (string, error) {
	clauses, ok := toSlice(expr)
	if !ok {
		return "", fmt.Errorf("docstore: %s expects an array", op)
	}
	if len(clauses) == 0 {
		if op == OpOr {
			return "FALSE", nil
		}
		return "TRUE", nil
	}
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		sub, ok := c.(map[string]any)
		if !ok {
			return "", fmt.Errorf("docstore: %s clause must be an object", op)
		}
		sql, err := b.where(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	switch op {
	case OpAnd:
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case OpOr:
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}
	return "NOT (" + strings.Join(parts, " OR ") + ")", nil
}

func (b *sqlBuilder) text(expr any) (string, error) {
	m, ok := expr.(map[string]any)
	if !ok {
		return "", fmt.Errorf("docstore: %s expects an object", OpText)
	}
	search, ok := m[OpSearch].(string)
	if !ok {
		return "", fmt.Errorf("docstore: %s requires a string %s", OpText, OpSearch)
	}
	return fmt.Sprintf(
		`to_tsvector('simple', regexp_replace(coalesce(doc #>> '{text,div}', ''), '<[^>]*>', ' ', 'g')) @@ websearch_to_tsquery('simple', %s)`,
		b.arg(search)), nil
}

func (b *sqlBuilder) field(path string, expr any) (string, error) {
	ops, ok := expr.(map[string]any)
	if !ok || !IsOperatorObject(ops) {
		return b.eq(path, expr, false)
	}

	keys := sortedKeys(ops)
	parts := make([]string, 0, len(keys))
	for _, op := range keys {
		if op == OpOptions {
			continue
		}
		sql, err := b.operator(path, op, ops[op], ops)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) operator(path, op string, arg any, ops map[string]any) (string, error) {
	switch op {
	case OpEq:
		return b.eq(path, arg, false)
	case OpNe:
		return b.eq(path, arg, true)
	case OpGt, OpGte, OpLt, OpLte:
		if !isScalar(arg) || arg == nil {
			return "", fmt.Errorf("docstore: %s on %s expects a scalar", op, path)
		}
		return b.exists(jsonPath(path)+" ? (@ "+comparison[op]+" $v0)", map[string]any{"v0": arg}), nil
	case OpIn, OpNin:
		list, ok := toSlice(arg)
		if !ok {
			return "", fmt.Errorf("docstore: %s expects an array", op)
		}
		sql, err := b.in(path, list)
		if err != nil {
			return "", err
		}
		if op == OpNin {
			return "NOT " + sql, nil
		}
		return sql, nil
	case OpAll:
		list, ok := toSlice(arg)
		if !ok {
			return "", fmt.Errorf("docstore: %s expects an array", op)
		}
		if len(list) == 0 {
			return "FALSE", nil
		}
		parts := make([]string, 0, len(list))
		for _, v := range list {
			sql, err := b.eq(path, v, false)
			if err != nil {
				return "", err
			}
			parts = append(parts, sql)
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case OpExists:
		want, ok := arg.(bool)
		if !ok {
			return "", fmt.Errorf("docstore: %s expects a boolean", op)
		}
		sql := b.exists(jsonPath(path), nil)
		if !want {
			return "NOT " + sql, nil
		}
		return sql, nil
	case OpElemMatch:
		sub, ok := arg.(map[string]any)
		if !ok {
			return "", fmt.Errorf("docstore: %s expects an object", OpElemMatch)
		}
		vars := map[string]any{}
		filter, err := elemFilter(sub, vars)
		if err != nil {
			return "", err
		}
		return b.exists(jsonPath(path)+" ? ("+filter+")", vars), nil
	case OpRegex:
		pattern, ok := arg.(string)
		if !ok {
			return "", fmt.Errorf("docstore: %s expects a string", OpRegex)
		}
		opts, _ := ops[OpOptions].(string)
		return b.exists(jsonPath(path)+" ? "+regexFilter("@", pattern, opts), nil), nil
	}
	return "", fmt.Errorf("docstore: unsupported operator %s", op)
}

var comparison = map[string]string{
	OpEq:  "==",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

func (b *sqlBuilder) eq(path string, v any, negate bool) (string, error) {
	var sql string
	if v == nil {
		// A null match also covers a missing field.
		sql = "(NOT " + b.exists(jsonPath(path), nil) + " OR " +
			b.exists(jsonPath(path)+" ? (@ == null)", nil) + ")"
	} else {
		if !isScalar(v) {
			return "", fmt.Errorf("docstore: equality on %s expects a scalar", path)
		}
		sql = b.exists(jsonPath(path)+" ? (@ == $v0)", map[string]any{"v0": v})
	}
	if negate {
		return "NOT " + sql, nil
	}
	return sql, nil
}

func (b *sqlBuilder) in(path string, list []any) (string, error) {
	if len(list) == 0 {
		return "FALSE", nil
	}
	vars := map[string]any{}
	terms := make([]string, 0, len(list))
	for i, v := range list {
		if !isScalar(v) || v == nil {
			return "", fmt.Errorf("docstore: %s on %s expects scalars", OpIn, path)
		}
		name := "v" + strconv.Itoa(i)
		vars[name] = v
		terms = append(terms, "@ == $"+name)
	}
	return b.exists(jsonPath(path)+" ? ("+strings.Join(terms, " || ")+")", vars), nil
}

// exists emits a jsonb_path_exists call with the path and its variables
// bound as parameters.
func (b *sqlBuilder) exists(path string, vars map[string]any) string {
	if len(vars) == 0 {
		return fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath)", b.arg(path))
	}
	data, _ := json.Marshal(vars)
	return fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath, %s::jsonb)", b.arg(path), b.arg(string(data)))
}

// elemFilter builds the filter expression applied to each array element of
// an $elemMatch. Variable names continue from the entries already in vars.
func elemFilter(sub map[string]any, vars map[string]any) (string, error) {
	if IsOperatorObject(sub) {
		return opFilter("@", sub, vars)
	}
	keys := sortedKeys(sub)
	terms := make([]string, 0, len(keys))
	for _, field := range keys {
		if IsOperator(field) {
			return "", fmt.Errorf("docstore: %s inside %s is not supported", field, OpElemMatch)
		}
		target := "@" + memberPath(field)
		expr := sub[field]
		if ops, ok := expr.(map[string]any); ok && IsOperatorObject(ops) {
			t, err := opFilter(target, ops, vars)
			if err != nil {
				return "", err
			}
			terms = append(terms, t)
			continue
		}
		if !isScalar(expr) || expr == nil {
			return "", fmt.Errorf("docstore: %s on %s expects scalars", OpElemMatch, field)
		}
		terms = append(terms, target+" == $"+addVar(vars, expr))
	}
	return strings.Join(terms, " && "), nil
}

func opFilter(target string, ops map[string]any, vars map[string]any) (string, error) {
	keys := sortedKeys(ops)
	terms := make([]string, 0, len(keys))
	for _, op := range keys {
		arg := ops[op]
		switch op {
		case OpOptions:
			continue
		case OpEq, OpGt, OpGte, OpLt, OpLte:
			if !isScalar(arg) || arg == nil {
				return "", fmt.Errorf("docstore: %s expects a scalar", op)
			}
			terms = append(terms, target+" "+comparison[op]+" $"+addVar(vars, arg))
		case OpNe:
			if !isScalar(arg) || arg == nil {
				return "", fmt.Errorf("docstore: %s expects a scalar", op)
			}
			terms = append(terms, "!("+target+" == $"+addVar(vars, arg)+")")
		case OpIn:
			list, ok := toSlice(arg)
			if !ok || len(list) == 0 {
				return "", fmt.Errorf("docstore: %s expects a non-empty array", op)
			}
			alts := make([]string, 0, len(list))
			for _, v := range list {
				alts = append(alts, target+" == $"+addVar(vars, v))
			}
			terms = append(terms, "("+strings.Join(alts, " || ")+")")
		case OpExists:
			want, _ := arg.(bool)
			t := "exists(" + target + ")"
			if !want {
				t = "!" + t
			}
			terms = append(terms, t)
		case OpRegex:
			pattern, ok := arg.(string)
			if !ok {
				return "", fmt.Errorf("docstore: %s expects a string", OpRegex)
			}
			opts, _ := ops[OpOptions].(string)
			terms = append(terms, regexFilter(target, pattern, opts))
		default:
			return "", fmt.Errorf("docstore: %s inside %s is not supported", op, OpElemMatch)
		}
	}
	return strings.Join(terms, " && "), nil
}

func addVar(vars map[string]any, v any) string {
	name := "v" + strconv.Itoa(len(vars))
	vars[name] = v
	return name
}

// regexFilter renders a like_regex test. SQL/JSON only accepts the pattern
// as a string literal, so it is quoted into the path text, which itself
// travels as a bound parameter.
func regexFilter(target, pattern, opts string) string {
	f := "(" + target + " like_regex " + quoteJSONPath(pattern)
	if flags := regexFlags(opts); flags != "" {
		f += " flag " + quoteJSONPath(flags)
	}
	return f + ")"
}

// jsonPath renders a dot path as a lax SQL/JSON path: a.b -> $."a"."b".
func jsonPath(path string) string {
	return "$" + memberPath(path)
}

func memberPath(path string) string {
	var b strings.Builder
	for _, part := range splitPath(path) {
		b.WriteString(".")
		b.WriteString(quoteJSONPath(part))
	}
	return b.String()
}

func quoteJSONPath(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64:
		return true
	}
	return false
}

// orderBy renders an ORDER BY clause. Ties fall back to insertion order.
func (b *sqlBuilder) orderBy(fields []SortField) string {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		dir := "ASC"
		if f.Direction < 0 {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("doc #> %s::text[] %s", b.arg(splitPath(f.Field)), dir))
	}
	parts = append(parts, "created_at ASC", "row_id ASC")
	return "ORDER BY " + strings.Join(parts, ", ")
}

// translate returns the WHERE clause for cond and its parameters.
func translate(cond Condition) (string, []any, error) {
	nc, err := normalizeDoc(cond)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	sql, err := b.where(nc)
	if err != nil {
		return "", nil, err
	}
	return sql, b.args, nil
}
