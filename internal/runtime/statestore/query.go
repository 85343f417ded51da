package statestore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

type document struct {
	item  sidecar.Item
	value any
}

func evaluate(docs []document, q sidecar.Query) (sidecar.QueryResponse, error) {
	filter, err := compileFilter(q.Filter)
	if err != nil {
		return sidecar.QueryResponse{}, err
	}

	matched := make([]document, 0, len(docs))
	for _, d := range docs {
		ok, err := filter.match(d.value)
		if err != nil {
			return sidecar.QueryResponse{}, err
		}
		if ok {
			matched = append(matched, d)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, key := range q.Sort {
				c := compare(lookup(matched[i].value, key.Key), lookup(matched[j].value, key.Key))
				if c == 0 {
					continue
				}
				if strings.EqualFold(key.Order, "DESC") {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	offset := 0
	if q.Page.Token != "" {
		offset, err = strconv.Atoi(q.Page.Token)
		if err != nil || offset < 0 {
			return sidecar.QueryResponse{}, fmt.Errorf("statestore: invalid page token %q", q.Page.Token)
		}
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if q.Page.Limit > 0 && offset+q.Page.Limit < end {
		end = offset + q.Page.Limit
	}

	resp := sidecar.QueryResponse{Results: make([]sidecar.Item, 0, end-offset)}
	for _, d := range matched[offset:end] {
		resp.Results = append(resp.Results, d.item)
	}
	if end < len(matched) {
		resp.Token = strconv.Itoa(end)
	}
	return resp, nil
}

// queryFilter is a state query filter compiled into an expr program. Paths
// and comparison values are bound as variables so keys never need quoting.
type queryFilter struct {
	program *vm.Program
	params  map[string]any
}

var lookupFunction = expr.Function("lookup", func(params ...any) (any, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("lookup() expects a document and a path, got %d arguments", len(params))
	}
	path, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("lookup() expects a string path, got %T", params[1])
	}
	return lookup(params[0], path), nil
})

// compileFilter translates a filter tree of {"EQ": {path: v}},
// {"IN": {path: [..]}}, {"AND": [...]} and {"OR": [...]} nodes into an
// expression. An empty filter matches everything.
func compileFilter(filter map[string]any) (*queryFilter, error) {
	normalized, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	b := &filterBuilder{params: map[string]any{}}
	source, err := b.node(normalized)
	if err != nil {
		return nil, err
	}
	program, err := expr.Compile(source, lookupFunction)
	if err != nil {
		return nil, fmt.Errorf("statestore: compile filter: %w", err)
	}
	return &queryFilter{program: program, params: b.params}, nil
}

func (f *queryFilter) match(doc any) (bool, error) {
	env := make(map[string]any, len(f.params)+1)
	for name, v := range f.params {
		env[name] = v
	}
	env["doc"] = doc
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("statestore: evaluate filter: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("statestore: filter evaluated to %T", out)
	}
	return ok, nil
}

type filterBuilder struct {
	params map[string]any
}

func (b *filterBuilder) bind(v any) string {
	name := "p" + strconv.Itoa(len(b.params))
	b.params[name] = v
	return name
}

func (b *filterBuilder) node(filter any) (string, error) {
	obj, ok := filter.(map[string]any)
	if !ok {
		return "", fmt.Errorf("statestore: filter must be an object, got %T", filter)
	}
	if len(obj) == 0 {
		return "true", nil
	}

	parts := make([]string, 0, len(obj))
	for _, op := range sortedKeys(obj) {
		var (
			part string
			err  error
		)
		switch strings.ToUpper(op) {
		case "EQ":
			part, err = b.comparison(obj[op], "==")
		case "IN":
			part, err = b.comparison(obj[op], "in")
		case "AND":
			part, err = b.combine("AND", obj[op], " && ")
		case "OR":
			part, err = b.combine("OR", obj[op], " || ")
		default:
			return "", fmt.Errorf("statestore: unsupported filter %q", op)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, " && ") + ")", nil
}

func (b *filterBuilder) comparison(arg any, operator string) (string, error) {
	fields, ok := arg.(map[string]any)
	if !ok {
		return "", fmt.Errorf("statestore: comparison needs an object, got %T", arg)
	}
	if len(fields) == 0 {
		return "true", nil
	}

	parts := make([]string, 0, len(fields))
	for _, path := range sortedKeys(fields) {
		want := fields[path]
		if _, isList := want.([]any); operator == "in" && !isList {
			parts = append(parts, "false")
			continue
		}
		parts = append(parts, fmt.Sprintf("lookup(doc, %s) %s %s", b.bind(path), operator, b.bind(want)))
	}
	return "(" + strings.Join(parts, " && ") + ")", nil
}

func (b *filterBuilder) combine(op string, arg any, joiner string) (string, error) {
	children, ok := arg.([]any)
	if !ok {
		return "", fmt.Errorf("statestore: %s needs a list, got %T", op, arg)
	}
	if len(children) == 0 {
		return strconv.FormatBool(op == "AND"), nil
	}

	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := b.node(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lookup follows a dotted path through decoded JSON objects.
func lookup(doc any, path string) any {
	current := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[part]
	}
	return current
}

func compare(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// normalize round-trips the filter through JSON so Go literals compare
// equal to decoded values.
func normalize(filter map[string]any) (any, error) {
	if len(filter) == 0 {
		return map[string]any{}, nil
	}
	raw, err := jsoncodec.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("statestore: encode filter: %w", err)
	}
	var out any
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("statestore: decode filter: %w", err)
	}
	return out, nil
}
