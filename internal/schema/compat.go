package schema

import "sort"

// Compatible reports whether two schemas share the same structural shape:
// same types, same property names recursively, same array item shape.
// Annotations (descriptions, titles, examples, defaults) never affect the
// result, so deployments can refine wording without breaking pinning.
func Compatible(a, b map[string]any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if typeKey(a) != typeKey(b) {
		return false
	}
	if !sameKeys(properties(a), properties(b)) {
		return false
	}
	ap, bp := properties(a), properties(b)
	for name, as := range ap {
		if !Compatible(as, bp[name]) {
			return false
		}
	}
	ai, aok := a["items"].(map[string]any)
	bi, bok := b["items"].(map[string]any)
	if aok != bok {
		return false
	}
	if aok && !Compatible(ai, bi) {
		return false
	}
	return true
}

func typeKey(s map[string]any) string {
	switch t := s["type"].(type) {
	case string:
		return t
	case []any:
		names := make([]string, 0, len(t))
		for _, e := range t {
			if n, ok := e.(string); ok {
				names = append(names, n)
			}
		}
		sort.Strings(names)
		out := ""
		for _, n := range names {
			out += n + "|"
		}
		return out
	default:
		return ""
	}
}

func properties(s map[string]any) map[string]map[string]any {
	props, _ := s["properties"].(map[string]any)
	out := make(map[string]map[string]any, len(props))
	for name, p := range props {
		pm, _ := p.(map[string]any)
		out[name] = pm
	}
	return out
}

func sameKeys(a, b map[string]map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Infer derives a JSON schema from a variable tree, used to record the
// input_variables_schema of versions created from raw playground variables.
func Infer(value any) map[string]any {
	switch t := value.(type) {
	case map[string]any:
		props := make(map[string]any, len(t))
		required := make([]string, 0, len(t))
		for k, v := range t {
			props[k] = Infer(v)
			required = append(required, k)
		}
		sort.Strings(required)
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		out := map[string]any{"type": "object", "properties": props}
		if len(req) > 0 {
			out["required"] = req
		}
		return out
	case []any:
		item := map[string]any{}
		if len(t) > 0 {
			item = Infer(t[0])
		}
		return map[string]any{"type": "array", "items": item}
	case string:
		return map[string]any{"type": "string"}
	case bool:
		return map[string]any{"type": "boolean"}
	case float64:
		if t == float64(int64(t)) {
			return map[string]any{"type": "integer"}
		}
		return map[string]any{"type": "number"}
	case int, int64:
		return map[string]any{"type": "integer"}
	case nil:
		return map[string]any{"type": "null"}
	default:
		return map[string]any{}
	}
}
