// Package templates renders prompt templates by substituting variables into
// double-brace placeholders. Placeholders use dotted paths into the variable
// tree; unknown paths render empty so a template never fails a run.
package templates

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ContainsPlaceholders reports whether the string holds any {{...}} markers.
func ContainsPlaceholders(s string) bool {
	open := strings.Index(s, "{{")
	return open >= 0 && strings.Index(s[open:], "}}") > 0
}

// Render substitutes variables into a template. Scalar values render as-is;
// objects and arrays render as compact JSON.
func Render(template string, vars map[string]any) string {
	if len(vars) == 0 || !ContainsPlaceholders(template) {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	rest := template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			b.WriteString(rest)
			return b.String()
		}
		close += open
		b.WriteString(rest[:open])
		path := strings.TrimSpace(rest[open+2 : close])
		if value, ok := lookup(vars, path); ok {
			b.WriteString(format(value))
		}
		rest = rest[close+2:]
	}
}

// lookup walks a dotted path through maps and slices ("user.tags.0").
func lookup(vars map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = vars
	for _, seg := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
