// Package schema holds the JSON-schema tooling shared by the runner and the
// deployment resolver: tolerant parsing of model output, sanitization of
// empty values, validation, structural compatibility, and inference from
// variable trees.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseTolerant extracts the first JSON value from model output. Markdown
// code fences, leading prose, raw control characters inside strings, and
// trailing garbage are all tolerated.
func ParseTolerant(raw string) (any, error) {
	candidate := stripFences(raw)
	start := strings.IndexAny(candidate, "{[")
	if start >= 0 {
		candidate = candidate[start:]
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, errors.New("no JSON value found")
	}

	if v, err := decodeFirst(candidate); err == nil {
		return v, nil
	}
	// Re-escape raw control characters the model emitted inside strings.
	repaired := escapeControlChars(candidate)
	v, err := decodeFirst(repaired)
	if err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	return v, nil
}

// decodeFirst decodes the first JSON value and ignores anything after it.
func decodeFirst(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

// normalizeNumbers converts json.Number into float64 so downstream code sees
// the same shapes as a plain unmarshal.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		// Drop the language tag on the fence line.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			first := strings.TrimSpace(s[:nl])
			if first != "" && !strings.ContainsAny(first, "{[\"") {
				s = s[nl+1:]
			}
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return s
}

// escapeControlChars escapes raw tabs, newlines, and other control bytes
// that appear inside string literals.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c < 0x20:
				switch c {
				case '\n':
					b.WriteString(`\n`)
				case '\r':
					b.WriteString(`\r`)
				case '\t':
					b.WriteString(`\t`)
				default:
					fmt.Fprintf(&b, `\u%04x`, c)
				}
				continue
			}
		} else if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Validate checks a value against a JSON schema.
func Validate(value any, schemaMap map[string]any) error {
	if schemaMap == nil {
		return nil
	}
	compiled, err := Compile(schemaMap)
	if err != nil {
		return err
	}
	return compiled.Validate(value)
}

// Compile builds a validator from a schema map.
func Compile(schemaMap map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// SanitizeEmpty drops null and empty-string values the schema does not
// accept, recursively. Models pad objects with nulls for fields they chose
// to omit; stripping them lets otherwise valid output pass validation.
func SanitizeEmpty(value any, schemaMap map[string]any) any {
	if schemaMap == nil {
		return value
	}
	obj, ok := value.(map[string]any)
	if !ok {
		if arr, ok := value.([]any); ok {
			items, _ := schemaMap["items"].(map[string]any)
			for i, e := range arr {
				arr[i] = SanitizeEmpty(e, items)
			}
		}
		return value
	}
	props, _ := schemaMap["properties"].(map[string]any)
	required := requiredSet(schemaMap)
	for key, v := range obj {
		propSchema, _ := props[key].(map[string]any)
		if v == nil {
			if !required[key] && !allowsNull(propSchema) {
				delete(obj, key)
			}
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			if !required[key] && propSchema != nil && !allowsType(propSchema, "string") {
				delete(obj, key)
			}
			continue
		}
		obj[key] = SanitizeEmpty(v, propSchema)
	}
	return obj
}

func requiredSet(schemaMap map[string]any) map[string]bool {
	out := map[string]bool{}
	if req, ok := schemaMap["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func allowsNull(schemaMap map[string]any) bool {
	return allowsType(schemaMap, "null")
}

func allowsType(schemaMap map[string]any, want string) bool {
	if schemaMap == nil {
		return true
	}
	switch t := schemaMap["type"].(type) {
	case string:
		return t == want
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
		return false
	default:
		// No type constraint.
		return true
	}
}
