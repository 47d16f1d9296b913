package schema

import (
	"reflect"
	"testing"
)

func TestParseTolerant(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "plain object",
			raw:  `{"x": 1}`,
			want: map[string]any{"x": float64(1)},
		},
		{
			name: "code fence with language",
			raw:  "```json\n{\"x\": 1}\n```",
			want: map[string]any{"x": float64(1)},
		},
		{
			name: "leading prose",
			raw:  `Here is the result: {"x": 1}`,
			want: map[string]any{"x": float64(1)},
		},
		{
			name: "trailing garbage",
			raw:  `{"x": 1} hope that helps!`,
			want: map[string]any{"x": float64(1)},
		},
		{
			name: "raw tab inside string",
			raw:  "{\"a\": \"col1\tcol2\"}",
			want: map[string]any{"a": "col1\tcol2"},
		},
		{
			name: "raw newline inside string",
			raw:  "{\"a\": \"line1\nline2\"}",
			want: map[string]any{"a": "line1\nline2"},
		},
		{
			name: "array root",
			raw:  `[1, 2, 3]`,
			want: []any{float64(1), float64(2), float64(3)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTolerant(tt.raw)
			if err != nil {
				t.Fatalf("ParseTolerant(%q): %v", tt.raw, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseTolerantNoValue(t *testing.T) {
	if _, err := ParseTolerant("the model refused to answer"); err == nil {
		t.Error("expected error for prose without JSON")
	}
}

func TestSanitizeEmpty(t *testing.T) {
	schemaMap := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
			"note":  map[string]any{"type": []any{"string", "null"}},
		},
		"required": []any{"name"},
	}

	value := map[string]any{
		"name":  "ok",
		"count": nil, // padded null, not required: dropped
		"note":  nil, // nullable: kept
		"extra": nil, // unknown, not required: dropped
	}
	got := SanitizeEmpty(value, schemaMap).(map[string]any)

	if _, ok := got["count"]; ok {
		t.Error("null count should have been dropped")
	}
	if _, ok := got["extra"]; ok {
		t.Error("null extra should have been dropped")
	}
	if _, ok := got["note"]; !ok {
		t.Error("nullable note should have been kept")
	}
	if got["name"] != "ok" {
		t.Errorf("name = %v", got["name"])
	}
}

func TestSanitizeEmptyString(t *testing.T) {
	schemaMap := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n": map[string]any{"type": "integer"},
			"s": map[string]any{"type": "string"},
		},
	}
	value := map[string]any{"n": "", "s": ""}
	got := SanitizeEmpty(value, schemaMap).(map[string]any)
	if _, ok := got["n"]; ok {
		t.Error("empty string for integer field should have been dropped")
	}
	if _, ok := got["s"]; !ok {
		t.Error("empty string for string field should have been kept")
	}
}

func TestValidate(t *testing.T) {
	schemaMap := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		"required": []any{"x"},
	}
	if err := Validate(map[string]any{"x": float64(1)}, schemaMap); err != nil {
		t.Errorf("valid value rejected: %v", err)
	}
	if err := Validate(map[string]any{"x": "one"}, schemaMap); err == nil {
		t.Error("invalid value accepted")
	}
	if err := Validate(map[string]any{}, schemaMap); err == nil {
		t.Error("missing required accepted")
	}
}

func TestCompatible(t *testing.T) {
	base := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
	}
	tests := []struct {
		name string
		a, b map[string]any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", base, nil, false},
		{"identical", base, base, true},
		{
			"annotations ignored",
			base,
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": map[string]any{"type": "integer", "description": "the x"},
				},
				"title": "thing",
			},
			true,
		},
		{
			"different property set",
			base,
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"y": map[string]any{"type": "integer"},
				},
			},
			false,
		},
		{
			"different property type",
			base,
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": map[string]any{"type": "string"},
				},
			},
			false,
		},
		{
			"array item shape",
			map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compatible(tt.a, tt.b); got != tt.want {
				t.Errorf("Compatible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInfer(t *testing.T) {
	vars := map[string]any{
		"name":  "Ada",
		"age":   float64(36),
		"score": 1.5,
		"tags":  []any{"a", "b"},
		"meta":  map[string]any{"ok": true},
	}
	got := Infer(vars)
	props := got["properties"].(map[string]any)

	if props["name"].(map[string]any)["type"] != "string" {
		t.Errorf("name: %v", props["name"])
	}
	if props["age"].(map[string]any)["type"] != "integer" {
		t.Errorf("age: %v", props["age"])
	}
	if props["score"].(map[string]any)["type"] != "number" {
		t.Errorf("score: %v", props["score"])
	}
	tags := props["tags"].(map[string]any)
	if tags["type"] != "array" || tags["items"].(map[string]any)["type"] != "string" {
		t.Errorf("tags: %v", tags)
	}
	meta := props["meta"].(map[string]any)
	if meta["type"] != "object" {
		t.Errorf("meta: %v", meta)
	}

	// Inferred schemas validate the variables they came from.
	if err := Validate(vars, got); err != nil {
		t.Errorf("inferred schema rejects its own variables: %v", err)
	}
}
