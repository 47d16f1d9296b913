package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestVersionID_Stable(t *testing.T) {
	temp := 0.5
	v1 := &Version{Model: "gpt-4.1", Temperature: &temp}
	v2 := &Version{Model: "gpt-4.1", Temperature: &temp}

	if v1.ID() != v2.ID() {
		t.Errorf("equal versions produced different ids: %s vs %s", v1.ID(), v2.ID())
	}
	if len(v1.ID()) != 32 {
		t.Errorf("id length = %d, want 32", len(v1.ID()))
	}
}

func TestVersionID_DefaultFieldsExcluded(t *testing.T) {
	// A version with explicit zero values for optional pointer fields left
	// nil must hash the same as one that never mentions them.
	v1 := &Version{Model: "gpt-4.1"}
	v2 := &Version{Model: "gpt-4.1", EnabledTools: nil, Prompt: nil}

	if v1.ID() != v2.ID() {
		t.Error("nil optional fields changed the id")
	}
}

func TestVersionID_ParameterChangesID(t *testing.T) {
	base := &Version{Model: "gpt-4.1"}
	temp := 0.7
	topP := 0.9
	maxTokens := 256

	variants := []*Version{
		{Model: "gpt-4o"},
		{Model: "gpt-4.1", Temperature: &temp},
		{Model: "gpt-4.1", TopP: &topP},
		{Model: "gpt-4.1", MaxOutputTokens: &maxTokens},
		{Model: "gpt-4.1", Provider: ProviderFireworks},
		{Model: "gpt-4.1", ReasoningEffort: ReasoningHigh},
		{Model: "gpt-4.1", Prompt: []Message{UserMessage("hi")}},
		{Model: "gpt-4.1", OutputSchema: map[string]any{"type": "object"}},
	}

	seen := map[string]bool{base.ID(): true}
	for i, v := range variants {
		id := v.ID()
		if seen[id] {
			t.Errorf("variant %d did not change the id", i)
		}
		seen[id] = true
	}
}

func TestAgentInputID(t *testing.T) {
	in1 := &AgentInput{Variables: map[string]any{"name": "Toulouse"}}
	in2 := &AgentInput{Variables: map[string]any{"name": "Toulouse"}}
	in3 := &AgentInput{Variables: map[string]any{"name": "Pittsburgh"}}

	if in1.ID() != in2.ID() {
		t.Error("equal inputs produced different ids")
	}
	if in1.ID() == in3.ID() {
		t.Error("different inputs share an id")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	idx := 1
	msgs := []Message{
		UserMessage("hello"),
		{Role: RoleAssistant, Content: []Part{
			ReasoningPart("thinking about it"),
			TextPart("the answer"),
			{ToolCall: &ToolCallRequest{
				ID:    "call_1",
				Name:  "@get_current_time",
				Input: map[string]any{"tz": "UTC"},
				Index: &idx,
			}},
		}},
		{Role: RoleTool, Content: []Part{
			{ToolResult: &ToolCallResult{ID: "call_1", Result: "2026-01-01T00:00:00Z"}},
		}},
		{Role: RoleUser, Content: []Part{
			{File: &File{URL: "https://example.com/cat.png", ContentType: "image/png", Format: FormatImage}},
			{Object: map[string]any{"k": "v"}},
		}},
	}

	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal message %d: %v", i, err)
		}
		var got Message
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal message %d: %v", i, err)
		}
		if !reflect.DeepEqual(m, got) {
			t.Errorf("message %d did not round-trip:\nwant %+v\ngot  %+v", i, m, got)
		}
	}
}

func TestVersionRoundTrip(t *testing.T) {
	temp := 0.0
	strict := true
	v := Version{
		Model:       "claude-sonnet-4",
		Temperature: &temp,
		EnabledTools: []Tool{{
			Name:        "search",
			InputSchema: map[string]any{"type": "object"},
			Strict:      strict,
		}},
		ToolChoice:   &ToolChoice{Mode: ToolChoiceFunction, Name: "search"},
		Prompt:       []Message{SystemMessage("be brief")},
		OutputSchema: map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "integer"}}},
		UseFallback:  &FallbackPolicy{Mode: FallbackNever},
	}

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var got Version
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID() != v.ID() {
		t.Error("version id changed across round-trip")
	}
	if !reflect.DeepEqual(v, got) {
		t.Errorf("version did not round-trip:\nwant %+v\ngot  %+v", v, got)
	}
}

func TestPartValidate(t *testing.T) {
	text := "x"
	tests := []struct {
		name    string
		part    Part
		wantErr bool
	}{
		{"text", TextPart("hi"), false},
		{"empty", Part{}, true},
		{"two kinds", Part{Text: &text, Reasoning: &text}, true},
		{"tool call", Part{ToolCall: &ToolCallRequest{ID: "1", Name: "t"}}, false},
	}
	for _, tt := range tests {
		err := tt.part.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestCompletionID_V7(t *testing.T) {
	id := NewCompletionID()
	ts := CompletionTime(id)
	if ts.IsZero() {
		t.Fatalf("completion id %s has no embedded timestamp", id)
	}

	// v7 ids are time-ordered.
	id2 := NewCompletionID()
	if id2 < id {
		t.Errorf("ids not time-sortable: %s then %s", id, id2)
	}
}
