package tools

import (
	"context"
	"testing"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	for _, name := range []string{"@get_current_time", "@calculator"} {
		tool, ok := r.Get(name)
		if !ok {
			t.Fatalf("missing hosted tool %s", name)
		}
		if !tool.Tool.IsHosted() {
			t.Errorf("%s should report hosted", name)
		}
		if tool.Tool.InputSchema["type"] != "object" {
			t.Errorf("%s schema = %v", name, tool.Tool.InputSchema)
		}
	}
}

func TestExecuteCurrentTime(t *testing.T) {
	r := Default()
	res := r.Execute(context.Background(), &domain.ToolCallRequest{
		ID:    "call_1",
		Name:  "@get_current_time",
		Input: map[string]any{"timezone": "Europe/Paris"},
	})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	out := res.Result.(map[string]any)
	if out["timezone"] != "Europe/Paris" {
		t.Errorf("timezone = %v", out["timezone"])
	}
	if out["iso8601"] == "" {
		t.Error("missing timestamp")
	}
}

func TestExecuteCurrentTimeBadZone(t *testing.T) {
	r := Default()
	res := r.Execute(context.Background(), &domain.ToolCallRequest{
		ID: "c", Name: "@get_current_time",
		Input: map[string]any{"timezone": "Mars/Olympus"},
	})
	if res.Error == "" {
		t.Error("expected error for unknown timezone")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := Default()
	res := r.Execute(context.Background(), &domain.ToolCallRequest{ID: "c", Name: "@nope"})
	if res.Error == "" {
		t.Error("expected error for unknown tool")
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1+2", 3},
		{"2*3+4", 10},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"-5+3", -2},
		{"2*-3", -6},
		{"1.5*2", 3},
		{" 7 - 2 - 1 ", 4},
	}
	for _, tt := range tests {
		got, err := evaluate(tt.expr)
		if err != nil {
			t.Errorf("evaluate(%q): %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{"", "1/0", "(1+2", "1+", "abc"} {
		if _, err := evaluate(expr); err == nil {
			t.Errorf("evaluate(%q): expected error", expr)
		}
	}
}
