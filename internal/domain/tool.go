package domain

import "strings"

// HostedToolPrefix marks tools executed by the gateway itself rather than
// surfaced to the caller.
const HostedToolPrefix = "@"

// Tool describes a callable tool exposed to the model.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	Strict       bool           `json:"strict,omitempty"`
}

// IsHosted reports whether the tool is executed locally by the runner.
func (t *Tool) IsHosted() bool { return strings.HasPrefix(t.Name, HostedToolPrefix) }

// IsHostedToolName reports whether a tool-call target names a hosted tool.
func IsHostedToolName(name string) bool { return strings.HasPrefix(name, HostedToolPrefix) }

// ToolChoiceMode selects how the model may use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice constrains tool usage. When Mode is ToolChoiceFunction, Name
// identifies the forced tool.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}
