// Package domain defines the neutral data model shared by every component of
// the gateway: messages, files, tools, versions, completions, and usage.
//
// Values in this package are immutable once constructed. Versions and agent
// inputs are identified by a content hash of their canonical form, so two
// semantically equal values always share one id.
package domain

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
)

// Message is a single conversation turn. Content is an ordered sequence of
// parts; each part holds exactly one kind of content.
type Message struct {
	Role    Role   `json:"role"`
	Content []Part `json:"content"`
}

// Part is one element of a message's content. Exactly one field is set.
type Part struct {
	// Text is plain text content.
	Text *string `json:"text,omitempty"`

	// Object is a structured JSON object.
	Object map[string]any `json:"object,omitempty"`

	// File references inline bytes or a URL.
	File *File `json:"file,omitempty"`

	// ToolCall is an assistant request to execute a tool.
	ToolCall *ToolCallRequest `json:"tool_call,omitempty"`

	// ToolResult is the outcome of an executed tool call.
	ToolResult *ToolCallResult `json:"tool_result,omitempty"`

	// Reasoning is model reasoning text surfaced by the provider.
	Reasoning *string `json:"reasoning,omitempty"`
}

// TextPart builds a text content part.
func TextPart(s string) Part { return Part{Text: &s} }

// ReasoningPart builds a reasoning content part.
func ReasoningPart(s string) Part { return Part{Reasoning: &s} }

// Validate checks that the part holds exactly one kind of content.
func (p *Part) Validate() error {
	n := 0
	if p.Text != nil {
		n++
	}
	if p.Object != nil {
		n++
	}
	if p.File != nil {
		n++
	}
	if p.ToolCall != nil {
		n++
	}
	if p.ToolResult != nil {
		n++
	}
	if p.Reasoning != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("content part must hold exactly one kind, has %d", n)
	}
	return nil
}

// UserMessage builds a user message with a single text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []Part{TextPart(text)}}
}

// SystemMessage builds a system message with a single text part.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []Part{TextPart(text)}}
}

// AssistantMessage builds an assistant message with a single text part.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []Part{TextPart(text)}}
}

// TextContent concatenates the text parts of the message.
func (m *Message) TextContent() string {
	var out string
	for _, p := range m.Content {
		if p.Text != nil {
			out += *p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call requests carried by the message.
func (m *Message) ToolCalls() []ToolCallRequest {
	var calls []ToolCallRequest
	for _, p := range m.Content {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolCallRequest is an assistant request to execute a named tool.
type ToolCallRequest struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
	Index *int           `json:"index,omitempty"`
}

// ToolCallResult carries the outcome of a tool execution back to the model.
type ToolCallResult struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// InputJSON returns the call input serialized as JSON.
func (t *ToolCallRequest) InputJSON() string {
	if t.Input == nil {
		return "{}"
	}
	b, err := json.Marshal(t.Input)
	if err != nil {
		return "{}"
	}
	return string(b)
}
