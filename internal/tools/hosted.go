// Package tools holds the hosted tools the runner executes locally. Hosted
// tool names carry the "@" prefix; vendors see the sanitized name and the
// runner maps calls back before dispatch.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// Handler executes one hosted tool call.
type Handler func(ctx context.Context, input map[string]any) (any, error)

// HostedTool pairs a tool definition with its local handler.
type HostedTool struct {
	Tool    domain.Tool
	Handler Handler
}

// Registry maps hosted tool names to their implementations.
type Registry struct {
	tools map[string]HostedTool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]HostedTool)}
}

// Default returns the registry with the built-in hosted tools.
func Default() *Registry {
	r := NewRegistry()
	r.Register(currentTimeTool())
	r.Register(calculatorTool())
	return r
}

// Register adds a tool; the name must carry the hosted prefix.
func (r *Registry) Register(t HostedTool) {
	r.tools[t.Tool.Name] = t
}

// Get looks a hosted tool up by its prefixed name.
func (r *Registry) Get(name string) (HostedTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions lists every registered tool definition.
func (r *Registry) Definitions() []domain.Tool {
	out := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Tool)
	}
	return out
}

// Execute dispatches a tool call and returns the serializable result.
func (r *Registry) Execute(ctx context.Context, call *domain.ToolCallRequest) domain.ToolCallResult {
	result := domain.ToolCallResult{ID: call.ID}
	t, ok := r.tools[call.Name]
	if !ok {
		result.Error = fmt.Sprintf("unknown hosted tool %q", call.Name)
		return result
	}
	value, err := t.Handler(ctx, call.Input)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Result = value
	return result
}

// schemaOf reflects a JSON schema from an input struct and flattens it into
// the map form tools carry on the wire.
func schemaOf(v any) map[string]any {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	s := reflector.Reflect(v)
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	// The $schema marker trips up some vendors' schema validators.
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

type currentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA timezone name, defaults to UTC"`
}

func currentTimeTool() HostedTool {
	return HostedTool{
		Tool: domain.Tool{
			Name:        domain.HostedToolPrefix + "get_current_time",
			Description: "Returns the current date and time, optionally in a given IANA timezone.",
			InputSchema: schemaOf(&currentTimeInput{}),
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			loc := time.UTC
			if tz, ok := input["timezone"].(string); ok && tz != "" {
				parsed, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", tz)
				}
				loc = parsed
			}
			now := time.Now().In(loc)
			return map[string]any{
				"iso8601":  now.Format(time.RFC3339),
				"timezone": loc.String(),
				"weekday":  now.Weekday().String(),
			}, nil
		},
	}
}

type calculatorInput struct {
	Expression string `json:"expression" jsonschema:"required" jsonschema_description:"Arithmetic expression using + - * / and parentheses"`
}

func calculatorTool() HostedTool {
	return HostedTool{
		Tool: domain.Tool{
			Name:        domain.HostedToolPrefix + "calculator",
			Description: "Evaluates an arithmetic expression.",
			InputSchema: schemaOf(&calculatorInput{}),
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			expr, _ := input["expression"].(string)
			if expr == "" {
				return nil, fmt.Errorf("expression is required")
			}
			value, err := evaluate(expr)
			if err != nil {
				return nil, err
			}
			return map[string]any{"result": value}, nil
		},
	}
}
