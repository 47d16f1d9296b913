package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// chatRequest is the OpenAI chat-completions body plus the gateway's
// extension fields. Unsupported OpenAI fields are kept so the handler can
// reject them explicitly instead of silently dropping them.
type chatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`

	Temperature         *float64         `json:"temperature,omitempty"`
	TopP                *float64         `json:"top_p,omitempty"`
	MaxTokens           *int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int             `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64         `json:"frequency_penalty,omitempty"`
	ParallelToolCalls   *bool            `json:"parallel_tool_calls,omitempty"`
	ReasoningEffort     string           `json:"reasoning_effort,omitempty"`
	Stream              bool             `json:"stream,omitempty"`
	Tools               []oaiTool        `json:"tools,omitempty"`
	ToolChoice          json.RawMessage  `json:"tool_choice,omitempty"`
	ResponseFormat      *oaiFormat       `json:"response_format,omitempty"`

	// Accepted but unsupported; rejected when non-null.
	N            *int            `json:"n,omitempty"`
	LogitBias    map[string]any  `json:"logit_bias,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
	Functions    json.RawMessage `json:"functions,omitempty"`

	// Extensions.
	AgentID        string          `json:"agent_id,omitempty"`
	DeploymentID   string          `json:"deployment_id,omitempty"`
	Input          map[string]any  `json:"input,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	UseCache       string          `json:"use_cache,omitempty"`
	UseFallback    json.RawMessage `json:"use_fallback,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
}

type oaiMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []oaiToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type oaiContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
		Strict      bool           `json:"strict,omitempty"`
	} `json:"function"`
}

type oaiFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Name   string         `json:"name,omitempty"`
		Schema map[string]any `json:"schema"`
		Strict *bool          `json:"strict,omitempty"`
	} `json:"json_schema,omitempty"`
}

// rejectUnsupported enforces the compatibility contract: fields the gateway
// cannot honor fail loudly when non-null.
func (r *chatRequest) rejectUnsupported() error {
	if r.N != nil && *r.N > 1 {
		return fmt.Errorf("n > 1 is not supported")
	}
	if len(r.LogitBias) > 0 {
		return fmt.Errorf("logit_bias is not supported")
	}
	if rawSet(r.FunctionCall) {
		return fmt.Errorf("function_call is not supported; use tool_choice")
	}
	if rawSet(r.Functions) {
		return fmt.Errorf("functions is not supported; use tools")
	}
	return nil
}

func rawSet(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// toVersion shapes the request into a Version. The message list is not part
// of it: request messages become the AgentInput instead, so the version id
// only covers configuration.
func (r *chatRequest) toVersion(model string) (*domain.Version, error) {
	v := &domain.Version{
		Model:             model,
		Temperature:       r.Temperature,
		TopP:              r.TopP,
		MaxOutputTokens:   r.MaxCompletionTokens,
		PresencePenalty:   r.PresencePenalty,
		FrequencyPenalty:  r.FrequencyPenalty,
		ParallelToolCalls: r.ParallelToolCalls,
		ReasoningEffort:   domain.ReasoningEffort(r.ReasoningEffort),
	}
	if v.MaxOutputTokens == nil {
		v.MaxOutputTokens = r.MaxTokens
	}
	for _, t := range r.Tools {
		if t.Type != "function" {
			return nil, fmt.Errorf("unsupported tool type %q", t.Type)
		}
		v.EnabledTools = append(v.EnabledTools, domain.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
			Strict:      t.Function.Strict,
		})
	}
	choice, err := parseToolChoice(r.ToolChoice)
	if err != nil {
		return nil, err
	}
	v.ToolChoice = choice

	if r.ResponseFormat != nil && r.ResponseFormat.Type == "json_schema" {
		if r.ResponseFormat.JSONSchema == nil || r.ResponseFormat.JSONSchema.Schema == nil {
			return nil, fmt.Errorf("response_format.json_schema.schema is required")
		}
		v.OutputSchema = r.ResponseFormat.JSONSchema.Schema
		v.UseStructuredGeneration = r.ResponseFormat.JSONSchema.Strict
	}

	fallback, err := parseFallback(r.UseFallback)
	if err != nil {
		return nil, err
	}
	v.UseFallback = fallback
	return v, nil
}

func parseToolChoice(raw json.RawMessage) (*domain.ToolChoice, error) {
	if !rawSet(raw) {
		return nil, nil
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "auto", "required", "none":
			return &domain.ToolChoice{Mode: domain.ToolChoiceMode(mode)}, nil
		default:
			return nil, fmt.Errorf("unknown tool_choice %q", mode)
		}
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid tool_choice: %w", err)
	}
	if obj.Type != "function" || obj.Function.Name == "" {
		return nil, fmt.Errorf("tool_choice object must name a function")
	}
	return &domain.ToolChoice{Mode: domain.ToolChoiceFunction, Name: obj.Function.Name}, nil
}

// parseFallback accepts "never" or an ordered list of model ids.
func parseFallback(raw json.RawMessage) (*domain.FallbackPolicy, error) {
	if !rawSet(raw) {
		return nil, nil
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case domain.FallbackNever, domain.FallbackAuto:
			return &domain.FallbackPolicy{Mode: mode}, nil
		default:
			return nil, fmt.Errorf("unknown use_fallback %q", mode)
		}
	}
	var models []string
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("use_fallback must be %q or a list of model ids", domain.FallbackNever)
	}
	return &domain.FallbackPolicy{Models: models}, nil
}

// toInput converts the request messages and template variables into the
// per-call input.
func (r *chatRequest) toInput() (*domain.AgentInput, error) {
	in := &domain.AgentInput{Variables: r.Input}
	if in.Variables == nil {
		if vars, ok := r.Metadata["input"].(map[string]any); ok {
			in.Variables = vars
		}
	}
	for i, m := range r.Messages {
		msg, err := convertMessage(&m)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		in.Messages = append(in.Messages, msg)
	}
	return in, nil
}

func convertMessage(m *oaiMessage) (domain.Message, error) {
	role := domain.Role(m.Role)
	switch role {
	case domain.RoleSystem, domain.RoleUser, domain.RoleAssistant,
		domain.RoleDeveloper, domain.RoleTool:
	default:
		return domain.Message{}, fmt.Errorf("unknown role %q", m.Role)
	}

	if role == domain.RoleTool {
		var content string
		_ = json.Unmarshal(m.Content, &content)
		return domain.Message{Role: role, Content: []domain.Part{{
			ToolResult: &domain.ToolCallResult{ID: m.ToolCallID, Result: content},
		}}}, nil
	}

	msg := domain.Message{Role: role}
	if rawSet(m.Content) {
		parts, err := convertContent(m.Content)
		if err != nil {
			return domain.Message{}, err
		}
		msg.Content = parts
	}
	for _, tc := range m.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return domain.Message{}, fmt.Errorf("tool call %s: invalid arguments: %w", tc.ID, err)
			}
		}
		msg.Content = append(msg.Content, domain.Part{ToolCall: &domain.ToolCallRequest{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		}})
	}
	if len(msg.Content) == 0 {
		return domain.Message{}, fmt.Errorf("message has no content")
	}
	return msg, nil
}

func convertContent(raw json.RawMessage) ([]domain.Part, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []domain.Part{domain.TextPart(text)}, nil
	}
	var list []oaiContentPart
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("content must be a string or a part list: %w", err)
	}
	parts := make([]domain.Part, 0, len(list))
	for _, p := range list {
		switch p.Type {
		case "text":
			parts = append(parts, domain.TextPart(p.Text))
		case "image_url":
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				return nil, fmt.Errorf("image_url part has no url")
			}
			parts = append(parts, domain.Part{File: &domain.File{URL: p.ImageURL.URL}})
		default:
			return nil, fmt.Errorf("unsupported content part type %q", p.Type)
		}
	}
	return parts, nil
}

// chatResponse is the OpenAI response shape plus the gateway's root-level
// version_id and the anotherai extension block.
type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *oaiUsage    `json:"usage,omitempty"`

	VersionID string         `json:"version_id,omitempty"`
	Extra     *responseExtra `json:"anotherai,omitempty"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	Message      *responseOutput `json:"message,omitempty"`
	Delta        *responseOutput `json:"delta,omitempty"`
	FinishReason *string         `json:"finish_reason"`
}

type responseOutput struct {
	Role      string        `json:"role,omitempty"`
	Content   *string       `json:"content,omitempty"`
	Reasoning string        `json:"reasoning_content,omitempty"`
	ToolCalls []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type responseExtra struct {
	AgentID         string   `json:"agent_id,omitempty"`
	CostUSD         *float64 `json:"cost_usd,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
	Cached          bool     `json:"cached,omitempty"`
}

// toChatResponse shapes a finished completion as an OpenAI response.
func toChatResponse(c *domain.Completion, cached bool) *chatResponse {
	resp := &chatResponse{
		ID:        c.ID,
		Object:    "chat.completion",
		Created:   c.CreatedAt.Unix(),
		Model:     c.Version.Model,
		VersionID: c.Version.ID(),
		Extra: &responseExtra{
			AgentID:         c.AgentID,
			CostUSD:         c.CostUSD,
			DurationSeconds: c.DurationSeconds,
			Cached:          cached,
		},
	}
	if usage := sumUsage(c); usage != nil {
		resp.Usage = usage
	}
	finish := "stop"
	out := &responseOutput{Role: "assistant"}
	for _, msg := range c.Output.Messages {
		for _, p := range msg.Content {
			switch {
			case p.Text != nil:
				out.Content = p.Text
			case p.Object != nil:
				if b, err := json.Marshal(p.Object); err == nil {
					s := string(b)
					out.Content = &s
				}
			case p.Reasoning != nil:
				out.Reasoning = *p.Reasoning
			case p.ToolCall != nil:
				out.ToolCalls = append(out.ToolCalls, toOAIToolCall(p.ToolCall))
				finish = "tool_calls"
			}
		}
	}
	if out.Content == nil && len(out.ToolCalls) == 0 {
		empty := ""
		out.Content = &empty
	}
	resp.Choices = []chatChoice{{Message: out, FinishReason: &finish}}
	return resp
}

func toOAIToolCall(tc *domain.ToolCallRequest) oaiToolCall {
	out := oaiToolCall{ID: tc.ID, Type: "function"}
	out.Function.Name = tc.Name
	out.Function.Arguments = tc.InputJSON()
	return out
}

func sumUsage(c *domain.Completion) *oaiUsage {
	var total domain.Usage
	seen := false
	for i := range c.Traces {
		if c.Traces[i].Usage == nil {
			continue
		}
		total.Add(c.Traces[i].Usage)
		seen = true
	}
	if !seen {
		return nil
	}
	return &oaiUsage{
		PromptTokens:     total.PromptTokens,
		CompletionTokens: total.CompletionTokens,
		TotalTokens:      total.PromptTokens + total.CompletionTokens,
	}
}
