package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/templates"
)

// PrepareMessages renders the version's prompt template against the input
// variables, appends the input messages, and adds the textual schema
// instruction when structured generation is not mandated.
func PrepareMessages(version *domain.Version, input *domain.AgentInput) []domain.Message {
	var vars map[string]any
	if input != nil {
		vars = input.Variables
	}
	out := make([]domain.Message, 0, len(version.Prompt)+4)
	for _, m := range version.Prompt {
		out = append(out, renderMessage(m, vars))
	}
	if input != nil {
		out = append(out, input.Messages...)
	}
	if version.OutputSchema != nil && !version.RequiresStructuredGeneration() &&
		!mentionsJSONSchema(out) {
		out = append(out, schemaInstruction(version.OutputSchema))
	}
	return out
}

func renderMessage(m domain.Message, vars map[string]any) domain.Message {
	if len(vars) == 0 {
		return m
	}
	out := domain.Message{Role: m.Role, Content: make([]domain.Part, len(m.Content))}
	copy(out.Content, m.Content)
	for i, p := range out.Content {
		if p.Text != nil && templates.ContainsPlaceholders(*p.Text) {
			rendered := templates.Render(*p.Text, vars)
			out.Content[i].Text = &rendered
		}
	}
	return out
}

// mentionsJSONSchema reports whether any system message already instructs
// the model about a JSON schema, making the generated instruction redundant.
func mentionsJSONSchema(messages []domain.Message) bool {
	for _, m := range messages {
		if m.Role != domain.RoleSystem && m.Role != domain.RoleDeveloper {
			continue
		}
		if strings.Contains(strings.ToLower(m.TextContent()), "json schema") {
			return true
		}
	}
	return false
}

func schemaInstruction(schema map[string]any) domain.Message {
	text := "Respond with a single JSON object and no surrounding text."
	if raw, err := json.Marshal(schema); err == nil {
		text = fmt.Sprintf(
			"Respond with a single JSON object and no surrounding text. The object must conform to the following JSON schema:\n%s",
			raw)
	}
	return domain.SystemMessage(text)
}

// correctiveMessages extends the conversation after an invalid generation:
// the failed response (or the "EMPTY MESSAGE" marker when there was none)
// followed by a user message asking for a retry.
func correctiveMessages(partialOutput, errorMessage string) []domain.Message {
	previous := partialOutput
	if previous == "" {
		previous = "EMPTY MESSAGE"
	}
	return []domain.Message{
		domain.AssistantMessage(previous),
		domain.UserMessage(fmt.Sprintf(
			"Your previous response was invalid with error `%s`.\nPlease retry", errorMessage)),
	}
}

// assistantToolCallMessage records the model's tool-call round in the
// conversation so the follow-up call sees it.
func assistantToolCallMessage(text string, calls []domain.ToolCallRequest) domain.Message {
	msg := domain.Message{Role: domain.RoleAssistant}
	if text != "" {
		msg.Content = append(msg.Content, domain.Part{Text: &text})
	}
	for i := range calls {
		tc := calls[i]
		msg.Content = append(msg.Content, domain.Part{ToolCall: &tc})
	}
	return msg
}

// toolResultMessage wraps executed hosted-tool results.
func toolResultMessage(results []domain.ToolCallResult) domain.Message {
	msg := domain.Message{Role: domain.RoleTool}
	for i := range results {
		msg.Content = append(msg.Content, domain.Part{ToolResult: &results[i]})
	}
	return msg
}
