package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// GoogleAdapter serves the Gemini API through the Google Gen AI SDK.
type GoogleAdapter struct {
	cfg    Config
	client *genai.Client
}

// NewGoogle builds a Gemini adapter.
func NewGoogle(ctx context.Context, cfg Config) (*GoogleAdapter, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleAdapter{cfg: cfg, client: client}, nil
}

func (a *GoogleAdapter) Name() domain.Provider { return domain.ProviderGoogle }
func (a *GoogleAdapter) Config() Config        { return a.cfg }
func (a *GoogleAdapter) DefaultModel() string  { return "gemini-2.5-flash" }

func (a *GoogleAdapter) SupportsModel(md *catalog.ModelData) bool {
	for _, e := range md.Providers {
		if e.Provider == domain.ProviderGoogle {
			return true
		}
	}
	return false
}

func (a *GoogleAdapter) RequiresDownloadingFile(f *domain.File, model string) bool {
	// FileData URIs must live in Google's file store; arbitrary HTTP URLs
	// are inlined by the runner first.
	return !f.IsInline()
}

func (a *GoogleAdapter) IsStreamable(model string, tools []domain.Tool) bool { return true }

func (a *GoogleAdapter) SanitizeModelData(md *catalog.ModelData) {
	md.Supports.Penalties = false
}

func (a *GoogleAdapter) CheckValid(ctx context.Context) bool {
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: "ping"}}}}
	_, err := a.client.Models.CountTokens(ctx, a.DefaultModel(), contents, nil)
	return err == nil
}

// Complete performs a unary generateContent call.
func (a *GoogleAdapter) Complete(ctx context.Context, messages []domain.Message, opts *Options) (*Output, error) {
	model, contents, config, err := a.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, a.classify(err, opts.Model)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewError(KindFailedGeneration, domain.ProviderGoogle, opts.Model,
			"response carried no candidates")
	}
	candidate := resp.Candidates[0]

	out := &Output{
		Usage:        googleUsage(resp.UsageMetadata),
		FinishReason: string(candidate.FinishReason),
	}
	toolIndex := 0
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.Thought && part.Text != "":
			out.Reasoning += part.Text
		case part.Text != "":
			out.Text += part.Text
		case part.FunctionCall != nil:
			idx := toolIndex
			toolIndex++
			out.ToolCalls = append(out.ToolCalls, domain.ToolCallRequest{
				ID:    googleToolCallID(part.FunctionCall.Name, idx),
				Name:  InternalToolName(part.FunctionCall.Name, opts.Tools),
				Input: part.FunctionCall.Args,
				Index: &idx,
			})
		}
	}

	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		e := NewError(KindMaxTokensExceeded, domain.ProviderGoogle, opts.Model,
			"generation stopped at the model's output token limit")
		e.IncursCost = true
		e.PartialOutput = out.Text
		usage := out.Usage
		e.Usage = &usage
		return nil, e
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
		e := NewError(KindContentModeration, domain.ProviderGoogle, opts.Model,
			"output blocked by safety filters")
		e.IncursCost = true
		usage := out.Usage
		e.Usage = &usage
		return nil, e
	}
	return out, nil
}

// Stream performs a streaming generateContent call.
func (a *GoogleAdapter) Stream(ctx context.Context, messages []domain.Message, opts *Options) (<-chan *Chunk, error) {
	model, contents, config, err := a.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	streamIter := a.client.Models.GenerateContentStream(ctx, model, contents, config)

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)

		sc := NewStreamingContext(opts)
		toolIndex := 0

		for resp, err := range streamIter {
			if err != nil {
				chunks <- &Chunk{Err: a.classify(err, opts.Model)}
				return
			}
			if resp == nil {
				continue
			}
			var d Delta
			if resp.UsageMetadata != nil {
				u := googleUsage(resp.UsageMetadata)
				d.Usage = &u
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil {
					continue
				}
				if candidate.FinishReason != "" {
					reason := string(candidate.FinishReason)
					if candidate.FinishReason == genai.FinishReasonMaxTokens {
						reason = "length"
					}
					d.FinishReason = reason
				}
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					switch {
					case part.Thought && part.Text != "":
						d.Reasoning += part.Text
					case part.Text != "":
						d.Text += part.Text
					case part.FunctionCall != nil:
						// Gemini delivers each call whole in one frame.
						args, jerr := json.Marshal(part.FunctionCall.Args)
						if jerr != nil {
							args = []byte("{}")
						}
						d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
							ID:        googleToolCallID(part.FunctionCall.Name, toolIndex),
							Index:     toolIndex,
							Name:      InternalToolName(part.FunctionCall.Name, opts.Tools),
							Arguments: string(args),
						})
						toolIndex++
					}
				}
			}
			if c := sc.Feed(d); c != nil {
				chunks <- c
			}
		}

		if sc.FinishReason() == string(genai.FinishReasonSafety) {
			e := NewError(KindContentModeration, domain.ProviderGoogle, opts.Model,
				"output blocked by safety filters")
			e.IncursCost = true
			chunks <- &Chunk{Err: e}
			return
		}
		out, ferr := sc.Finalize(domain.ProviderGoogle, opts.Model)
		if ferr != nil {
			chunks <- &Chunk{Err: ferr}
			return
		}
		chunks <- &Chunk{Final: out, Partial: chunkPartial(sc, out)}
	}()
	return chunks, nil
}

// buildRequest translates neutral messages and options into the Gemini call
// shape. System and developer messages merge into the system instruction.
func (a *GoogleAdapter) buildRequest(messages []domain.Message, opts *Options) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	model := opts.ProviderModel
	if model == "" {
		model = opts.Model
	}
	config := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		config.TopP = genai.Ptr(float32(*opts.TopP))
	}
	if opts.MaxOutputTokens != nil {
		config.MaxOutputTokens = int32(*opts.MaxOutputTokens)
	}
	if opts.ReasoningBudget != nil {
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget:  genai.Ptr(int32(*opts.ReasoningBudget)),
			IncludeThoughts: true,
		}
	}

	var system string
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == domain.RoleSystem || m.Role == domain.RoleDeveloper {
			if system != "" {
				system += "\n\n"
			}
			system += m.TextContent()
			continue
		}
		content, err := a.convertMessage(m, messages)
		if err != nil {
			return "", nil, nil, err
		}
		if content != nil {
			contents = append(contents, content)
		}
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	if len(opts.Tools) > 0 {
		config.Tools = googleTools(opts.Tools)
		if opts.ToolChoice != nil {
			config.ToolConfig = googleToolConfig(opts.ToolChoice)
		}
	} else if opts.OutputSchema != nil {
		// Gemini rejects a response schema combined with tools; with tools
		// present the runner instructs the model textually instead.
		config.ResponseMIMEType = "application/json"
		if opts.StructuredGeneration {
			config.ResponseSchema = googleSchema(opts.OutputSchema)
		}
	}
	return model, contents, config, nil
}

func (a *GoogleAdapter) convertMessage(m domain.Message, all []domain.Message) (*genai.Content, error) {
	content := &genai.Content{Role: genai.RoleUser}
	if m.Role == domain.RoleAssistant {
		content.Role = genai.RoleModel
	}
	for _, p := range m.Content {
		switch {
		case p.Text != nil:
			content.Parts = append(content.Parts, &genai.Part{Text: *p.Text})
		case p.Object != nil:
			b, err := json.Marshal(p.Object)
			if err != nil {
				return nil, fmt.Errorf("marshal object part: %w", err)
			}
			content.Parts = append(content.Parts, &genai.Part{Text: string(b)})
		case p.File != nil:
			part, err := googleFilePart(p.File)
			if err != nil {
				return nil, err
			}
			content.Parts = append(content.Parts, part)
		case p.ToolCall != nil:
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: sanitizeToolName(p.ToolCall.Name),
					Args: p.ToolCall.Input,
				},
			})
		case p.ToolResult != nil:
			response := map[string]any{}
			if p.ToolResult.Error != "" {
				response["error"] = p.ToolResult.Error
			} else if rm, ok := p.ToolResult.Result.(map[string]any); ok {
				response = rm
			} else {
				response["result"] = p.ToolResult.Result
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     googleToolNameForID(p.ToolResult.ID, all),
					Response: response,
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil, nil
	}
	return content, nil
}

func googleFilePart(f *domain.File) (*genai.Part, error) {
	if !f.IsInline() {
		return nil, NewError(KindInvalidFile, domain.ProviderGoogle, "",
			"file URLs must be inlined before a Gemini call")
	}
	data, err := f.Bytes()
	if err != nil {
		return nil, NewError(KindInvalidFile, domain.ProviderGoogle, "", err.Error())
	}
	mime := f.ContentType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mime}}, nil
}

func googleTools(tools []domain.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        sanitizeToolName(t.Name),
			Description: t.Description,
			Parameters:  googleSchema(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func googleToolConfig(tc *domain.ToolChoice) *genai.ToolConfig {
	fc := &genai.FunctionCallingConfig{}
	switch tc.Mode {
	case domain.ToolChoiceRequired:
		fc.Mode = genai.FunctionCallingConfigModeAny
	case domain.ToolChoiceNone:
		fc.Mode = genai.FunctionCallingConfigModeNone
	case domain.ToolChoiceFunction:
		fc.Mode = genai.FunctionCallingConfigModeAny
		fc.AllowedFunctionNames = []string{sanitizeToolName(tc.Name)}
	default:
		fc.Mode = genai.FunctionCallingConfigModeAuto
	}
	return &genai.ToolConfig{FunctionCallingConfig: fc}
}

// googleSchema converts a JSON Schema map into Gemini's schema type. Only the
// subset Gemini models understand is carried over.
func googleSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = googleSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = googleSchema(items)
	}
	return schema
}

func googleUsage(u *genai.GenerateContentResponseUsageMetadata) domain.Usage {
	if u == nil {
		return domain.Usage{}
	}
	return domain.Usage{
		PromptTokens:              int64(u.PromptTokenCount),
		PromptCachedTokens:        int64(u.CachedContentTokenCount),
		CompletionTokens:          int64(u.CandidatesTokenCount),
		CompletionReasoningTokens: int64(u.ThoughtsTokenCount),
	}
}

// Gemini does not assign tool call ids; synthesize stable ones from the name
// and position so results can be matched back.
func googleToolCallID(name string, index int) string {
	return fmt.Sprintf("call_%s_%d", sanitizeToolName(name), index)
}

func googleToolNameForID(id string, messages []domain.Message) string {
	for _, m := range messages {
		for _, p := range m.Content {
			if p.ToolCall != nil && p.ToolCall.ID == id {
				return sanitizeToolName(p.ToolCall.Name)
			}
		}
	}
	// Fall back to the synthesized "call_<name>_<n>" form.
	parts := strings.Split(id, "_")
	if len(parts) >= 3 {
		return strings.Join(parts[1:len(parts)-1], "_")
	}
	return id
}

func (a *GoogleAdapter) classify(err error, model string) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := ClassifyStatus(apiErr.Code)
		kind = ClassifyMessage(apiErr.Message, kind)
		if strings.Contains(strings.ToLower(apiErr.Message), "resource has been exhausted") {
			kind = KindRateLimit
		}
		message := apiErr.Message
		if message == "" {
			message = "gemini request failed"
		}
		e := NewError(kind, domain.ProviderGoogle, model, message).
			WithStatus(apiErr.Code).
			WithCode(apiErr.Status).
			WithCause(err)
		e.ConfigID = a.cfg.ID
		return e
	}
	e := AsError(err, domain.ProviderGoogle, model)
	e.ConfigID = a.cfg.ID
	return e
}
