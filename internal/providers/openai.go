package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// variant captures what differs between OpenAI and the OpenAI-compatible
// vendors served by the same adapter.
type variant struct {
	name         domain.Provider
	baseURL      string
	defaultModel string

	// urlFilesSupported is false for vendors that cannot fetch image URLs
	// themselves, forcing the runner to inline files first.
	urlFilesSupported bool

	// jsonWithTools is false for vendors that reject a JSON response
	// format combined with tools (Mistral).
	jsonWithTools bool

	// sanitize applies vendor-specific model-data tweaks.
	sanitize func(md *catalog.ModelData)

	// bodyExtras is injected verbatim into every request body, for
	// vendor-specific fields the SDK does not model (Fireworks truncation
	// behavior).
	bodyExtras map[string]any
}

// OpenAIAdapter serves OpenAI and every OpenAI-compatible vendor. Instances
// are short-lived per call; the client is cheap to construct.
type OpenAIAdapter struct {
	cfg     Config
	client  *openai.Client
	variant variant
}

// NewOpenAI builds an adapter for api.openai.com (or the configured URL).
func NewOpenAI(cfg Config) *OpenAIAdapter {
	return newCompat(cfg, variant{
		name:              domain.ProviderOpenAI,
		baseURL:           "https://api.openai.com/v1",
		defaultModel:      "gpt-4.1",
		urlFilesSupported: true,
		jsonWithTools:     true,
	})
}

// NewFireworks builds an adapter for the Fireworks OpenAI-compatible API.
// Fireworks must truncate oversized prompts rather than erroring.
func NewFireworks(cfg Config) *OpenAIAdapter {
	return newCompat(cfg, variant{
		name:          domain.ProviderFireworks,
		baseURL:       "https://api.fireworks.ai/inference/v1",
		defaultModel:  "llama-3.3-70b",
		jsonWithTools: true,
		bodyExtras:    map[string]any{"context_length_exceeded_behavior": "truncate"},
		sanitize: func(md *catalog.ModelData) {
			md.Supports.InputPDF = false
		},
	})
}

// NewGroq builds an adapter for the Groq OpenAI-compatible API.
func NewGroq(cfg Config) *OpenAIAdapter {
	return newCompat(cfg, variant{
		name:          domain.ProviderGroq,
		baseURL:       "https://api.groq.com/openai/v1",
		defaultModel:  "llama-3.3-70b",
		jsonWithTools: true,
		sanitize: func(md *catalog.ModelData) {
			md.Supports.StructuredOutput = false
			md.Supports.ParallelToolCalls = false
		},
	})
}

// NewMistral builds an adapter for the Mistral OpenAI-compatible API.
// Mistral rejects tools combined with a JSON response format.
func NewMistral(cfg Config) *OpenAIAdapter {
	return newCompat(cfg, variant{
		name:          domain.ProviderMistral,
		baseURL:       "https://api.mistral.ai/v1",
		defaultModel:  "mistral-large",
		jsonWithTools: false,
		sanitize: func(md *catalog.ModelData) {
			md.Supports.InputPDF = false
		},
	})
}

// NewXAI builds an adapter for the xAI OpenAI-compatible API.
func NewXAI(cfg Config) *OpenAIAdapter {
	return newCompat(cfg, variant{
		name:              domain.ProviderXAI,
		baseURL:           "https://api.x.ai/v1",
		defaultModel:      "grok-3",
		urlFilesSupported: true,
		jsonWithTools:     true,
	})
}

func newCompat(cfg Config, v variant) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = v.baseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if len(v.bodyExtras) > 0 {
		clientCfg.HTTPClient = bodyExtrasClient(v.bodyExtras)
	}
	return &OpenAIAdapter{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(clientCfg),
		variant: v,
	}
}

func (a *OpenAIAdapter) Name() domain.Provider { return a.variant.name }
func (a *OpenAIAdapter) Config() Config        { return a.cfg }
func (a *OpenAIAdapter) DefaultModel() string  { return a.variant.defaultModel }

func (a *OpenAIAdapter) SupportsModel(md *catalog.ModelData) bool {
	for _, e := range md.Providers {
		if e.Provider == a.variant.name {
			return true
		}
	}
	return false
}

func (a *OpenAIAdapter) RequiresDownloadingFile(f *domain.File, model string) bool {
	if f.IsInline() {
		return false
	}
	if f.DetectedFormat() == domain.FormatAudio {
		return true
	}
	if f.ContentType == "" {
		return true // must be sniffed before the call
	}
	return !a.variant.urlFilesSupported
}

func (a *OpenAIAdapter) IsStreamable(model string, tools []domain.Tool) bool {
	return true
}

func (a *OpenAIAdapter) SanitizeModelData(md *catalog.ModelData) {
	if a.variant.sanitize != nil {
		a.variant.sanitize(md)
	}
}

func (a *OpenAIAdapter) CheckValid(ctx context.Context) bool {
	_, err := a.client.ListModels(ctx)
	return err == nil
}

// Complete performs a unary chat completion.
func (a *OpenAIAdapter) Complete(ctx context.Context, messages []domain.Message, opts *Options) (*Output, error) {
	req, err := a.buildRequest(messages, opts, false)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.CreateChatCompletion(ctx, *req)
	if err != nil {
		return nil, a.classify(err, opts.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(KindFailedGeneration, a.variant.name, opts.Model, "response carried no choices")
	}
	choice := resp.Choices[0]

	out := &Output{
		Text:         choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		Usage:        convertUsage(&resp.Usage),
		FinishReason: string(choice.FinishReason),
	}
	for i, tc := range choice.Message.ToolCalls {
		call, err := convertToolCall(tc, i)
		if err != nil {
			e := NewError(KindInvalidGeneration, a.variant.name, opts.Model, err.Error())
			e.IncursCost = true
			e.PartialOutput = choice.Message.Content
			return nil, e
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	if choice.FinishReason == openai.FinishReasonLength {
		e := NewError(KindMaxTokensExceeded, a.variant.name, opts.Model,
			"generation stopped at the model's output token limit")
		e.IncursCost = true
		e.PartialOutput = out.Text
		usage := out.Usage
		e.Usage = &usage
		return nil, e
	}
	if choice.FinishReason == openai.FinishReasonContentFilter {
		e := NewError(KindContentModeration, a.variant.name, opts.Model, "output blocked by content filter")
		e.IncursCost = true
		usage := out.Usage
		e.Usage = &usage
		return nil, e
	}
	return out, nil
}

// Stream performs a streaming chat completion.
func (a *OpenAIAdapter) Stream(ctx context.Context, messages []domain.Message, opts *Options) (<-chan *Chunk, error) {
	req, err := a.buildRequest(messages, opts, true)
	if err != nil {
		return nil, err
	}
	stream, err := a.client.CreateChatCompletionStream(ctx, *req)
	if err != nil {
		return nil, a.classify(err, opts.Model)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		sc := NewStreamingContext(opts)
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					out, ferr := sc.Finalize(a.variant.name, opts.Model)
					if ferr != nil {
						chunks <- &Chunk{Err: ferr}
						return
					}
					chunks <- &Chunk{Final: out, Partial: chunkPartial(sc, out)}
					return
				}
				chunks <- &Chunk{Err: a.classify(err, opts.Model)}
				return
			}
			delta := a.extractStreamDelta(&resp)
			if c := sc.Feed(delta); c != nil {
				chunks <- c
			}
		}
	}()
	return chunks, nil
}

func chunkPartial(sc *StreamingContext, out *Output) any {
	if sc.parser != nil {
		return sc.parser.Current()
	}
	return out.Text
}

// extractStreamDelta maps one SSE frame into the neutral delta model.
func (a *OpenAIAdapter) extractStreamDelta(resp *openai.ChatCompletionStreamResponse) Delta {
	var d Delta
	if resp.Usage != nil {
		u := convertUsage(resp.Usage)
		d.Usage = &u
	}
	if len(resp.Choices) == 0 {
		return d
	}
	choice := resp.Choices[0]
	d.Text = choice.Delta.Content
	d.Reasoning = choice.Delta.ReasoningContent
	d.FinishReason = string(choice.FinishReason)
	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
			ID:        tc.ID,
			Index:     idx,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return d
}

// buildRequest translates neutral messages and options into the vendor body.
func (a *OpenAIAdapter) buildRequest(messages []domain.Message, opts *Options, stream bool) (*openai.ChatCompletionRequest, error) {
	converted, err := a.convertMessages(messages)
	if err != nil {
		return nil, err
	}
	model := opts.ProviderModel
	if model == "" {
		model = opts.Model
	}
	req := &openai.ChatCompletionRequest{
		Model:    model,
		Messages: converted,
		Stream:   stream,
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}
	if opts.MaxOutputTokens != nil {
		req.MaxCompletionTokens = *opts.MaxOutputTokens
	}
	if opts.PresencePenalty != nil {
		req.PresencePenalty = float32(*opts.PresencePenalty)
	}
	if opts.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*opts.FrequencyPenalty)
	}
	if opts.ReasoningEffort != "" && opts.ReasoningEffort != domain.ReasoningDisabled {
		req.ReasoningEffort = string(opts.ReasoningEffort)
	}
	if opts.ParallelToolCalls != nil {
		req.ParallelToolCalls = *opts.ParallelToolCalls
	}

	if len(opts.Tools) > 0 {
		req.Tools = convertTools(opts.Tools)
		if opts.ToolChoice != nil {
			req.ToolChoice = convertToolChoice(opts.ToolChoice)
		}
	}

	if opts.OutputSchema != nil {
		if len(opts.Tools) > 0 && !a.variant.jsonWithTools {
			// Vendor rejects tools combined with a JSON response format;
			// the runner already instructed the model textually.
			return req, nil
		}
		if opts.StructuredGeneration {
			schemaJSON, err := json.Marshal(opts.OutputSchema)
			if err != nil {
				return nil, fmt.Errorf("marshal output schema: %w", err)
			}
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "output",
					Schema: json.RawMessage(schemaJSON),
					Strict: true,
				},
			}
		} else {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}
	return req, nil
}

func (a *OpenAIAdapter) convertMessages(messages []domain.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openaiRole(m.Role)

		// Tool results become standalone tool messages.
		for _, p := range m.Content {
			if p.ToolResult == nil {
				continue
			}
			content := p.ToolResult.Error
			if content == "" {
				b, err := json.Marshal(p.ToolResult.Result)
				if err != nil {
					return nil, fmt.Errorf("marshal tool result %s: %w", p.ToolResult.ID, err)
				}
				content = string(b)
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: p.ToolResult.ID,
				Content:    content,
			})
		}

		msg := openai.ChatCompletionMessage{Role: role}
		var parts []openai.ChatMessagePart
		hasFile := false
		for _, p := range m.Content {
			switch {
			case p.Text != nil:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: *p.Text,
				})
			case p.Object != nil:
				b, err := json.Marshal(p.Object)
				if err != nil {
					return nil, fmt.Errorf("marshal object part: %w", err)
				}
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: string(b),
				})
			case p.File != nil:
				part, err := openaiFilePart(p.File)
				if err != nil {
					return nil, err
				}
				parts = append(parts, part)
				hasFile = true
			case p.ToolCall != nil:
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   p.ToolCall.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      p.ToolCall.Name,
						Arguments: p.ToolCall.InputJSON(),
					},
				})
			}
			// Reasoning parts are never echoed back upstream.
		}

		if len(parts) == 0 && len(msg.ToolCalls) == 0 {
			continue
		}
		if hasFile || len(parts) > 1 {
			msg.MultiContent = parts
		} else if len(parts) == 1 {
			msg.Content = parts[0].Text
		}
		out = append(out, msg)
	}
	return out, nil
}

func openaiRole(r domain.Role) string {
	switch r {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleDeveloper:
		// Mapped to system for compat vendors without the developer role.
		return openai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case domain.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func openaiFilePart(f *domain.File) (openai.ChatMessagePart, error) {
	url := f.URL
	if f.IsInline() {
		url = fmt.Sprintf("data:%s;base64,%s", f.ContentType, f.Data)
	}
	switch f.DetectedFormat() {
	case domain.FormatAudio:
		return openai.ChatMessagePart{}, NewError(KindInvalidFile, "", "",
			"audio files must be inlined as input_audio content")
	default:
		// PDFs ride the image channel for OpenAI-compatible vendors.
		return openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url},
		}, nil
	}
}

func convertTools(tools []domain.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        sanitizeToolName(t.Name),
				Description: t.Description,
				Strict:      t.Strict,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// sanitizeToolName strips the hosted-tool prefix: vendors reject names that
// are not ^[a-zA-Z0-9_-]+$.
func sanitizeToolName(name string) string {
	return strings.TrimPrefix(name, domain.HostedToolPrefix)
}

// InternalToolName restores the hosted-tool prefix on names the runner
// knows as hosted; vendors only ever see the sanitized form.
func InternalToolName(name string, tools []domain.Tool) string {
	for _, t := range tools {
		if t.IsHosted() && sanitizeToolName(t.Name) == name {
			return t.Name
		}
	}
	return name
}

func convertToolChoice(tc *domain.ToolChoice) any {
	switch tc.Mode {
	case domain.ToolChoiceFunction:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: sanitizeToolName(tc.Name)},
		}
	case domain.ToolChoiceRequired:
		return "required"
	case domain.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}

func convertToolCall(tc openai.ToolCall, index int) (domain.ToolCallRequest, error) {
	var input map[string]any
	args := tc.Function.Arguments
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return domain.ToolCallRequest{}, fmt.Errorf("tool call %s has unparsable arguments: %w", tc.ID, err)
	}
	idx := index
	if tc.Index != nil {
		idx = *tc.Index
	}
	return domain.ToolCallRequest{
		ID:    tc.ID,
		Name:  tc.Function.Name,
		Input: input,
		Index: &idx,
	}, nil
}

func convertUsage(u *openai.Usage) domain.Usage {
	if u == nil {
		return domain.Usage{}
	}
	out := domain.Usage{
		PromptTokens:     int64(u.PromptTokens),
		CompletionTokens: int64(u.CompletionTokens),
	}
	if u.PromptTokensDetails != nil {
		out.PromptCachedTokens = int64(u.PromptTokensDetails.CachedTokens)
		out.PromptAudioTokens = int64(u.PromptTokensDetails.AudioTokens)
		out.PromptTextTokens = out.PromptTokens - out.PromptAudioTokens
	}
	if u.CompletionTokensDetails != nil {
		out.CompletionReasoningTokens = int64(u.CompletionTokensDetails.ReasoningTokens)
	}
	return out
}

// classify maps SDK errors onto the canonical taxonomy.
func (a *OpenAIAdapter) classify(err error, model string) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := ClassifyStatus(apiErr.HTTPStatusCode)
		kind = ClassifyMessage(apiErr.Message, kind)
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		switch code {
		case "context_length_exceeded", "string_above_max_length":
			kind = KindMaxTokensExceeded
		case "content_filter", "content_policy_violation":
			kind = KindContentModeration
		case "model_not_found":
			kind = KindMissingModel
		case "invalid_api_key":
			kind = KindInvalidProviderConfig
		}
		if apiErr.Param != nil {
			switch *apiErr.Param {
			case "response_format":
				kind = KindStructuredGenerationError
			case "tools":
				kind = KindModelDoesNotSupportMode
			}
		}
		e := NewError(kind, a.variant.name, model, apiErr.Message).
			WithStatus(apiErr.HTTPStatusCode).
			WithCode(code).
			WithCause(err)
		e.ConfigID = a.cfg.ID
		return e
	}
	e := AsError(err, a.variant.name, model)
	e.ConfigID = a.cfg.ID
	return e
}
