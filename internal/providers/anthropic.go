package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter serves the Anthropic Messages API.
type AnthropicAdapter struct {
	cfg    Config
	client anthropic.Client
}

// NewAnthropic builds an Anthropic adapter.
func NewAnthropic(cfg Config) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{cfg: cfg, client: anthropic.NewClient(opts...)}
}

func (a *AnthropicAdapter) Name() domain.Provider { return domain.ProviderAnthropic }
func (a *AnthropicAdapter) Config() Config        { return a.cfg }
func (a *AnthropicAdapter) DefaultModel() string  { return "claude-sonnet-4" }

func (a *AnthropicAdapter) SupportsModel(md *catalog.ModelData) bool {
	for _, e := range md.Providers {
		if e.Provider == domain.ProviderAnthropic {
			return true
		}
	}
	return false
}

func (a *AnthropicAdapter) RequiresDownloadingFile(f *domain.File, model string) bool {
	if f.IsInline() {
		return false
	}
	// URL images and PDFs are fetched by the API itself; everything else
	// must be inlined, and missing content types need sniffing first.
	if f.ContentType == "" {
		return true
	}
	switch f.DetectedFormat() {
	case domain.FormatImage, domain.FormatPDF:
		return false
	default:
		return true
	}
}

func (a *AnthropicAdapter) IsStreamable(model string, tools []domain.Tool) bool { return true }

func (a *AnthropicAdapter) SanitizeModelData(md *catalog.ModelData) {
	md.Supports.InputAudio = false
	md.Supports.Penalties = false
}

func (a *AnthropicAdapter) CheckValid(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}

// Complete performs a unary Messages call.
func (a *AnthropicAdapter) Complete(ctx context.Context, messages []domain.Message, opts *Options) (*Output, error) {
	params, err := a.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	msg, err := a.client.Messages.New(ctx, *params)
	if err != nil {
		return nil, a.classify(err, opts.Model)
	}

	out := &Output{
		Usage: domain.Usage{
			PromptTokens:       msg.Usage.InputTokens,
			PromptCachedTokens: msg.Usage.CacheReadInputTokens,
			CompletionTokens:   msg.Usage.OutputTokens,
		},
		FinishReason: string(msg.StopReason),
	}
	toolIndex := 0
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "thinking":
			out.Reasoning += block.AsThinking().Thinking
		case "tool_use":
			tu := block.AsToolUse()
			var input map[string]any
			if err := json.Unmarshal(tu.Input, &input); err != nil {
				e := NewError(KindInvalidGeneration, domain.ProviderAnthropic, opts.Model,
					fmt.Sprintf("tool call %s has unparsable arguments", tu.ID))
				e.IncursCost = true
				e.PartialOutput = out.Text
				return nil, e
			}
			idx := toolIndex
			toolIndex++
			out.ToolCalls = append(out.ToolCalls, domain.ToolCallRequest{
				ID:    tu.ID,
				Name:  InternalToolName(tu.Name, opts.Tools),
				Input: input,
				Index: &idx,
			})
		}
	}
	if msg.StopReason == "max_tokens" {
		e := NewError(KindMaxTokensExceeded, domain.ProviderAnthropic, opts.Model,
			"generation stopped at the model's output token limit")
		e.IncursCost = true
		e.PartialOutput = out.Text
		usage := out.Usage
		e.Usage = &usage
		return nil, e
	}
	return out, nil
}

// Stream performs a streaming Messages call.
func (a *AnthropicAdapter) Stream(ctx context.Context, messages []domain.Message, opts *Options) (<-chan *Chunk, error) {
	params, err := a.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	stream := a.client.Messages.NewStreaming(ctx, *params)

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		sc := NewStreamingContext(opts)
		var usage domain.Usage

		for stream.Next() {
			event := stream.Current()
			var d Delta

			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				usage.PromptTokens = start.Message.Usage.InputTokens
				usage.PromptCachedTokens = start.Message.Usage.CacheReadInputTokens
			case "content_block_start":
				cbs := event.AsContentBlockStart()
				if cbs.ContentBlock.Type == "tool_use" {
					tu := cbs.ContentBlock.AsToolUse()
					d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
						ID:    tu.ID,
						Index: int(cbs.Index),
						Name:  InternalToolName(tu.Name, opts.Tools),
					})
				}
			case "content_block_delta":
				cbd := event.AsContentBlockDelta()
				switch cbd.Delta.Type {
				case "text_delta":
					d.Text = cbd.Delta.Text
				case "thinking_delta":
					d.Reasoning = cbd.Delta.Thinking
				case "input_json_delta":
					d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
						Index:     int(cbd.Index),
						Arguments: cbd.Delta.PartialJSON,
					})
				}
			case "message_delta":
				md := event.AsMessageDelta()
				usage.CompletionTokens = md.Usage.OutputTokens
				if md.Delta.StopReason != "" {
					reason := string(md.Delta.StopReason)
					if reason == "max_tokens" {
						reason = "length"
					}
					d.FinishReason = reason
				}
				u := usage
				d.Usage = &u
			case "message_stop":
				out, ferr := sc.Finalize(domain.ProviderAnthropic, opts.Model)
				if ferr != nil {
					chunks <- &Chunk{Err: ferr}
					return
				}
				chunks <- &Chunk{Final: out, Partial: chunkPartial(sc, out)}
				return
			case "error":
				chunks <- &Chunk{Err: NewError(KindProviderInternalError,
					domain.ProviderAnthropic, opts.Model, "stream error event")}
				return
			}

			if c := sc.Feed(d); c != nil {
				chunks <- c
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- &Chunk{Err: a.classify(err, opts.Model)}
			return
		}
		// Stream ended without message_stop; finalize what we have.
		out, ferr := sc.Finalize(domain.ProviderAnthropic, opts.Model)
		if ferr != nil {
			chunks <- &Chunk{Err: ferr}
			return
		}
		chunks <- &Chunk{Final: out, Partial: chunkPartial(sc, out)}
	}()
	return chunks, nil
}

// buildRequest translates neutral messages and options into MessageNewParams.
// System and developer messages merge into the dedicated system field.
func (a *AnthropicAdapter) buildRequest(messages []domain.Message, opts *Options) (*anthropic.MessageNewParams, error) {
	model := opts.ProviderModel
	if model == "" {
		model = opts.Model
	}
	maxTokens := anthropicDefaultMaxTokens
	if opts.MaxOutputTokens != nil {
		maxTokens = *opts.MaxOutputTokens
	}
	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}
	if opts.ReasoningBudget != nil && *opts.ReasoningBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(*opts.ReasoningBudget))
	}

	var system string
	for _, m := range messages {
		if m.Role == domain.RoleSystem || m.Role == domain.RoleDeveloper {
			if system != "" {
				system += "\n\n"
			}
			system += m.TextContent()
			continue
		}
		converted, err := a.convertMessage(m)
		if err != nil {
			return nil, err
		}
		if converted != nil {
			params.Messages = append(params.Messages, *converted)
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(opts.Tools) > 0 {
		for _, t := range opts.Tools {
			schema := anthropic.ToolInputSchemaParam{}
			if raw, err := json.Marshal(t.InputSchema); err == nil {
				_ = json.Unmarshal(raw, &schema)
			}
			tp := anthropic.ToolUnionParamOfTool(schema, sanitizeToolName(t.Name))
			if tp.OfTool != nil && t.Description != "" {
				tp.OfTool.Description = anthropic.String(t.Description)
			}
			params.Tools = append(params.Tools, tp)
		}
		if opts.ToolChoice != nil {
			params.ToolChoice = anthropicToolChoice(opts.ToolChoice, opts.ParallelToolCalls)
		}
	}
	return params, nil
}

func anthropicToolChoice(tc *domain.ToolChoice, parallel *bool) anthropic.ToolChoiceUnionParam {
	disableParallel := anthropic.Bool(parallel != nil && !*parallel)
	switch tc.Mode {
	case domain.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{
			OfAny: &anthropic.ToolChoiceAnyParam{DisableParallelToolUse: disableParallel},
		}
	case domain.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case domain.ToolChoiceFunction:
		return anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{
				Name:                   sanitizeToolName(tc.Name),
				DisableParallelToolUse: disableParallel,
			},
		}
	default:
		return anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{DisableParallelToolUse: disableParallel},
		}
	}
}

func (a *AnthropicAdapter) convertMessage(m domain.Message) (*anthropic.MessageParam, error) {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range m.Content {
		switch {
		case p.Text != nil:
			content = append(content, anthropic.NewTextBlock(*p.Text))
		case p.Object != nil:
			b, err := json.Marshal(p.Object)
			if err != nil {
				return nil, fmt.Errorf("marshal object part: %w", err)
			}
			content = append(content, anthropic.NewTextBlock(string(b)))
		case p.File != nil:
			block, err := anthropicFileBlock(p.File)
			if err != nil {
				return nil, err
			}
			content = append(content, block)
		case p.ToolCall != nil:
			content = append(content, anthropic.NewToolUseBlock(
				p.ToolCall.ID,
				json.RawMessage(p.ToolCall.InputJSON()),
				sanitizeToolName(p.ToolCall.Name),
			))
		case p.ToolResult != nil:
			text := p.ToolResult.Error
			isError := text != ""
			if !isError {
				b, err := json.Marshal(p.ToolResult.Result)
				if err != nil {
					return nil, fmt.Errorf("marshal tool result %s: %w", p.ToolResult.ID, err)
				}
				text = string(b)
			}
			content = append(content, anthropic.NewToolResultBlock(p.ToolResult.ID, text, isError))
		}
	}
	if len(content) == 0 {
		return nil, nil
	}
	var msg anthropic.MessageParam
	if m.Role == domain.RoleAssistant {
		msg = anthropic.NewAssistantMessage(content...)
	} else {
		msg = anthropic.NewUserMessage(content...)
	}
	return &msg, nil
}

func anthropicFileBlock(f *domain.File) (anthropic.ContentBlockParamUnion, error) {
	switch f.DetectedFormat() {
	case domain.FormatPDF:
		doc := &anthropic.DocumentBlockParam{}
		if f.IsInline() {
			doc.Source = anthropic.DocumentBlockParamSourceUnion{
				OfBase64: &anthropic.Base64PDFSourceParam{Data: f.Data},
			}
		} else {
			doc.Source = anthropic.DocumentBlockParamSourceUnion{
				OfURL: &anthropic.URLPDFSourceParam{URL: f.URL},
			}
		}
		return anthropic.ContentBlockParamUnion{OfDocument: doc}, nil
	case domain.FormatImage:
		if f.IsInline() {
			return anthropic.NewImageBlockBase64(f.ContentType, f.Data), nil
		}
		return anthropic.ContentBlockParamUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfURL: &anthropic.URLImageSourceParam{URL: f.URL},
				},
			},
		}, nil
	default:
		return anthropic.ContentBlockParamUnion{}, NewError(KindInvalidFile,
			domain.ProviderAnthropic, "",
			fmt.Sprintf("unsupported file content type %q", f.ContentType))
	}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) classify(err error, model string) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := ""
		code := ""
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				message = payload.Error.Message
				code = payload.Error.Type
			}
		}
		kind := ClassifyStatus(apiErr.StatusCode)
		switch code {
		case "overloaded_error":
			kind = KindProviderUnavailable
		case "rate_limit_error":
			kind = KindRateLimit
		case "not_found_error":
			kind = KindMissingModel
		default:
			kind = ClassifyMessage(message, kind)
		}
		if message == "" {
			message = "anthropic request failed"
		}
		e := NewError(kind, domain.ProviderAnthropic, model, message).
			WithStatus(apiErr.StatusCode).
			WithCode(code).
			WithCause(err)
		e.ConfigID = a.cfg.ID
		return e
	}
	e := AsError(err, domain.ProviderAnthropic, model)
	e.ConfigID = a.cfg.ID
	return e
}
