package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// BedrockAdapter serves foundation models on AWS Bedrock through the
// Converse API.
type BedrockAdapter struct {
	cfg    Config
	client *bedrockruntime.Client
}

// NewBedrock builds a Bedrock adapter. Explicit credentials take precedence
// over the default AWS credential chain.
func NewBedrock(ctx context.Context, cfg Config) (*BedrockAdapter, error) {
	region := cfg.AWSRegion
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return &BedrockAdapter{cfg: cfg, client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

func (a *BedrockAdapter) Name() domain.Provider { return domain.ProviderBedrock }
func (a *BedrockAdapter) Config() Config        { return a.cfg }
func (a *BedrockAdapter) DefaultModel() string  { return "claude-sonnet-4" }

func (a *BedrockAdapter) SupportsModel(md *catalog.ModelData) bool {
	for _, e := range md.Providers {
		if e.Provider == domain.ProviderBedrock {
			return true
		}
	}
	return false
}

func (a *BedrockAdapter) RequiresDownloadingFile(f *domain.File, model string) bool {
	// Converse only takes raw bytes; every URL file must be inlined first.
	return !f.IsInline()
}

func (a *BedrockAdapter) IsStreamable(model string, tools []domain.Tool) bool { return true }

func (a *BedrockAdapter) SanitizeModelData(md *catalog.ModelData) {
	md.Supports.InputAudio = false
	md.Supports.StructuredOutput = false
	md.Supports.Penalties = false
}

func (a *BedrockAdapter) CheckValid(ctx context.Context) bool {
	// The runtime client has no free list call; send a one-token
	// request against an unconditionally available model.
	_, err := a.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String("amazon.titan-text-lite-v1"),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "ping"}},
		}},
		InferenceConfig: &types.InferenceConfiguration{MaxTokens: aws.Int32(1)},
	})
	if err == nil {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		// Auth worked if we got as far as model access checks.
		switch ae.ErrorCode() {
		case "AccessDeniedException", "ResourceNotFoundException", "ValidationException":
			return true
		}
	}
	return false
}

// Complete performs a unary Converse call.
func (a *BedrockAdapter) Complete(ctx context.Context, messages []domain.Message, opts *Options) (*Output, error) {
	input, err := a.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Converse(ctx, input)
	if err != nil {
		return nil, a.classify(err, opts.Model)
	}

	out := &Output{FinishReason: string(resp.StopReason)}
	if resp.Usage != nil {
		out.Usage = bedrockUsage(resp.Usage)
	}
	msg, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewError(KindFailedGeneration, domain.ProviderBedrock, opts.Model,
			"response carried no message")
	}
	toolIndex := 0
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			out.Text += b.Value
		case *types.ContentBlockMemberToolUse:
			var inputMap map[string]any
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&inputMap); err != nil {
					e := NewError(KindInvalidGeneration, domain.ProviderBedrock, opts.Model,
						fmt.Sprintf("tool call %s has unparsable arguments", aws.ToString(b.Value.ToolUseId)))
					e.IncursCost = true
					e.PartialOutput = out.Text
					return nil, e
				}
			}
			idx := toolIndex
			toolIndex++
			out.ToolCalls = append(out.ToolCalls, domain.ToolCallRequest{
				ID:    aws.ToString(b.Value.ToolUseId),
				Name:  InternalToolName(aws.ToString(b.Value.Name), opts.Tools),
				Input: inputMap,
				Index: &idx,
			})
		}
	}

	switch resp.StopReason {
	case types.StopReasonMaxTokens:
		e := NewError(KindMaxTokensExceeded, domain.ProviderBedrock, opts.Model,
			"generation stopped at the model's output token limit")
		e.IncursCost = true
		e.PartialOutput = out.Text
		usage := out.Usage
		e.Usage = &usage
		return nil, e
	case types.StopReasonContentFiltered:
		e := NewError(KindContentModeration, domain.ProviderBedrock, opts.Model,
			"output blocked by content filter")
		e.IncursCost = true
		usage := out.Usage
		e.Usage = &usage
		return nil, e
	}
	return out, nil
}

// Stream performs a ConverseStream call.
func (a *BedrockAdapter) Stream(ctx context.Context, messages []domain.Message, opts *Options) (<-chan *Chunk, error) {
	input, err := a.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
		ToolConfig:      input.ToolConfig,
	}
	stream, err := a.client.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, a.classify(err, opts.Model)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		eventStream := stream.GetStream()
		defer eventStream.Close()

		sc := NewStreamingContext(opts)
		// Converse block indices restart per message; remap to a stable
		// per-stream tool index.
		blockToCall := map[int]int{}
		nextCall := 0

		for event := range eventStream.Events() {
			var d Delta
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					idx := nextCall
					nextCall++
					blockToCall[int(aws.ToInt32(ev.Value.ContentBlockIndex))] = idx
					d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
						ID:    aws.ToString(tu.Value.ToolUseId),
						Index: idx,
						Name:  InternalToolName(aws.ToString(tu.Value.Name), opts.Tools),
					})
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					d.Text = delta.Value
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						idx, ok := blockToCall[int(aws.ToInt32(ev.Value.ContentBlockIndex))]
						if !ok {
							idx = nextCall - 1
						}
						d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
							Index:     idx,
							Arguments: *delta.Value.Input,
						})
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				reason := string(ev.Value.StopReason)
				if ev.Value.StopReason == types.StopReasonMaxTokens {
					reason = "length"
				}
				d.FinishReason = reason
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					u := bedrockUsage(ev.Value.Usage)
					d.Usage = &u
				}
			}
			if c := sc.Feed(d); c != nil {
				chunks <- c
			}
		}
		if err := eventStream.Err(); err != nil {
			chunks <- &Chunk{Err: a.classify(err, opts.Model)}
			return
		}
		if sc.FinishReason() == string(types.StopReasonContentFiltered) {
			e := NewError(KindContentModeration, domain.ProviderBedrock, opts.Model,
				"output blocked by content filter")
			e.IncursCost = true
			chunks <- &Chunk{Err: e}
			return
		}
		out, ferr := sc.Finalize(domain.ProviderBedrock, opts.Model)
		if ferr != nil {
			chunks <- &Chunk{Err: ferr}
			return
		}
		chunks <- &Chunk{Final: out, Partial: chunkPartial(sc, out)}
	}()
	return chunks, nil
}

// buildRequest translates neutral messages and options into a Converse input.
func (a *BedrockAdapter) buildRequest(messages []domain.Message, opts *Options) (*bedrockruntime.ConverseInput, error) {
	model := opts.ProviderModel
	if model == "" {
		model = opts.Model
	}
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(model)}

	inference := &types.InferenceConfiguration{}
	configured := false
	if opts.MaxOutputTokens != nil {
		inference.MaxTokens = aws.Int32(int32(*opts.MaxOutputTokens))
		configured = true
	}
	if opts.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*opts.Temperature))
		configured = true
	}
	if opts.TopP != nil {
		inference.TopP = aws.Float32(float32(*opts.TopP))
		configured = true
	}
	if configured {
		input.InferenceConfig = inference
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
		converted, err := bedrockMessage(m)
		if err != nil {
			return nil, err
		}
		if converted != nil {
			input.Messages = append(input.Messages, *converted)
		}
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	if len(opts.Tools) > 0 {
		toolConfig := &types.ToolConfiguration{}
		for _, t := range opts.Tools {
			toolConfig.Tools = append(toolConfig.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(sanitizeToolName(t.Name)),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(t.InputSchema),
					},
				},
			})
		}
		if opts.ToolChoice != nil {
			toolConfig.ToolChoice = bedrockToolChoice(opts.ToolChoice)
		}
		input.ToolConfig = toolConfig
	}
	return input, nil
}

func bedrockToolChoice(tc *domain.ToolChoice) types.ToolChoice {
	switch tc.Mode {
	case domain.ToolChoiceRequired:
		return &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
	case domain.ToolChoiceFunction:
		return &types.ToolChoiceMemberTool{
			Value: types.SpecificToolChoice{Name: aws.String(sanitizeToolName(tc.Name))},
		}
	default:
		// Converse has no "none" mode; auto is the closest.
		return &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
	}
}

func bedrockMessage(m domain.Message) (*types.Message, error) {
	var content []types.ContentBlock
	for _, p := range m.Content {
		switch {
		case p.Text != nil:
			content = append(content, &types.ContentBlockMemberText{Value: *p.Text})
		case p.Object != nil:
			b, err := json.Marshal(p.Object)
			if err != nil {
				return nil, fmt.Errorf("marshal object part: %w", err)
			}
			content = append(content, &types.ContentBlockMemberText{Value: string(b)})
		case p.File != nil:
			block, err := bedrockFileBlock(p.File)
			if err != nil {
				return nil, err
			}
			content = append(content, block)
		case p.ToolCall != nil:
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(p.ToolCall.ID),
					Name:      aws.String(sanitizeToolName(p.ToolCall.Name)),
					Input:     document.NewLazyDocument(p.ToolCall.Input),
				},
			})
		case p.ToolResult != nil:
			text := p.ToolResult.Error
			if text == "" {
				b, err := json.Marshal(p.ToolResult.Result)
				if err != nil {
					return nil, fmt.Errorf("marshal tool result %s: %w", p.ToolResult.ID, err)
				}
				text = string(b)
			}
			status := types.ToolResultStatusSuccess
			if p.ToolResult.Error != "" {
				status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(p.ToolResult.ID),
					Status:    status,
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: text},
					},
				},
			})
		}
	}
	if len(content) == 0 {
		return nil, nil
	}
	role := types.ConversationRoleUser
	if m.Role == domain.RoleAssistant {
		role = types.ConversationRoleAssistant
	}
	return &types.Message{Role: role, Content: content}, nil
}

func bedrockFileBlock(f *domain.File) (types.ContentBlock, error) {
	data, err := f.Bytes()
	if err != nil {
		return nil, NewError(KindInvalidFile, domain.ProviderBedrock, "", err.Error())
	}
	switch f.DetectedFormat() {
	case domain.FormatImage:
		format, ok := bedrockImageFormat(f.ContentType)
		if !ok {
			return nil, NewError(KindInvalidFile, domain.ProviderBedrock, "",
				fmt.Sprintf("unsupported image content type %q", f.ContentType))
		}
		return &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: format,
				Source: &types.ImageSourceMemberBytes{Value: data},
			},
		}, nil
	case domain.FormatPDF:
		return &types.ContentBlockMemberDocument{
			Value: types.DocumentBlock{
				Format: types.DocumentFormatPdf,
				Name:   aws.String("document"),
				Source: &types.DocumentSourceMemberBytes{Value: data},
			},
		}, nil
	default:
		return nil, NewError(KindInvalidFile, domain.ProviderBedrock, "",
			fmt.Sprintf("unsupported file content type %q", f.ContentType))
	}
}

func bedrockImageFormat(contentType string) (types.ImageFormat, bool) {
	switch strings.ToLower(contentType) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func bedrockUsage(u *types.TokenUsage) domain.Usage {
	out := domain.Usage{
		PromptTokens:     int64(aws.ToInt32(u.InputTokens)),
		CompletionTokens: int64(aws.ToInt32(u.OutputTokens)),
	}
	if u.CacheReadInputTokens != nil {
		out.PromptCachedTokens = int64(*u.CacheReadInputTokens)
	}
	return out
}

func (a *BedrockAdapter) classify(err error, model string) *Error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		kind := KindProviderInternalError
		switch ae.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind = KindRateLimit
		case "ServiceUnavailableException", "ModelNotReadyException":
			kind = KindProviderUnavailable
		case "AccessDeniedException", "UnrecognizedClientException":
			kind = KindInvalidProviderConfig
		case "ResourceNotFoundException":
			kind = KindMissingModel
		case "ModelTimeoutException":
			kind = KindTimeout
		case "ValidationException":
			kind = ClassifyMessage(ae.ErrorMessage(), KindBadRequest)
		default:
			kind = ClassifyMessage(ae.ErrorMessage(), kind)
		}
		message := ae.ErrorMessage()
		if message == "" {
			message = "bedrock request failed"
		}
		e := NewError(kind, domain.ProviderBedrock, model, message).
			WithCode(ae.ErrorCode()).
			WithCause(err)
		e.ConfigID = a.cfg.ID
		return e
	}
	e := AsError(err, domain.ProviderBedrock, model)
	e.ConfigID = a.cfg.ID
	return e
}
