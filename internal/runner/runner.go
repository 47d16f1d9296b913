// Package runner executes completions end to end: it renders the prompt,
// drives the retry/fallback pipeline, runs hosted tools locally, validates
// structured output, and prices the finished call.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/observability"
	"github.com/anotherai-dev/anotherai-sub001/internal/pipeline"
	"github.com/anotherai-dev/anotherai-sub001/internal/pricing"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
	"github.com/anotherai-dev/anotherai-sub001/internal/schema"
	"github.com/anotherai-dev/anotherai-sub001/internal/tools"
)

const (
	defaultMaxToolCallIterations = 10

	// Pricing is table arithmetic and should never take this long; the
	// deadline keeps a pathological catalog from delaying the response.
	defaultCostTimeout = 100 * time.Millisecond
)

// Runner owns the per-request execution flow. One instance serves all
// requests; per-request state lives on the stack of Complete/Stream.
type Runner struct {
	Pipeline *pipeline.Pipeline
	Hosted   *tools.Registry
	Logger   *slog.Logger

	// Tracer spans each completion and its upstream calls; nil disables
	// tracing.
	Tracer *observability.Tracer

	// HTTPClient downloads URL files for adapters that need them inlined.
	HTTPClient *http.Client

	MaxToolCallIterations int
	CostTimeout           time.Duration
}

// New builds a runner with the default hosted tools.
func New(p *pipeline.Pipeline, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Pipeline: p,
		Hosted:   tools.Default(),
		Logger:   logger,
	}
}

func (r *Runner) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

// Request is one completion to execute.
type Request struct {
	AgentID        string
	Version        *domain.Version
	Input          *domain.AgentInput
	Metadata       map[string]any
	ConversationID string

	// CompletionID pre-assigns the completion id so callers can reference it
	// before the run finishes (streaming frames). Generated when empty.
	CompletionID string
}

// Complete executes the request and returns the finished completion. The
// completion always carries an output (messages or a serialized error) plus
// every upstream trace made along the way; Complete itself never fails.
func (r *Runner) Complete(ctx context.Context, req *Request) *domain.Completion {
	return r.run(ctx, req, nil)
}

// Stream executes the request, forwarding intermediate chunks to emit. The
// final aggregate is not emitted as a chunk; callers read it from the
// returned completion. Adapters that cannot stream the model/tool combination
// fall back to a unary call with no intermediate chunks.
func (r *Runner) Stream(ctx context.Context, req *Request, emit func(*providers.Chunk)) *domain.Completion {
	return r.run(ctx, req, emit)
}

func (r *Runner) run(ctx context.Context, req *Request, emit func(*providers.Chunk)) *domain.Completion {
	started := time.Now()
	id := req.CompletionID
	if id == "" {
		id = domain.NewCompletionID()
	}
	completion := &domain.Completion{
		ID:             id,
		AgentID:        req.AgentID,
		Version:        req.Version,
		Input:          req.Input,
		Metadata:       req.Metadata,
		ConversationID: req.ConversationID,
		CreatedAt:      started.UTC(),
	}
	if r.Tracer != nil {
		var span trace.Span
		ctx, span = r.Tracer.StartCompletion(ctx, req.AgentID, req.Version.Model)
		defer func() { observability.EndCompletion(span, completion) }()
	}

	base := PrepareMessages(req.Version, req.Input)
	var finalMessages []domain.Message

	fn := func(ctx context.Context, att *pipeline.Attempt) *providers.Error {
		messages := base
		if att.LastError != nil && att.LastError.Kind.AddToMessages() {
			messages = append(copyMessages(base),
				correctiveMessages(att.LastError.PartialOutput, att.LastError.Message)...)
		}
		messages, perr := r.sanitizeFiles(ctx, messages, att.Adapter, att.Options.Model)
		if perr != nil {
			return perr
		}
		out, perr := r.converse(ctx, completion, att, messages, emit)
		if perr != nil {
			return perr
		}
		msg, perr := r.finishOutput(req.Version, att, out)
		if perr != nil {
			return perr
		}
		finalMessages = []domain.Message{msg}
		return nil
	}

	err := r.Pipeline.Run(ctx, req.Version, req.Version.EnabledTools, fn)
	if err != nil {
		completion.Output.Error = err.Serialize()
		r.Logger.WarnContext(ctx, "completion failed",
			slog.String("completion_id", completion.ID),
			slog.String("agent_id", req.AgentID),
			slog.String("kind", string(err.Kind)),
			slog.String("model", req.Version.Model))
	} else {
		completion.Output.Messages = finalMessages
	}
	completion.DurationSeconds = time.Since(started).Seconds()
	r.finalizeCost(ctx, completion)
	return completion
}

// converse runs the tool loop against one adapter: call, execute hosted
// tools, call again with the results, until the model answers or requests an
// external tool. Every upstream call appends a trace to the completion.
func (r *Runner) converse(ctx context.Context, completion *domain.Completion, att *pipeline.Attempt, messages []domain.Message, emit func(*providers.Chunk)) (*providers.Output, *providers.Error) {
	maxIter := r.MaxToolCallIterations
	if maxIter <= 0 {
		maxIter = defaultMaxToolCallIterations
	}

	for iteration := 0; ; iteration++ {
		callStart := time.Now()
		out, perr := r.callOnce(ctx, att, messages, emit)
		trace := domain.LLMTrace{
			Messages:        messages,
			Model:           att.Options.Model,
			Provider:        att.Adapter.Name(),
			ConfigID:        att.Adapter.Config().ID,
			DurationSeconds: time.Since(callStart).Seconds(),
			IncursCost:      true,
		}
		if perr != nil {
			trace.Error = perr.Serialize()
			trace.IncursCost = perr.IncursCost
			if perr.Usage != nil {
				// The final usage frame of a failed call still prices the run.
				usage := *perr.Usage
				trace.Usage = &usage
			}
			completion.Traces = append(completion.Traces, trace)
			return nil, perr
		}
		usage := out.Usage
		trace.Usage = &usage
		completion.Traces = append(completion.Traces, trace)

		hosted, external := r.splitCalls(out.ToolCalls)
		if len(hosted) == 0 || len(external) > 0 {
			// External calls surface to the caller even when hosted calls
			// ride along; the caller answers both.
			return out, nil
		}
		// The limit bounds the tool rounds, not the calls: the model gets one
		// final call after the last executed round, so maxIter+1 calls total.
		if iteration >= maxIter {
			return nil, providers.NewError(providers.KindMaxToolCallIteration,
				att.Adapter.Name(), att.Options.Model,
				fmt.Sprintf("model did not answer within %d tool-call rounds", maxIter))
		}

		results := make([]domain.ToolCallResult, 0, len(hosted))
		for i := range hosted {
			results = append(results, r.Hosted.Execute(ctx, &hosted[i]))
		}
		messages = append(copyMessages(messages),
			assistantToolCallMessage(out.Text, hosted),
			toolResultMessage(results))
	}
}

// callOnce performs a single upstream call under an llm.call span, streaming
// when the caller wants chunks and the adapter can stream this model/tool
// combination.
func (r *Runner) callOnce(ctx context.Context, att *pipeline.Attempt, messages []domain.Message, emit func(*providers.Chunk)) (*providers.Output, *providers.Error) {
	if r.Tracer == nil {
		return r.callUpstream(ctx, att, messages, emit)
	}
	ctx, span := r.Tracer.StartLLMCall(ctx, att.Adapter.Name(), att.Options.Model)
	out, perr := r.callUpstream(ctx, att, messages, emit)
	kind := ""
	if perr != nil {
		kind = string(perr.Kind)
	}
	observability.EndLLMCall(span, kind)
	return out, perr
}

func (r *Runner) callUpstream(ctx context.Context, att *pipeline.Attempt, messages []domain.Message, emit func(*providers.Chunk)) (*providers.Output, *providers.Error) {
	name, model := att.Adapter.Name(), att.Options.Model
	if emit == nil || !att.Adapter.IsStreamable(model, att.Options.Tools) {
		out, err := att.Adapter.Complete(ctx, messages, att.Options)
		if err != nil {
			return nil, providers.AsError(err, name, model)
		}
		return out, nil
	}

	ch, err := att.Adapter.Stream(ctx, messages, att.Options)
	if err != nil {
		return nil, providers.AsError(err, name, model)
	}
	var final *providers.Output
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, providers.AsError(chunk.Err, name, model)
		}
		if chunk.Final != nil {
			final = chunk.Final
			continue
		}
		emit(chunk)
	}
	if final == nil {
		return nil, providers.NewError(providers.KindProviderInternalError, name, model,
			"stream ended without a final frame")
	}
	return final, nil
}

// splitCalls partitions tool calls into hosted (executed here) and external
// (surfaced to the caller).
func (r *Runner) splitCalls(calls []domain.ToolCallRequest) (hosted, external []domain.ToolCallRequest) {
	for _, c := range calls {
		if domain.IsHostedToolName(c.Name) {
			if _, ok := r.Hosted.Get(c.Name); ok {
				hosted = append(hosted, c)
				continue
			}
		}
		external = append(external, c)
	}
	return hosted, external
}

// finishOutput validates the model's answer against the output schema and
// shapes the final assistant message. A schema violation comes back as an
// invalid_generation error so the pipeline retries with corrective messages.
func (r *Runner) finishOutput(version *domain.Version, att *pipeline.Attempt, out *providers.Output) (domain.Message, *providers.Error) {
	msg := domain.Message{Role: domain.RoleAssistant}
	if out.Reasoning != "" {
		msg.Content = append(msg.Content, domain.ReasoningPart(out.Reasoning))
	}

	if version.OutputSchema != nil && len(out.ToolCalls) == 0 {
		object, perr := r.validateOutput(version.OutputSchema, att, out)
		if perr != nil {
			return domain.Message{}, perr
		}
		msg.Content = append(msg.Content, domain.Part{Object: object})
	} else if out.Text != "" {
		msg.Content = append(msg.Content, domain.TextPart(out.Text))
	}

	for i := range out.ToolCalls {
		tc := out.ToolCalls[i]
		msg.Content = append(msg.Content, domain.Part{ToolCall: &tc})
	}
	for i := range out.Files {
		f := out.Files[i]
		msg.Content = append(msg.Content, domain.Part{File: &f})
	}
	if len(msg.Content) == 0 {
		msg.Content = append(msg.Content, domain.TextPart(""))
	}
	return msg, nil
}

func (r *Runner) validateOutput(outputSchema map[string]any, att *pipeline.Attempt, out *providers.Output) (map[string]any, *providers.Error) {
	invalid := func(reason string) *providers.Error {
		e := providers.NewError(providers.KindInvalidGeneration,
			att.Adapter.Name(), att.Options.Model, reason)
		e.IncursCost = true
		e.PartialOutput = out.Text
		return e
	}
	value, err := schema.ParseTolerant(out.Text)
	if err != nil {
		return nil, invalid("response is not valid JSON: " + err.Error())
	}
	value = schema.SanitizeEmpty(value, outputSchema)
	if err := schema.Validate(value, outputSchema); err != nil {
		return nil, invalid("response does not conform to the output schema: " + err.Error())
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, invalid("response is not a JSON object")
	}
	return object, nil
}

// costResult is the outcome of pricing a completion: per-trace priced usage
// records and the summed total. An unpriceable completion yields the zero
// value (null cost, no usage updates).
type costResult struct {
	usages map[int]*domain.Usage
	total  *float64
}

// finalizeCost prices every trace and sums the total onto the completion.
// Pricing runs under a short deadline; on timeout or an unpriceable trace the
// cost stays null rather than delaying or failing the response. The pricing
// goroutine only writes into its own result, so an abandoned computation
// cannot touch a completion the caller is already serializing.
func (r *Runner) finalizeCost(ctx context.Context, completion *domain.Completion) {
	timeout := r.CostTimeout
	if timeout <= 0 {
		timeout = defaultCostTimeout
	}
	done := make(chan costResult, 1)
	go func() { done <- r.computeCost(completion) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		for i, usage := range res.usages {
			completion.Traces[i].Usage = usage
		}
		completion.CostUSD = res.total
	case <-timer.C:
		r.Logger.WarnContext(ctx, "cost computation timed out",
			slog.String("completion_id", completion.ID))
	case <-ctx.Done():
	}
}

func (r *Runner) computeCost(completion *domain.Completion) costResult {
	res := costResult{usages: make(map[int]*domain.Usage)}
	var total float64
	priced := false
	for i := range completion.Traces {
		trace := completion.Traces[i]
		if trace.Usage == nil {
			continue
		}
		md, ok := r.Pipeline.Catalog.Get(trace.Model)
		if !ok {
			return costResult{}
		}
		usage := *trace.Usage
		if err := pricing.Compute(&usage, &md.Pricing, trace.IncursCost); err != nil {
			return costResult{}
		}
		res.usages[i] = &usage
		if cost := usage.TotalCostUSD(); cost != nil {
			total += *cost
			priced = true
		}
	}
	if priced {
		res.total = &total
	}
	return res
}
