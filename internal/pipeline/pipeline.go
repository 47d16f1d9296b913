// Package pipeline drives the retry and fallback loop around upstream LLM
// calls. It turns a version into an ordered sequence of attempts: custom
// credentials first, then the pinned provider or the model's ordered
// provider list, then at most one fallback model chosen by error class.
package pipeline

import (
	"context"
	"math/rand/v2"

	"github.com/anotherai-dev/anotherai-sub001/internal/backoff"
	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
)

// Attempt is one upstream try: an adapter, the resolved options, and the
// sanitized per-request model data.
type Attempt struct {
	Adapter   providers.Adapter
	Options   *providers.Options
	ModelData *catalog.ModelData

	// LastError is the classified error of the previous attempt, nil on the
	// first. Corrective retries (AddToMessages kinds) use it to extend the
	// conversation.
	LastError *providers.Error
}

// AttemptFunc performs one upstream call. A nil return stops the pipeline;
// the caller keeps whatever output it captured.
type AttemptFunc func(ctx context.Context, att *Attempt) *providers.Error

// Pipeline holds the routing state shared across requests.
type Pipeline struct {
	Registry *providers.Registry
	Catalog  *catalog.Catalog

	// Custom holds tenant-supplied adapters, tried before the built-in
	// credential sets.
	Custom []providers.Adapter

	// Backoff paces same-provider retries. The zero value retries
	// immediately.
	Backoff backoff.Policy
}

// New builds a pipeline.
func New(registry *providers.Registry, cat *catalog.Catalog) *Pipeline {
	return &Pipeline{Registry: registry, Catalog: cat}
}

// Run walks the attempt sequence for a version until fn succeeds or the
// sequence is exhausted. On exhaustion the first recorded error is returned;
// with zero attempted providers a no_provider_supporting_model error carries
// the providers that would have served the model and their env vars.
func (p *Pipeline) Run(ctx context.Context, version *domain.Version, tools []domain.Tool, fn AttemptFunc) *providers.Error {
	state := &runState{}
	model := version.Model

	var userFallbacks []string
	if version.UseFallback != nil {
		userFallbacks = append(userFallbacks, version.UseFallback.Models...)
	}
	autoAllowed := version.UseFallback == nil ||
		(version.UseFallback.Mode != domain.FallbackNever && len(userFallbacks) == 0)
	autoUsed := false

	for {
		md, ok := p.Catalog.Get(model)
		if !ok {
			state.record(providers.NewError(providers.KindMissingModel, "", model,
				"model is not in the catalog"))
		} else if p.runModel(ctx, version, md, tools, fn, state) {
			return nil
		}
		if state.lastErr != nil && stopsFallback(state.lastErr.Kind) {
			break
		}

		next := ""
		switch {
		case len(userFallbacks) > 0:
			next, userFallbacks = userFallbacks[0], userFallbacks[1:]
		case autoAllowed && !autoUsed && ok && md.Fallback != nil && state.lastErr != nil:
			next = fallbackFor(state.lastErr.Kind, md.Fallback)
			autoUsed = true
		}
		if next == "" || next == model {
			break
		}
		model = next
	}

	if !state.attempted {
		if state.firstErr != nil && state.firstErr.Kind == providers.KindMissingModel {
			return state.firstErr
		}
		return p.noProviderError(version.Model)
	}
	return state.firstErr
}

type runState struct {
	attempted bool
	attempts  int
	firstErr  *providers.Error
	lastErr   *providers.Error
}

func (s *runState) record(err *providers.Error) {
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.lastErr = err
}

// runModel walks one model's adapters. Returns true when fn succeeded.
func (p *Pipeline) runModel(ctx context.Context, version *domain.Version, md *catalog.ModelData, tools []domain.Tool, fn AttemptFunc, state *runState) bool {
	// 1. Tenant-supplied credentials, every vendor that serves the model.
	custom := p.customAdapters(md)
	for _, adapter := range custom {
		if p.runAdapter(ctx, version, md, adapter, tools, fn, state) {
			return true
		}
	}

	// 2. Pinned provider: only its credentials.
	if version.Provider != "" {
		for _, adapter := range p.Registry.Adapters(version.Provider) {
			if !adapter.SupportsModel(md) {
				continue
			}
			if p.runAdapter(ctx, version, md, adapter, tools, fn, state) {
				return true
			}
		}
		return false
	}

	// 3. The model's ordered provider list, gated between providers by the
	// last error's class. Errors carried over from a previous model never
	// gate this one.
	attemptsBefore := state.attempts
	for _, entry := range md.Providers {
		if state.attempts > attemptsBefore && !state.lastErr.Kind.ShouldTryNextProvider() {
			break
		}
		attemptsBefore = state.attempts
		for _, adapter := range p.Registry.Adapters(entry.Provider) {
			if p.runAdapter(ctx, version, md, adapter, tools, fn, state) {
				return true
			}
		}
	}
	return false
}

// customAdapters filters tenant adapters to those serving the model. The
// first stays in place to exhaust its quota; the rest are shuffled for
// vendors flagged round-robin.
func (p *Pipeline) customAdapters(md *catalog.ModelData) []providers.Adapter {
	var out []providers.Adapter
	for _, a := range p.Custom {
		if a.SupportsModel(md) {
			out = append(out, a)
		}
	}
	if len(out) > 2 && providers.RoundRobin(out[0].Name()) {
		rest := out[1:]
		rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	}
	return out
}

// runAdapter tries one adapter, with bounded same-provider retries and a
// single structured-generation downgrade. Returns true on success.
func (p *Pipeline) runAdapter(ctx context.Context, version *domain.Version, md *catalog.ModelData, adapter providers.Adapter, tools []domain.Tool, fn AttemptFunc, state *runState) bool {
	clone := md.Clone()
	applyOverrides(clone, adapter.Name())
	adapter.SanitizeModelData(clone)
	opts := buildOptions(version, clone, adapter, tools)

	attempts := 0
	downgraded := false
	for {
		att := &Attempt{Adapter: adapter, Options: opts, ModelData: clone, LastError: state.lastErr}
		state.attempted = true
		state.attempts++
		err := fn(ctx, att)
		if err == nil {
			return true
		}
		state.record(err)
		attempts++

		if ctx.Err() != nil {
			return false
		}
		// One same-provider retry without structured generation, unless the
		// version explicitly demands it.
		if !downgraded && opts.StructuredGeneration &&
			!version.RequiresStructuredGeneration() &&
			(err.Kind == providers.KindStructuredGenerationError ||
				err.Kind == providers.KindModelDoesNotSupportMode) {
			downgraded = true
			opts.StructuredGeneration = false
			continue
		}
		if attempts < err.Kind.MaxAttemptCount() {
			if err.Kind == providers.KindRateLimit {
				if p.Backoff.Sleep(ctx, attempts) != nil {
					return false
				}
			}
			continue
		}
		return false
	}
}

// applyOverrides folds the model's per-provider overrides into the clone.
func applyOverrides(md *catalog.ModelData, provider domain.Provider) {
	for _, entry := range md.Providers {
		if entry.Provider != provider || entry.Overrides == nil {
			continue
		}
		if entry.Overrides.MaxOutputTokens > 0 {
			md.MaxTokens.MaxOutputTokens = entry.Overrides.MaxOutputTokens
		}
		if entry.Overrides.StructuredOutput != nil {
			md.Supports.StructuredOutput = *entry.Overrides.StructuredOutput
		}
	}
}

// buildOptions resolves version parameters against the sanitized model data.
// Parameters the model does not support are silently dropped.
func buildOptions(version *domain.Version, md *catalog.ModelData, adapter providers.Adapter, tools []domain.Tool) *providers.Options {
	opts := &providers.Options{
		Model:         md.ID,
		ProviderModel: md.ProviderModelID(adapter.Name()),
		OutputSchema:  version.OutputSchema,
	}
	if md.Supports.Temperature {
		opts.Temperature = version.Temperature
	}
	if md.Supports.TopP {
		opts.TopP = version.TopP
	}
	if version.MaxOutputTokens != nil {
		opts.MaxOutputTokens = version.MaxOutputTokens
	} else if md.MaxTokens.MaxOutputTokens > 0 {
		limit := md.MaxTokens.MaxOutputTokens
		opts.MaxOutputTokens = &limit
	}
	if md.Supports.ToolCalling {
		opts.Tools = tools
		opts.ToolChoice = version.ToolChoice
		if md.Supports.ParallelToolCalls {
			opts.ParallelToolCalls = version.ParallelToolCalls
		}
	}
	if version.OutputSchema != nil {
		wantStructured := version.UseStructuredGeneration == nil || *version.UseStructuredGeneration
		opts.StructuredGeneration = wantStructured && md.Supports.StructuredOutput
	}
	if version.ReasoningEffort != "" && version.ReasoningEffort != domain.ReasoningDisabled {
		opts.ReasoningEffort = version.ReasoningEffort
		if version.ReasoningBudget != nil {
			opts.ReasoningBudget = version.ReasoningBudget
		} else if budget, ok := md.ReasoningBudget[version.ReasoningEffort]; ok {
			opts.ReasoningBudget = &budget
		}
	} else if version.ReasoningBudget != nil {
		opts.ReasoningBudget = version.ReasoningBudget
	}
	if md.Supports.Penalties {
		opts.PresencePenalty = version.PresencePenalty
		opts.FrequencyPenalty = version.FrequencyPenalty
	}
	return opts
}

// fallbackFor maps an error class onto the model's fallback table.
func fallbackFor(kind providers.Kind, fb *catalog.Fallbacks) string {
	switch kind {
	case providers.KindContentModeration:
		return fb.ContentModeration
	case providers.KindStructuredGenerationError,
		providers.KindInvalidGeneration,
		providers.KindFailedGeneration:
		return fb.StructuredOutput
	case providers.KindMaxTokensExceeded:
		return fb.ContextExceeded
	case providers.KindRateLimit, providers.KindProviderInternalError,
		providers.KindProviderUnavailable, providers.KindReadTimeout,
		providers.KindTimeout:
		return fb.RateLimit
	default:
		if fb.UnknownError != "" {
			return fb.UnknownError
		}
		return fb.RateLimit
	}
}

// stopsFallback lists the client-side kinds no fallback model can fix.
func stopsFallback(kind providers.Kind) bool {
	switch kind {
	case providers.KindInvalidFile, providers.KindMaxToolCallIteration,
		providers.KindTaskBanned, providers.KindBadRequest,
		providers.KindAgentRunFailed:
		return true
	default:
		return false
	}
}

// noProviderError builds the zero-attempts error: which providers would have
// served the model and which env vars they need.
func (p *Pipeline) noProviderError(model string) *providers.Error {
	details := map[string]any{}
	var supported []string
	missingEnv := map[string][]string{}
	if md, ok := p.Catalog.Get(model); ok {
		for _, entry := range md.Providers {
			supported = append(supported, string(entry.Provider))
			if !p.Registry.Has(entry.Provider) {
				missingEnv[string(entry.Provider)] = providers.EnvVarNames(entry.Provider)
			}
		}
	}
	details["supported_providers"] = supported
	details["missing_env_vars"] = missingEnv
	return providers.NewError(providers.KindNoProviderSupportingModel, "", model,
		"no configured provider supports this model").WithDetails(details)
}
