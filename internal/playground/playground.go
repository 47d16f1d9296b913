// Package playground runs experiments: a set of versions crossed with a set
// of inputs, executed in parallel with optional completion caching, so
// prompts and models can be compared side by side.
package playground

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/runner"
	"github.com/anotherai-dev/anotherai-sub001/internal/storage"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultMaxConcurrency = 8
)

// Completer executes one completion request. *runner.Runner satisfies it.
type Completer interface {
	Complete(ctx context.Context, req *runner.Request) *domain.Completion
}

// Orchestrator creates experiments and drives their completions.
type Orchestrator struct {
	Completer Completer
	Stores    storage.StoreSet
	Cache     *storage.CompletionCache
	Logger    *slog.Logger

	// PollInterval paces Outputs when waiting for terminal state.
	PollInterval time.Duration

	// MaxConcurrency bounds parallel cells per experiment.
	MaxConcurrency int
}

// New builds an orchestrator.
func New(completer Completer, stores storage.StoreSet, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Completer: completer,
		Stores:    stores,
		Cache:     storage.NewCompletionCache(stores.Completions),
		Logger:    logger,
	}
}

// CreateParams describes a new experiment. Versions come from the explicit
// list, the matrix expansion, or both. Inputs come from the explicit list, a
// completion query, or — absent both — the non-system tails of the prompts.
type CreateParams struct {
	AgentID     string
	Title       string
	Description string
	Author      string
	Metadata    map[string]any
	CachePolicy domain.CachePolicy

	Versions []domain.Version
	Matrix   *Matrix
	Inputs   []domain.AgentInput

	// CompletionQuery seeds the inputs from stored completions instead of an
	// explicit list; mutually exclusive with Inputs.
	CompletionQuery *CompletionQuery
}

// CompletionQuery selects stored completions whose inputs seed an
// experiment: rerun what an agent has already seen, against new versions.
type CompletionQuery struct {
	AgentID string `json:"agent_id"`

	// Limit caps how many recent completions are scanned; defaults to 100.
	Limit int `json:"limit,omitempty"`
}

// Create validates and stores the experiment, then starts its completions in
// the background. The returned experiment carries the deduplicated version
// and input lists plus a pending cell per (version, input) pair.
func (o *Orchestrator) Create(ctx context.Context, params *CreateParams) (*domain.Experiment, error) {
	if params.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	versions := params.Versions
	if params.Matrix != nil {
		versions = append(versions, params.Matrix.Expand()...)
	}
	inputs := params.Inputs
	switch {
	case params.CompletionQuery != nil:
		if len(inputs) > 0 {
			return nil, fmt.Errorf("inputs and completion_query are mutually exclusive")
		}
		var err error
		inputs, err = o.queryInputs(ctx, params.CompletionQuery)
		if err != nil {
			return nil, err
		}
	case len(inputs) == 0:
		versions, inputs = deriveInputs(versions)
	}
	versions = dedupeVersions(versions)
	inputs = dedupeInputs(inputs)
	if len(versions) == 0 {
		return nil, fmt.Errorf("experiment requires at least one version")
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("experiment requires at least one input")
	}
	for i := range versions {
		if versions[i].Model == "" {
			return nil, fmt.Errorf("version %d has no model", i)
		}
	}
	// A version without a prompt paired with an input without messages would
	// send an empty conversation upstream; reject before spending tokens.
	for vi := range versions {
		if len(versions[vi].Prompt) > 0 {
			continue
		}
		for ii := range inputs {
			if len(inputs[ii].Messages) == 0 {
				return nil, fmt.Errorf(
					"version %s has no prompt and input %s has no messages",
					versions[vi].ID(), inputs[ii].ID())
			}
		}
	}

	exp := &domain.Experiment{
		ID:          domain.NewCompletionID(),
		AgentID:     params.AgentID,
		Title:       params.Title,
		Description: params.Description,
		Author:      params.Author,
		Metadata:    params.Metadata,
		CachePolicy: params.CachePolicy,
		Inputs:      inputs,
		Versions:    versions,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.Stores.Experiments.Create(ctx, exp); err != nil {
		return nil, err
	}
	for vi := range versions {
		for ii := range inputs {
			cell := &domain.ExperimentCompletion{
				ExperimentID: exp.ID,
				VersionID:    versions[vi].ID(),
				InputID:      inputs[ii].ID(),
				Status:       domain.ExperimentPending,
			}
			if err := o.Stores.Experiments.AddCompletion(ctx, cell); err != nil {
				return nil, err
			}
			exp.Completions = append(exp.Completions, *cell)
		}
	}

	go o.runAll(context.WithoutCancel(ctx), exp)
	return exp, nil
}

func (o *Orchestrator) runAll(ctx context.Context, exp *domain.Experiment) {
	limit := o.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for vi := range exp.Versions {
		for ii := range exp.Inputs {
			version, input := &exp.Versions[vi], &exp.Inputs[ii]
			g.Go(func() error {
				o.runCell(ctx, exp, version, input)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (o *Orchestrator) runCell(ctx context.Context, exp *domain.Experiment, version *domain.Version, input *domain.AgentInput) {
	versionID, inputID := version.ID(), input.ID()
	setStatus := func(completionID string, status domain.ExperimentStatus) {
		if err := o.Stores.Experiments.SetCompletionStatus(ctx, exp.ID, versionID, inputID, completionID, status); err != nil {
			o.Logger.ErrorContext(ctx, "update experiment cell",
				slog.String("experiment_id", exp.ID), slog.Any("error", err))
		}
	}
	setStatus("", domain.ExperimentRunning)

	temperature := 0.0
	if version.Temperature != nil {
		temperature = *version.Temperature
	}
	completion, err := o.Cache.Run(ctx, exp.AgentID, versionID, inputID,
		exp.CachePolicy, temperature, len(version.EnabledTools) > 0,
		func(ctx context.Context) (*domain.Completion, error) {
			c := o.Completer.Complete(ctx, &runner.Request{
				AgentID:  exp.AgentID,
				Version:  version,
				Input:    input,
				Metadata: map[string]any{"experiment_id": exp.ID},
			})
			if err := o.Stores.Completions.Save(ctx, c); err != nil {
				o.Logger.ErrorContext(ctx, "save experiment completion",
					slog.String("completion_id", c.ID), slog.Any("error", err))
			}
			return c, nil
		})
	if err != nil {
		setStatus("", domain.ExperimentFailed)
		return
	}
	status := domain.ExperimentCompleted
	if completion.Output.Error != nil {
		status = domain.ExperimentFailed
	}
	setStatus(completion.ID, status)
}

// ErrTimeout is returned by Outputs when the experiment's completions do not
// all reach a terminal state within the wait window.
var ErrTimeout = errors.New("experiment completions did not finish within the wait window")

// Outputs returns the experiment and its finished completions. A positive
// wait polls until every cell is terminal, failing with ErrTimeout when the
// window expires first; zero wait returns the current state immediately.
func (o *Orchestrator) Outputs(ctx context.Context, experimentID string, wait time.Duration) (*domain.Experiment, []*domain.Completion, error) {
	interval := o.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	var expired <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		exp, err := o.Stores.Experiments.Get(ctx, experimentID)
		if err != nil {
			return nil, nil, err
		}
		if wait <= 0 || allTerminal(exp.Completions) {
			completions, err := o.loadCompletions(ctx, exp)
			return exp, completions, err
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-expired:
			return nil, nil, fmt.Errorf("experiment %s: %w", experimentID, ErrTimeout)
		case <-time.After(interval):
		}
	}
}

func (o *Orchestrator) loadCompletions(ctx context.Context, exp *domain.Experiment) ([]*domain.Completion, error) {
	var out []*domain.Completion
	for _, cell := range exp.Completions {
		if cell.CompletionID == "" {
			continue
		}
		c, err := o.Stores.Completions.Get(ctx, cell.CompletionID)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func allTerminal(cells []domain.ExperimentCompletion) bool {
	for _, c := range cells {
		if !c.Status.Terminal() {
			return false
		}
	}
	return true
}

const defaultQueryLimit = 100

// queryInputs extracts the distinct (variables, messages) pairs from the
// completions the query matches.
func (o *Orchestrator) queryInputs(ctx context.Context, q *CompletionQuery) ([]domain.AgentInput, error) {
	if q.AgentID == "" {
		return nil, fmt.Errorf("completion query requires an agent id")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	completions, _, err := o.Stores.Completions.List(ctx, q.AgentID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("completion query: %w", err)
	}
	var inputs []domain.AgentInput
	for _, c := range completions {
		if c.Input.IsEmpty() {
			continue
		}
		inputs = append(inputs, *c.Input)
	}
	inputs = dedupeInputs(inputs)
	if len(inputs) == 0 {
		return nil, fmt.Errorf("completion query matched no completions with inputs")
	}
	return inputs, nil
}

// deriveInputs splits conversation-style prompts into a prompt and inputs
// when neither an explicit input list nor a query was given. Prompts that all
// open with the same system message keep it as the common prompt and
// contribute their tails as inputs; otherwise the versions keep no prompt and
// every conversation moves wholesale into the inputs.
func deriveInputs(versions []domain.Version) ([]domain.Version, []domain.AgentInput) {
	for i := range versions {
		if len(versions[i].Prompt) == 0 {
			return versions, nil
		}
	}
	shared := systemHead(versions[0].Prompt)
	sameHead := shared != ""
	for i := 1; sameHead && i < len(versions); i++ {
		if systemHead(versions[i].Prompt) != shared {
			sameHead = false
		}
	}

	out := make([]domain.Version, len(versions))
	copy(out, versions)
	var inputs []domain.AgentInput
	for i := range out {
		prompt := out[i].Prompt
		if sameHead {
			out[i].Prompt = prompt[:1]
			if len(prompt) > 1 {
				inputs = append(inputs, domain.AgentInput{Messages: prompt[1:]})
			}
		} else {
			out[i].Prompt = nil
			inputs = append(inputs, domain.AgentInput{Messages: prompt})
		}
	}
	return out, inputs
}

// systemHead is a prompt's leading system message in comparable form, empty
// when the prompt opens with another role.
func systemHead(prompt []domain.Message) string {
	if len(prompt) == 0 || prompt[0].Role != domain.RoleSystem {
		return ""
	}
	b, err := json.Marshal(prompt[0])
	if err != nil {
		return ""
	}
	return string(b)
}

func dedupeVersions(in []domain.Version) []domain.Version {
	seen := make(map[string]bool, len(in))
	out := make([]domain.Version, 0, len(in))
	for _, v := range in {
		id := v.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, v)
	}
	return out
}

func dedupeInputs(in []domain.AgentInput) []domain.AgentInput {
	seen := make(map[string]bool, len(in))
	out := make([]domain.AgentInput, 0, len(in))
	for _, i := range in {
		id := i.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, i)
	}
	return out
}
