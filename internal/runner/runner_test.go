package runner

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/observability"
	"github.com/anotherai-dev/anotherai-sub001/internal/pipeline"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
)

type stubStep struct {
	out *providers.Output
	err *providers.Error
}

// stubAdapter replays a fixed sequence of outputs/errors and records the
// messages it was called with.
type stubAdapter struct {
	name       domain.Provider
	steps      []stubStep
	calls      [][]domain.Message
	streamable bool
	download   bool
}

func (s *stubAdapter) Name() domain.Provider { return s.name }
func (s *stubAdapter) Config() providers.Config {
	return providers.Config{ID: string(s.name) + "#0", Provider: s.name}
}
func (s *stubAdapter) SupportsModel(md *catalog.ModelData) bool {
	for _, e := range md.Providers {
		if e.Provider == s.name {
			return true
		}
	}
	return false
}
func (s *stubAdapter) DefaultModel() string                              { return "stub-model" }
func (s *stubAdapter) RequiresDownloadingFile(*domain.File, string) bool { return s.download }
func (s *stubAdapter) IsStreamable(string, []domain.Tool) bool           { return s.streamable }
func (s *stubAdapter) SanitizeModelData(*catalog.ModelData)              {}
func (s *stubAdapter) CheckValid(context.Context) bool                   { return true }

func (s *stubAdapter) next() stubStep {
	if len(s.steps) == 0 {
		return stubStep{out: &providers.Output{Text: "ok"}}
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st
}

func (s *stubAdapter) Complete(_ context.Context, messages []domain.Message, _ *providers.Options) (*providers.Output, error) {
	s.calls = append(s.calls, messages)
	st := s.next()
	if st.err != nil {
		return nil, st.err
	}
	return st.out, nil
}

func (s *stubAdapter) Stream(_ context.Context, messages []domain.Message, _ *providers.Options) (<-chan *providers.Chunk, error) {
	s.calls = append(s.calls, messages)
	st := s.next()
	ch := make(chan *providers.Chunk, 3)
	if st.err != nil {
		ch <- &providers.Chunk{Err: st.err}
	} else {
		if st.out.Text != "" {
			ch <- &providers.Chunk{Delta: st.out.Text, Partial: st.out.Text}
		}
		ch <- &providers.Chunk{Final: st.out}
	}
	close(ch)
	return ch, nil
}

func testModels() *catalog.Catalog {
	return catalog.New([]*catalog.ModelData{{
		ID:        "stub-model",
		MaxTokens: catalog.MaxTokensData{ContextWindow: 128000, MaxOutputTokens: 4096},
		Supports:  catalog.Supports{SystemMessages: true, Temperature: true, ToolCalling: true},
		Pricing:   catalog.Pricing{PromptPerToken: 1e-6, CompletionPerToken: 2e-6},
		Providers: []catalog.ProviderEntry{{Provider: domain.ProviderOpenAI}},
	}})
}

func newTestRunner(adapter providers.Adapter) *Runner {
	reg := providers.NewRegistry(context.Background(), nil, slog.Default())
	reg.Register(adapter)
	return New(pipeline.New(reg, testModels()), slog.Default())
}

func approx(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-12
}

func TestCompleteSimpleText(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{{
		out: &providers.Output{
			Text:  "hello",
			Usage: domain.Usage{PromptTokens: 1000, CompletionTokens: 500},
		},
	}}}
	r := newTestRunner(adapter)

	c := r.Complete(context.Background(), &Request{
		AgentID: "agent-1",
		Version: &domain.Version{Model: "stub-model"},
		Input:   &domain.AgentInput{Messages: []domain.Message{domain.UserMessage("hi")}},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	if len(c.Output.Messages) != 1 || c.Output.Messages[0].TextContent() != "hello" {
		t.Fatalf("messages = %+v", c.Output.Messages)
	}
	if len(c.Traces) != 1 {
		t.Fatalf("traces = %d, want 1", len(c.Traces))
	}
	if c.CostUSD == nil || !approx(*c.CostUSD, 0.002) {
		t.Errorf("cost = %v, want 0.002", c.CostUSD)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Error("missing id or created_at")
	}
}

func TestPromptTemplateRendering(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI}
	r := newTestRunner(adapter)

	version := &domain.Version{
		Model:  "stub-model",
		Prompt: []domain.Message{domain.SystemMessage("Help {{user.name}} with their question.")},
	}
	c := r.Complete(context.Background(), &Request{
		AgentID: "agent-1",
		Version: version,
		Input: &domain.AgentInput{
			Variables: map[string]any{"user": map[string]any{"name": "Ada"}},
			Messages:  []domain.Message{domain.UserMessage("hi")},
		},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	got := adapter.calls[0][0].TextContent()
	if got != "Help Ada with their question." {
		t.Errorf("rendered prompt = %q", got)
	}
}

func TestOutputSchemaCorrectiveRetry(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{
		{out: &providers.Output{Text: "sure, here you go!"}},
		{out: &providers.Output{Text: `{"city": "Paris"}`}},
	}}
	r := newTestRunner(adapter)

	version := &domain.Version{
		Model: "stub-model",
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
			"required":   []any{"city"},
		},
	}
	c := r.Complete(context.Background(), &Request{
		AgentID: "agent-1",
		Version: version,
		Input:   &domain.AgentInput{Messages: []domain.Message{domain.UserMessage("where?")}},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	obj := c.Output.Messages[0].Content[0].Object
	if obj == nil || obj["city"] != "Paris" {
		t.Fatalf("output object = %v", obj)
	}
	if len(adapter.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(adapter.calls))
	}

	// The retry must carry the failed response and a corrective user turn.
	retry := adapter.calls[1]
	n := len(retry)
	if retry[n-2].Role != domain.RoleAssistant ||
		retry[n-2].TextContent() != "sure, here you go!" {
		t.Errorf("retry[-2] = %+v", retry[n-2])
	}
	if retry[n-1].Role != domain.RoleUser ||
		!strings.Contains(retry[n-1].TextContent(), "invalid with error") ||
		!strings.HasSuffix(retry[n-1].TextContent(), "Please retry") {
		t.Errorf("retry[-1] = %+v", retry[n-1])
	}

	if len(c.Traces) != 2 {
		t.Fatalf("traces = %d, want 2", len(c.Traces))
	}
	if c.Traces[0].Error == nil || c.Traces[0].Error.Kind != "invalid_generation" {
		t.Errorf("first trace error = %+v", c.Traces[0].Error)
	}
	if !c.Traces[0].IncursCost {
		t.Error("an invalid generation still incurs cost")
	}
}

func TestHostedToolLoop(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{
		{out: &providers.Output{ToolCalls: []domain.ToolCallRequest{{
			ID: "call_1", Name: "@calculator",
			Input: map[string]any{"expression": "2+3"},
		}}}},
		{out: &providers.Output{Text: "The answer is 5."}},
	}}
	r := newTestRunner(adapter)

	version := &domain.Version{
		Model:        "stub-model",
		EnabledTools: []domain.Tool{{Name: "@calculator"}},
	}
	c := r.Complete(context.Background(), &Request{
		AgentID: "agent-1",
		Version: version,
		Input:   &domain.AgentInput{Messages: []domain.Message{domain.UserMessage("2+3?")}},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	if c.Output.Messages[0].TextContent() != "The answer is 5." {
		t.Fatalf("messages = %+v", c.Output.Messages)
	}
	if len(adapter.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(adapter.calls))
	}

	// The second call must carry the tool round: the call and its result.
	second := adapter.calls[1]
	var result *domain.ToolCallResult
	for _, m := range second {
		for _, p := range m.Content {
			if p.ToolResult != nil {
				result = p.ToolResult
			}
		}
	}
	if result == nil || result.ID != "call_1" {
		t.Fatalf("tool result missing: %+v", second)
	}
	payload, ok := result.Result.(map[string]any)
	if !ok || payload["result"] != 5.0 {
		t.Errorf("result = %v", result.Result)
	}
}

func TestToolCallIterationLimit(t *testing.T) {
	call := domain.ToolCallRequest{
		ID: "call_1", Name: "@calculator",
		Input: map[string]any{"expression": "1+1"},
	}
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{
		{out: &providers.Output{ToolCalls: []domain.ToolCallRequest{call}}},
		{out: &providers.Output{ToolCalls: []domain.ToolCallRequest{call}}},
		{out: &providers.Output{ToolCalls: []domain.ToolCallRequest{call}}},
	}}
	r := newTestRunner(adapter)
	r.MaxToolCallIterations = 2

	version := &domain.Version{
		Model:        "stub-model",
		EnabledTools: []domain.Tool{{Name: "@calculator"}},
	}
	c := r.Complete(context.Background(), &Request{AgentID: "a", Version: version})
	if c.Output.Error == nil || c.Output.Error.Kind != "max_tool_call_iteration" {
		t.Fatalf("error = %+v", c.Output.Error)
	}
	// Two tool rounds plus the final answer opportunity: limit+1 calls.
	if len(adapter.calls) != 3 {
		t.Errorf("calls = %d, want 3", len(adapter.calls))
	}
}

func TestExternalToolCallSurfaces(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{
		{out: &providers.Output{ToolCalls: []domain.ToolCallRequest{{
			ID: "call_1", Name: "get_weather",
			Input: map[string]any{"city": "Paris"},
		}}}},
	}}
	r := newTestRunner(adapter)

	version := &domain.Version{
		Model:        "stub-model",
		EnabledTools: []domain.Tool{{Name: "get_weather", InputSchema: map[string]any{"type": "object"}}},
	}
	c := r.Complete(context.Background(), &Request{AgentID: "a", Version: version})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("calls = %d, want 1 (external calls are not executed)", len(adapter.calls))
	}
	calls := c.Output.Messages[0].ToolCalls()
	if len(calls) != 1 || calls[0].Name != "get_weather" {
		t.Errorf("surfaced calls = %+v", calls)
	}
}

func TestStreamForwardsChunksAndSuppressesFinal(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, streamable: true, steps: []stubStep{
		{out: &providers.Output{Text: "hello"}},
	}}
	r := newTestRunner(adapter)

	var chunks []*providers.Chunk
	c := r.Stream(context.Background(), &Request{
		AgentID: "a",
		Version: &domain.Version{Model: "stub-model"},
	}, func(ch *providers.Chunk) { chunks = append(chunks, ch) })

	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	if len(chunks) != 1 || chunks[0].Delta != "hello" {
		t.Fatalf("chunks = %+v", chunks)
	}
	for _, ch := range chunks {
		if ch.Final != nil {
			t.Error("final frame must not be forwarded as a chunk")
		}
	}
	if c.Output.Messages[0].TextContent() != "hello" {
		t.Errorf("messages = %+v", c.Output.Messages)
	}
}

func TestStreamFallsBackToUnary(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, streamable: false, steps: []stubStep{
		{out: &providers.Output{Text: "hello"}},
	}}
	r := newTestRunner(adapter)

	var chunks []*providers.Chunk
	c := r.Stream(context.Background(), &Request{
		AgentID: "a",
		Version: &domain.Version{Model: "stub-model"},
	}, func(ch *providers.Chunk) { chunks = append(chunks, ch) })

	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks = %+v, want none on unary fallback", chunks)
	}
	if c.Output.Messages[0].TextContent() != "hello" {
		t.Errorf("messages = %+v", c.Output.Messages)
	}
}

func TestUnpriceableRunKeepsNullCost(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{{
		out: &providers.Output{
			Text:  "ok",
			Usage: domain.Usage{PromptTokens: 10, PromptImageCount: 2},
		},
	}}}
	r := newTestRunner(adapter)

	c := r.Complete(context.Background(), &Request{
		AgentID: "a",
		Version: &domain.Version{Model: "stub-model"},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	// The model prices no images, so the run cannot be priced.
	if c.CostUSD != nil {
		t.Errorf("cost = %v, want nil", *c.CostUSD)
	}
}

func TestURLFileInlinedForDownloadingAdapter(t *testing.T) {
	payload := "%PDF-1.4 fake document"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	adapter := &stubAdapter{name: domain.ProviderOpenAI, download: true}
	r := newTestRunner(adapter)

	c := r.Complete(context.Background(), &Request{
		AgentID: "a",
		Version: &domain.Version{Model: "stub-model"},
		Input: &domain.AgentInput{Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: []domain.Part{{File: &domain.File{URL: srv.URL}}},
		}}},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}

	var got *domain.File
	for _, m := range adapter.calls[0] {
		for _, p := range m.Content {
			if p.File != nil {
				got = p.File
			}
		}
	}
	if got == nil || !got.IsInline() {
		t.Fatalf("adapter did not receive an inline file: %+v", got)
	}
	data, err := got.Bytes()
	if err != nil || string(data) != payload {
		t.Errorf("file bytes = %q, %v", data, err)
	}
	if got.ContentType != "application/pdf" {
		t.Errorf("content type = %q", got.ContentType)
	}
}

func TestCorrectiveRetryMarksEmptyResponse(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{
		{out: &providers.Output{Text: ""}},
		{out: &providers.Output{Text: `{"city": "Paris"}`}},
	}}
	r := newTestRunner(adapter)

	version := &domain.Version{
		Model: "stub-model",
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
			"required":   []any{"city"},
		},
	}
	c := r.Complete(context.Background(), &Request{
		AgentID: "a",
		Version: version,
		Input:   &domain.AgentInput{Messages: []domain.Message{domain.UserMessage("where?")}},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	retry := adapter.calls[1]
	n := len(retry)
	if retry[n-2].Role != domain.RoleAssistant ||
		retry[n-2].TextContent() != "EMPTY MESSAGE" {
		t.Errorf("retry[-2] = %+v, want the EMPTY MESSAGE marker", retry[n-2])
	}
}

func TestStreamMaxTokensErrorStillPriced(t *testing.T) {
	perr := providers.NewError(providers.KindMaxTokensExceeded,
		domain.ProviderOpenAI, "stub-model",
		"generation stopped at the model's output token limit")
	perr.IncursCost = true
	perr.PartialOutput = "truncated answ"
	perr.Usage = &domain.Usage{PromptTokens: 1000, CompletionTokens: 500}

	adapter := &stubAdapter{name: domain.ProviderOpenAI, streamable: true,
		steps: []stubStep{{err: perr}}}
	r := newTestRunner(adapter)

	c := r.Stream(context.Background(), &Request{
		AgentID: "a",
		Version: &domain.Version{Model: "stub-model"},
	}, func(*providers.Chunk) {})

	if c.Output.Error == nil || c.Output.Error.Kind != "max_tokens_exceeded" {
		t.Fatalf("error = %+v", c.Output.Error)
	}
	if len(c.Traces) != 1 || c.Traces[0].Usage == nil {
		t.Fatalf("traces = %+v, want one trace carrying the final usage frame", c.Traces)
	}
	if !c.Traces[0].IncursCost {
		t.Error("a max-tokens failure still incurs cost")
	}
	if c.CostUSD == nil || !approx(*c.CostUSD, 0.002) {
		t.Errorf("cost = %v, want 0.002 from the final usage frame", c.CostUSD)
	}
}

func TestFinalizeCostIdempotent(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{{
		out: &providers.Output{
			Text:  "hello",
			Usage: domain.Usage{PromptTokens: 1000, CompletionTokens: 500},
		},
	}}}
	r := newTestRunner(adapter)

	c := r.Complete(context.Background(), &Request{
		AgentID: "a",
		Version: &domain.Version{Model: "stub-model"},
	})
	if c.CostUSD == nil {
		t.Fatal("first pricing pass yielded no cost")
	}
	first := *c.CostUSD

	r.finalizeCost(context.Background(), c)
	if c.CostUSD == nil || !approx(*c.CostUSD, first) {
		t.Errorf("cost after second pass = %v, want %v", c.CostUSD, first)
	}
}

func TestCompleteWithTracerInstalled(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{{
		out: &providers.Output{Text: "hello"},
	}}}
	r := newTestRunner(adapter)
	r.Tracer = observability.NewTracer()

	c := r.Complete(context.Background(), &Request{
		AgentID: "a",
		Version: &domain.Version{Model: "stub-model"},
		Input:   &domain.AgentInput{Messages: []domain.Message{domain.UserMessage("hi")}},
	})
	if c.Output.Error != nil {
		t.Fatalf("error: %+v", c.Output.Error)
	}
	if c.Output.Messages[0].TextContent() != "hello" {
		t.Errorf("messages = %+v", c.Output.Messages)
	}
}

func TestSchemaInstructionAppendedOnce(t *testing.T) {
	version := &domain.Version{
		Model:        "stub-model",
		OutputSchema: map[string]any{"type": "object"},
	}
	messages := PrepareMessages(version, &domain.AgentInput{
		Messages: []domain.Message{domain.UserMessage("hi")},
	})
	last := messages[len(messages)-1]
	if last.Role != domain.RoleSystem || !strings.Contains(last.TextContent(), "JSON schema") {
		t.Fatalf("missing schema instruction: %+v", messages)
	}

	// A prompt that already instructs about the schema suppresses it.
	version.Prompt = []domain.Message{domain.SystemMessage("Answer following this JSON schema: {}")}
	messages = PrepareMessages(version, &domain.AgentInput{
		Messages: []domain.Message{domain.UserMessage("hi")},
	})
	if len(messages) != 2 {
		t.Errorf("messages = %+v, want prompt + input only", messages)
	}
}
