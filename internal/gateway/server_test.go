package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/deployments"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/observability"
	"github.com/anotherai-dev/anotherai-sub001/internal/pipeline"
	"github.com/anotherai-dev/anotherai-sub001/internal/playground"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
	"github.com/anotherai-dev/anotherai-sub001/internal/runner"
	"github.com/anotherai-dev/anotherai-sub001/internal/storage"
)

type stubStep struct {
	out *providers.Output
	err *providers.Error
}

type stubAdapter struct {
	name       domain.Provider
	steps      []stubStep
	calls      int
	streamable bool
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
func (s *stubAdapter) RequiresDownloadingFile(*domain.File, string) bool { return false }
func (s *stubAdapter) IsStreamable(string, []domain.Tool) bool           { return s.streamable }
func (s *stubAdapter) SanitizeModelData(*catalog.ModelData)              {}
func (s *stubAdapter) CheckValid(context.Context) bool                   { return true }

func (s *stubAdapter) next() stubStep {
	s.calls++
	if len(s.steps) == 0 {
		return stubStep{out: &providers.Output{Text: "hello"}}
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st
}

func (s *stubAdapter) Complete(context.Context, []domain.Message, *providers.Options) (*providers.Output, error) {
	st := s.next()
	if st.err != nil {
		return nil, st.err
	}
	return st.out, nil
}

func (s *stubAdapter) Stream(context.Context, []domain.Message, *providers.Options) (<-chan *providers.Chunk, error) {
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
		ID:          "stub-model",
		DisplayName: "Stub Model",
		MaxTokens:   catalog.MaxTokensData{ContextWindow: 128000, MaxOutputTokens: 4096},
		Supports:    catalog.Supports{SystemMessages: true, Temperature: true, ToolCalling: true},
		Pricing:     catalog.Pricing{PromptPerToken: 1e-6, CompletionPerToken: 2e-6},
		Providers:   []catalog.ProviderEntry{{Provider: domain.ProviderOpenAI}},
	}})
}

func newTestServer(t *testing.T, adapter providers.Adapter) (*Server, http.Handler) {
	t.Helper()
	stores, err := storage.NewSQLiteStores(":memory:", storage.DefaultSQLiteConfig())
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	logger := slog.Default()
	reg := providers.NewRegistry(context.Background(), nil, logger)
	reg.Register(adapter)
	models := testModels()
	run := runner.New(pipeline.New(reg, models), logger)

	pg := playground.New(run, stores, logger)
	pg.PollInterval = 5 * time.Millisecond
	dep := deployments.New(stores.Versions, stores.Deployments)

	promReg := prometheus.NewRegistry()
	srv := New(run, pg, dep, stores, models, observability.NewMetrics(promReg), logger)
	srv.Gatherer = promReg
	return srv, srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestChatCompletionsUnary(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{{
		out: &providers.Output{
			Text:  "hello",
			Usage: domain.Usage{PromptTokens: 100, CompletionTokens: 20},
		},
	}}}
	_, h := newTestServer(t, adapter)

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "stub-model",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[chatResponse](t, rec)
	if resp.Object != "chat.completion" || resp.ID == "" {
		t.Errorf("envelope = %+v", resp)
	}
	if resp.VersionID == "" {
		t.Error("version_id missing")
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message == nil ||
		resp.Choices[0].Message.Content == nil || *resp.Choices[0].Message.Content != "hello" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 120 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Extra == nil || resp.Extra.CostUSD == nil {
		t.Fatalf("extension block = %+v", resp.Extra)
	}

	// The completion is persisted and retrievable.
	got := doJSON(t, h, http.MethodGet, "/v1/completions/"+resp.ID, nil)
	if got.Code != http.StatusOK {
		t.Errorf("get completion = %d", got.Code)
	}
}

func TestChatCompletionsRejectsUnsupportedFields(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})
	cases := []map[string]any{
		{"model": "stub-model", "messages": []map[string]any{{"role": "user", "content": "x"}}, "n": 2},
		{"model": "stub-model", "messages": []map[string]any{{"role": "user", "content": "x"}}, "logit_bias": map[string]any{"50256": -100}},
		{"model": "stub-model", "messages": []map[string]any{{"role": "user", "content": "x"}}, "functions": []map[string]any{{"name": "f"}}},
		{"model": "stub-model", "messages": []map[string]any{{"role": "user", "content": "x"}}, "function_call": "auto"},
	}
	for i, body := range cases {
		rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d body = %s", i, rec.Code, rec.Body.String())
		}
	}
}

func TestChatCompletionsLegacyModelFormRejected(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})
	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "support-bot/#schema-1/production",
		"messages": []map[string]any{{"role": "user", "content": "x"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if !strings.Contains(body.Error.Message, "anotherai/deployment/") {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestChatAgentModelSplit(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})
	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "support-bot/stub-model",
		"messages": []map[string]any{{"role": "user", "content": "x"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[chatResponse](t, rec)
	if resp.Model != "stub-model" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.Extra == nil || resp.Extra.AgentID != "support-bot" {
		t.Errorf("agent id = %+v", resp.Extra)
	}
}

func TestChatCompletionErrorStatus(t *testing.T) {
	limited := providers.NewError(providers.KindRateLimit, domain.ProviderOpenAI, "stub-model", "slow down")
	adapter := &stubAdapter{name: domain.ProviderOpenAI, steps: []stubStep{
		{err: limited}, {err: limited}, {err: limited},
	}}
	_, h := newTestServer(t, adapter)

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "stub-model",
		"messages": []map[string]any{{"role": "user", "content": "x"}},
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decode[errorBody](t, rec)
	if body.Error.Type != string(providers.KindRateLimit) {
		t.Errorf("type = %q", body.Error.Type)
	}
}

func TestChatUseCacheAlways(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI}
	_, h := newTestServer(t, adapter)

	body := map[string]any{
		"model":     "stub-model",
		"messages":  []map[string]any{{"role": "user", "content": "same question"}},
		"use_cache": "always",
	}
	first := doJSON(t, h, http.MethodPost, "/v1/chat/completions", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first = %d", first.Code)
	}
	second := doJSON(t, h, http.MethodPost, "/v1/chat/completions", body)
	if second.Code != http.StatusOK {
		t.Fatalf("second = %d", second.Code)
	}
	if adapter.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", adapter.calls)
	}
	resp := decode[chatResponse](t, second)
	if resp.Extra == nil || !resp.Extra.Cached {
		t.Errorf("second response not marked cached: %+v", resp.Extra)
	}
	firstResp := decode[chatResponse](t, first)
	if firstResp.ID != resp.ID {
		t.Errorf("cached response id %q != original %q", resp.ID, firstResp.ID)
	}
}

func TestChatStreamSSE(t *testing.T) {
	adapter := &stubAdapter{name: domain.ProviderOpenAI, streamable: true, steps: []stubStep{{
		out: &providers.Output{
			Text:  "streamed",
			Usage: domain.Usage{PromptTokens: 10, CompletionTokens: 5},
		},
	}}}
	_, h := newTestServer(t, adapter)

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "stub-model",
		"messages": []map[string]any{{"role": "user", "content": "x"}},
		"stream":   true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("missing DONE sentinel: %q", body)
	}

	var frames []chatResponse
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var f chatResponse
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			t.Fatalf("frame %q: %v", payload, err)
		}
		frames = append(frames, f)
	}
	if len(frames) < 2 {
		t.Fatalf("frames = %d, want at least delta + final", len(frames))
	}
	delta := frames[0].Choices[0].Delta
	if delta == nil || delta.Role != "assistant" || delta.Content == nil || *delta.Content != "streamed" {
		t.Errorf("first delta = %+v", delta)
	}
	final := frames[len(frames)-1]
	if final.Choices[0].FinishReason == nil || *final.Choices[0].FinishReason != "stop" {
		t.Errorf("final frame = %+v", final.Choices[0])
	}
	if final.Usage == nil || final.Usage.TotalTokens != 15 {
		t.Errorf("final usage = %+v", final.Usage)
	}
	for _, f := range frames {
		if f.ID != frames[0].ID {
			t.Errorf("frame ids differ: %q vs %q", f.ID, frames[0].ID)
		}
	}
}

func TestListModels(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})
	rec := doJSON(t, h, http.MethodGet, "/v1/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "list" || len(resp.Data) != 1 || resp.Data[0].ID != "stub-model" {
		t.Errorf("models = %+v", resp)
	}
	if resp.Data[0].OwnedBy != "openai" {
		t.Errorf("owned_by = %q", resp.Data[0].OwnedBy)
	}
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
