package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anotherai-dev/anotherai-sub001/internal/deployments"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
	"github.com/anotherai-dev/anotherai-sub001/internal/runner"
	"github.com/anotherai-dev/anotherai-sub001/internal/storage"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := req.rejectUnsupported(); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	tgt, err := parseTarget(&req, s.Catalog)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	input, err := req.toInput()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	agentID := tgt.AgentID
	var version *domain.Version
	if tgt.DeploymentID != "" {
		var callerSchema map[string]any
		if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_schema" &&
			req.ResponseFormat.JSONSchema != nil {
			callerSchema = req.ResponseFormat.JSONSchema.Schema
		}
		d, v, err := s.Deployments.Resolve(ctx, tgt.DeploymentID, input.Variables, callerSchema)
		if err != nil {
			var cerr *deployments.CompatibilityError
			if errors.Is(err, storage.ErrNotFound) || errors.As(err, &cerr) {
				writeDomainError(w, err)
			} else {
				// Variable validation and similar caller mistakes.
				writeBadRequest(w, err.Error())
			}
			return
		}
		version = v
		if agentID == "" {
			agentID = d.AgentID
		}
	} else {
		version, err = req.toVersion(tgt.Model)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}
	agentID = orDefault(agentID)

	if err := s.Stores.Versions.Save(ctx, agentID, version); err != nil {
		s.Logger.ErrorContext(ctx, "save version",
			slog.String("agent_id", agentID), slog.Any("error", err))
	}

	runReq := &runner.Request{
		AgentID:        agentID,
		Version:        version,
		Input:          input,
		Metadata:       req.Metadata,
		ConversationID: req.ConversationID,
	}
	if req.Stream {
		s.streamChat(w, r, runReq)
		return
	}

	completion, cached, err := s.completeMaybeCached(ctx, runReq, domain.CachePolicy(req.UseCache))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if completion.Output.Error != nil {
		writeCompletionError(w, completion.Output.Error)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(completion, cached))
}

// completeMaybeCached runs the completion, optionally through the
// single-flight completion cache.
func (s *Server) completeMaybeCached(ctx context.Context, req *runner.Request, policy domain.CachePolicy) (*domain.Completion, bool, error) {
	run := func(ctx context.Context) (*domain.Completion, error) {
		c := s.Runner.Complete(ctx, req)
		s.saveCompletion(ctx, c)
		return c, nil
	}
	if policy == "" || s.Cache == nil {
		c, _ := run(ctx)
		return c, false, nil
	}
	temperature := 0.0
	if req.Version.Temperature != nil {
		temperature = *req.Version.Temperature
	}
	ran := false
	c, err := s.Cache.Run(ctx, req.AgentID, req.Version.ID(), req.Input.ID(),
		policy, temperature, len(req.Version.EnabledTools) > 0,
		func(ctx context.Context) (*domain.Completion, error) {
			ran = true
			return run(ctx)
		})
	if err != nil {
		return nil, false, err
	}
	return c, !ran, nil
}

func (s *Server) saveCompletion(ctx context.Context, c *domain.Completion) {
	if err := s.Stores.Completions.Save(ctx, c); err != nil {
		s.Logger.ErrorContext(ctx, "save completion",
			slog.String("completion_id", c.ID), slog.Any("error", err))
	}
	s.Metrics.RecordCompletion(c)
}

// streamChat serves the request over SSE. Intermediate frames carry deltas;
// the last data frame carries the finish reason, usage, and cost, followed by
// the [DONE] sentinel. Cache policies do not apply to streams.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *runner.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError,
			string(providers.KindInternalError), "streaming unsupported by connection", nil)
		return
	}
	req.CompletionID = domain.NewCompletionID()
	created := time.Now().Unix()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	first := true
	frame := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	emit := func(chunk *providers.Chunk) {
		delta := &responseOutput{Reasoning: chunk.ReasoningDelta}
		if first {
			delta.Role = "assistant"
			first = false
		}
		if chunk.Delta != "" {
			d := chunk.Delta
			delta.Content = &d
		}
		frame(&chatResponse{
			ID:      req.CompletionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Version.Model,
			Choices: []chatChoice{{Delta: delta}},
		})
	}

	completion := s.Runner.Stream(r.Context(), req, emit)
	s.saveCompletion(context.WithoutCancel(r.Context()), completion)

	if completion.Output.Error != nil {
		frame(errorBody{Error: errorDetail{
			Message: completion.Output.Error.Message,
			Type:    completion.Output.Error.Kind,
			Details: completion.Output.Error.Details,
		}})
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}

	final := toChatResponse(completion, false)
	final.Object = "chat.completion.chunk"
	for i := range final.Choices {
		// Chunk frames carry deltas, not messages. Tool calls arrive whole in
		// the final frame; so does the text when the adapter fell back to a
		// unary call and nothing was streamed.
		msg := final.Choices[i].Message
		final.Choices[i].Message = nil
		delta := &responseOutput{ToolCalls: msg.ToolCalls}
		if first {
			delta.Role = "assistant"
			delta.Content = msg.Content
			delta.Reasoning = msg.Reasoning
		}
		final.Choices[i].Delta = delta
	}
	frame(final)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
