package providers

import (
	"encoding/json"
	"strings"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/jsonstream"
)

// Delta is one normalized streaming event extracted by an adapter from the
// vendor's SSE framing.
type Delta struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCallDelta
	Usage        *domain.Usage
	FinishReason string
}

// ToolCallDelta is a fragment of a streamed tool call: the id and name
// arrive once, the arguments accumulate as JSON fragments keyed by index.
type ToolCallDelta struct {
	ID        string
	Index     int
	Name      string
	Arguments string
}

type pendingCall struct {
	id    string
	name  string
	args  strings.Builder
	final *domain.ToolCallRequest
}

// StreamingContext aggregates adapter deltas into chunks and the final
// output. It is owned by a single streaming goroutine.
type StreamingContext struct {
	parser    *jsonstream.Parser
	text      strings.Builder
	reasoning strings.Builder
	usage     domain.Usage
	finish    string

	calls     map[int]*pendingCall
	callOrder []int

	// raw keeps the full completion text for error recovery.
	raw strings.Builder
}

// NewStreamingContext builds a context. When an output schema is present
// the text stream is fed through the tolerant JSON parser and chunks carry
// keypath updates.
func NewStreamingContext(opts *Options) *StreamingContext {
	sc := &StreamingContext{calls: make(map[int]*pendingCall)}
	if opts != nil && opts.OutputSchema != nil {
		sc.parser = jsonstream.NewParser()
	}
	return sc
}

// Feed consumes one delta and returns the chunk to emit, or nil when the
// delta produced nothing observable.
func (sc *StreamingContext) Feed(d Delta) *Chunk {
	chunk := &Chunk{Delta: d.Text, ReasoningDelta: d.Reasoning}
	observable := false

	if d.Text != "" {
		sc.text.WriteString(d.Text)
		sc.raw.WriteString(d.Text)
		observable = true
		if sc.parser != nil {
			for _, u := range sc.parser.Write(d.Text) {
				chunk.Updates = append(chunk.Updates, StreamUpdate{Keypath: u.Keypath, Value: u.Value})
			}
		}
	}
	if d.Reasoning != "" {
		sc.reasoning.WriteString(d.Reasoning)
		observable = true
	}
	for _, tc := range d.ToolCalls {
		sc.feedToolCall(tc)
		observable = true
	}
	if d.Usage != nil {
		sc.usage = *d.Usage
	}
	if d.FinishReason != "" {
		sc.finish = d.FinishReason
	}
	if !observable {
		return nil
	}

	if sc.parser != nil {
		chunk.Partial = sc.parser.Current()
	} else {
		chunk.Partial = sc.text.String()
	}
	return chunk
}

func (sc *StreamingContext) feedToolCall(tc ToolCallDelta) {
	pc := sc.calls[tc.Index]
	if pc == nil {
		pc = &pendingCall{}
		sc.calls[tc.Index] = pc
		sc.callOrder = append(sc.callOrder, tc.Index)
	}
	if tc.ID != "" {
		pc.id = tc.ID
	}
	if tc.Name != "" {
		pc.name = tc.Name
	}
	if tc.Arguments != "" {
		pc.args.WriteString(tc.Arguments)
	}
	// A call is final once id, name, and parseable arguments are all
	// present; later fragments for the same index reopen it.
	pc.final = nil
	if pc.id != "" && pc.name != "" {
		var input map[string]any
		raw := pc.args.String()
		if raw == "" {
			raw = "{}"
		}
		if err := json.Unmarshal([]byte(raw), &input); err == nil {
			idx := tc.Index
			pc.final = &domain.ToolCallRequest{ID: pc.id, Name: pc.name, Input: input, Index: &idx}
		}
	}
}

// FinishReason returns the upstream finish reason seen so far.
func (sc *StreamingContext) FinishReason() string { return sc.finish }

// RawText returns the accumulated completion text, for error recovery.
func (sc *StreamingContext) RawText() string { return sc.raw.String() }

// Finalize closes the stream and builds the complete output. A "length"
// finish reason surfaces as max_tokens_exceeded; usage collected from the
// final frame is preserved on the error for cost computation.
func (sc *StreamingContext) Finalize(provider domain.Provider, model string) (*Output, *Error) {
	if sc.parser != nil {
		sc.parser.Finish()
	}
	out := &Output{
		Text:         sc.text.String(),
		Reasoning:    sc.reasoning.String(),
		Usage:        sc.usage,
		FinishReason: sc.finish,
	}
	for _, idx := range sc.callOrder {
		if pc := sc.calls[idx]; pc.final != nil {
			out.ToolCalls = append(out.ToolCalls, *pc.final)
		}
	}
	if sc.finish == "length" || sc.finish == "max_tokens" {
		err := NewError(KindMaxTokensExceeded, provider, model,
			"generation stopped at the model's output token limit")
		err.IncursCost = true
		err.PartialOutput = sc.RawText()
		usage := sc.usage
		err.Usage = &usage
		return out, err
	}
	return out, nil
}
