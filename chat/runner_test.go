package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/llm"
	"github.com/amparo-app/engine/stream"
)

// fakeStream replays a fixed event sequence.
type fakeStream struct {
	events []llm.StreamEvent
	pos    int
	err    error
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Event() *llm.StreamEvent { return &s.events[s.pos-1] }
func (s *fakeStream) Err() error              { return s.err }
func (s *fakeStream) Close() error            { s.closed = true; return nil }

// fakeClient hands out one stream per call and records the requests it saw.
type fakeClient struct {
	streams  []*fakeStream
	requests []*llm.Request
}

func (c *fakeClient) Stream(_ context.Context, req *llm.Request) (llm.Stream, error) {
	c.requests = append(c.requests, req)
	if len(c.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	s := c.streams[0]
	c.streams = c.streams[1:]
	return s, nil
}

type fakeRecorder struct {
	text      strings.Builder
	reasoning strings.Builder
	completed bool
	failed    bool
	meta      stream.CompletionMeta
	cause     error
}

func (r *fakeRecorder) AppendText(_ context.Context, delta string) error {
	r.text.WriteString(delta)
	return nil
}

func (r *fakeRecorder) AppendReasoning(_ context.Context, delta string) error {
	r.reasoning.WriteString(delta)
	return nil
}

func (r *fakeRecorder) Complete(_ context.Context, meta stream.CompletionMeta) error {
	r.completed = true
	r.meta = meta
	return nil
}

func (r *fakeRecorder) Fail(_ context.Context, meta stream.CompletionMeta, cause error) error {
	r.failed = true
	r.meta = meta
	r.cause = cause
	return nil
}

type fakeDispatcher struct {
	calls   []string
	args    []string
	result  any
	callErr error
}

func (d *fakeDispatcher) Handle(_ context.Context, toolName, _ string, args []byte) (any, error) {
	d.calls = append(d.calls, toolName)
	d.args = append(d.args, string(args))
	if d.callErr != nil {
		return nil, d.callErr
	}
	return d.result, nil
}

func (d *fakeDispatcher) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: "widget_search", Schema: map[string]any{"type": "object"}}}
}

func textDelta(text string) llm.StreamEvent {
	return llm.StreamEvent{
		Type:  llm.StreamEventTypeDelta,
		Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: text},
	}
}

func reasoningDelta(text string) llm.StreamEvent {
	return llm.StreamEvent{
		Type:  llm.StreamEventTypeDelta,
		Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeReasoning, Text: text},
	}
}

func doneEvent() llm.StreamEvent {
	return llm.StreamEvent{Type: llm.StreamEventTypeDone}
}

func TestRunTextOnlyTurn(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		{events: []llm.StreamEvent{textDelta("Hello "), textDelta("there."), doneEvent()}},
	}}
	rec := &fakeRecorder{}
	runner := NewRunner(client, nil, zerolog.Nop())

	req := &llm.Request{Model: "test-model", Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}}
	text, err := runner.Run(context.Background(), "conv-1", req, rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if text != "Hello there." {
		t.Errorf("unexpected final text: %q", text)
	}
	if rec.text.String() != "Hello there." {
		t.Errorf("recorder saw %q", rec.text.String())
	}
	if !rec.completed || rec.failed {
		t.Error("expected Complete, not Fail")
	}
	if rec.meta.Model != "test-model" || rec.meta.ToolCalls != 0 {
		t.Errorf("unexpected meta: %+v", rec.meta)
	}
}

func TestRunDispatchesToolsAndContinues(t *testing.T) {
	toolUse := llm.StreamEvent{
		Type: llm.StreamEventTypeDelta,
		Delta: &llm.StreamDelta{
			Type: llm.StreamDeltaTypeToolUse,
			ToolUse: &llm.ToolUseBlock{
				ID:    "call-1",
				Name:  "widget_search",
				Input: map[string]any{"query": "groceries"},
			},
		},
	}
	client := &fakeClient{streams: []*fakeStream{
		{events: []llm.StreamEvent{toolUse, doneEvent()}},
		{events: []llm.StreamEvent{textDelta("Found it."), doneEvent()}},
	}}
	dispatcher := &fakeDispatcher{result: map[string]any{"count": 1}}
	rec := &fakeRecorder{}
	runner := NewRunner(client, dispatcher, zerolog.Nop())

	req := &llm.Request{Model: "test-model", Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "find my list")}}
	text, err := runner.Run(context.Background(), "conv-1", req, rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if text != "Found it." {
		t.Errorf("unexpected final text: %q", text)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != "widget_search" {
		t.Fatalf("unexpected dispatch calls: %v", dispatcher.calls)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(dispatcher.args[0]), &args); err != nil {
		t.Fatalf("bad args json: %v", err)
	}
	if args["query"] != "groceries" {
		t.Errorf("unexpected args: %v", args)
	}
	if rec.meta.ToolCalls != 1 {
		t.Errorf("expected 1 tool call in meta, got %d", rec.meta.ToolCalls)
	}

	// The second request must carry the tool use and its result.
	second := client.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("expected 3 messages on second pass, got %d", len(second.Messages))
	}
	toolResult := second.Messages[2].Content[0].ToolResult
	if toolResult == nil || toolResult.IsError {
		t.Fatalf("expected successful tool result, got %+v", toolResult)
	}
	if !strings.Contains(toolResult.Content, `"count":1`) {
		t.Errorf("tool result content: %q", toolResult.Content)
	}
}

func TestRunToolErrorIsFedBackNotFatal(t *testing.T) {
	toolUse := llm.StreamEvent{
		Type: llm.StreamEventTypeDelta,
		Delta: &llm.StreamDelta{
			Type:    llm.StreamDeltaTypeToolUse,
			ToolUse: &llm.ToolUseBlock{ID: "call-1", Name: "widget_search", Input: map[string]any{}},
		},
	}
	client := &fakeClient{streams: []*fakeStream{
		{events: []llm.StreamEvent{toolUse, doneEvent()}},
		{events: []llm.StreamEvent{textDelta("Sorry, search is unavailable."), doneEvent()}},
	}}
	dispatcher := &fakeDispatcher{callErr: errors.New("db locked")}
	rec := &fakeRecorder{}
	runner := NewRunner(client, dispatcher, zerolog.Nop())

	req := &llm.Request{Model: "test-model", Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "search")}}
	if _, err := runner.Run(context.Background(), "conv-1", req, rec); err != nil {
		t.Fatalf("tool error should not abort the turn: %v", err)
	}

	toolResult := client.requests[1].Messages[2].Content[0].ToolResult
	if toolResult == nil || !toolResult.IsError {
		t.Fatalf("expected error tool result, got %+v", toolResult)
	}
	if !strings.Contains(toolResult.Content, "db locked") {
		t.Errorf("tool result content: %q", toolResult.Content)
	}
}

func TestRunStreamFailureFailsRecorder(t *testing.T) {
	cause := errors.New("connection reset")
	client := &fakeClient{streams: []*fakeStream{
		{events: []llm.StreamEvent{textDelta("partial")}, err: cause},
	}}
	rec := &fakeRecorder{}
	runner := NewRunner(client, nil, zerolog.Nop())

	req := &llm.Request{Model: "test-model", Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}}
	_, err := runner.Run(context.Background(), "conv-1", req, rec)
	if !errors.Is(err, cause) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if !rec.failed || rec.completed {
		t.Error("expected Fail, not Complete")
	}
	if !errors.Is(rec.cause, cause) {
		t.Errorf("recorder cause: %v", rec.cause)
	}
	if rec.text.String() != "partial" {
		t.Errorf("partial text should still have been recorded: %q", rec.text.String())
	}
}

func TestRunEmptyResponseFails(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		{events: []llm.StreamEvent{doneEvent()}},
	}}
	rec := &fakeRecorder{}
	runner := NewRunner(client, nil, zerolog.Nop())

	req := &llm.Request{Model: "test-model", Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}}
	if _, err := runner.Run(context.Background(), "conv-1", req, rec); err == nil {
		t.Fatal("expected error for empty response")
	}
	if !rec.failed {
		t.Error("expected recorder to be failed")
	}
}

func TestRunTracksThinkingTime(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		{events: []llm.StreamEvent{
			reasoningDelta("considering "),
			reasoningDelta("options"),
			textDelta("Done."),
			doneEvent(),
		}},
	}}
	rec := &fakeRecorder{}
	runner := NewRunner(client, nil, zerolog.Nop())

	clock := time.Unix(1000, 0)
	runner.now = func() time.Time {
		clock = clock.Add(250 * time.Millisecond)
		return clock
	}

	req := &llm.Request{Model: "test-model", Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}}
	if _, err := runner.Run(context.Background(), "conv-1", req, rec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.reasoning.String() != "considering options" {
		t.Errorf("reasoning channel saw %q", rec.reasoning.String())
	}
	if rec.meta.ThinkingMS <= 0 {
		t.Errorf("expected positive thinking time, got %d", rec.meta.ThinkingMS)
	}
}

func TestRunFillsToolSpecsFromDispatcher(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		{events: []llm.StreamEvent{textDelta("ok"), doneEvent()}},
	}}
	dispatcher := &fakeDispatcher{}
	runner := NewRunner(client, dispatcher, zerolog.Nop())

	req := &llm.Request{Model: "test-model", Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}}
	if _, err := runner.Run(context.Background(), "conv-1", req, &fakeRecorder{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(client.requests[0].Tools) != 1 || client.requests[0].Tools[0].Name != "widget_search" {
		t.Errorf("tool specs not propagated: %+v", client.requests[0].Tools)
	}
}
