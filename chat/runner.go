// Package chat drives a single streamed assistant turn: it pumps provider
// events into the transcript recorder, dispatches tool calls, and feeds tool
// results back to the model until the turn settles.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/amparo-app/engine/llm"
	"github.com/amparo-app/engine/stream"
)

// maxIterations bounds the tool execution loop.
const maxIterations = 8

// ToolDispatcher executes a named tool call. Satisfied by tools.Registry.
type ToolDispatcher interface {
	Handle(ctx context.Context, toolName, conversationID string, args []byte) (any, error)
	Specs() []llm.ToolSpec
}

// TranscriptRecorder receives the streamed output. Satisfied by
// stream.Recorder.
type TranscriptRecorder interface {
	AppendText(ctx context.Context, delta string) error
	AppendReasoning(ctx context.Context, delta string) error
	Complete(ctx context.Context, meta stream.CompletionMeta) error
	Fail(ctx context.Context, meta stream.CompletionMeta, cause error) error
}

// Runner executes assistant turns against an llm.Client.
type Runner struct {
	client llm.Client
	tools  ToolDispatcher
	logger zerolog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner. tools may be nil for tool-less turns.
func NewRunner(client llm.Client, tools ToolDispatcher, logger zerolog.Logger) *Runner {
	return &Runner{
		client: client,
		tools:  tools,
		logger: logger.With().Str("component", "chat_runner").Logger(),
		now:    time.Now,
	}
}

// turnState accumulates what one stream pass produced.
type turnState struct {
	text          strings.Builder
	toolUses      []llm.ToolUseBlock
	usage         *llm.Usage
	thinkingStart time.Time
	thinkingMS    int64
}

// Run executes one assistant turn. Text and reasoning deltas are forwarded to
// the recorder as they arrive; tool calls are dispatched and their results
// appended to the request history for the next pass. The recorder is always
// finalized, via Complete on success or Fail on error.
func (r *Runner) Run(ctx context.Context, conversationID string, req *llm.Request, rec TranscriptRecorder) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is required")
	}
	if len(req.Tools) == 0 && r.tools != nil {
		req.Tools = r.tools.Specs()
	}

	history := req.Messages
	meta := stream.CompletionMeta{Model: req.Model}
	totalToolCalls := 0
	var totalThinkingMS int64

	fail := func(err error) (string, error) {
		meta.ThinkingMS = totalThinkingMS
		meta.ToolCalls = totalToolCalls
		if failErr := rec.Fail(ctx, meta, err); failErr != nil {
			r.logger.Error().Err(failErr).Msg("failed to finalize interrupted message")
		}
		return "", err
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		currentReq := &llm.Request{
			Model:       req.Model,
			System:      req.System,
			Messages:    history,
			Tools:       req.Tools,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		}

		r.logger.Debug().
			Str("conversation_id", conversationID).
			Int("iteration", iteration).
			Int("messages", len(history)).
			Int("tools", len(currentReq.Tools)).
			Msg("Calling LLM stream")

		s, err := r.client.Stream(ctx, currentReq)
		if err != nil {
			return fail(err)
		}

		state, err := r.consume(ctx, s, rec)
		if err != nil {
			return fail(err)
		}
		totalThinkingMS += state.thinkingMS
		if state.usage != nil {
			r.logger.Debug().
				Int64("input_tokens", state.usage.InputTokens).
				Int64("output_tokens", state.usage.OutputTokens).
				Msg("Stream pass usage")
		}

		if len(state.toolUses) == 0 {
			text := strings.TrimSpace(state.text.String())
			if text == "" {
				return fail(fmt.Errorf("received empty response from LLM"))
			}
			meta.ThinkingMS = totalThinkingMS
			meta.ToolCalls = totalToolCalls
			if err := rec.Complete(ctx, meta); err != nil {
				return "", fmt.Errorf("failed to complete message: %w", err)
			}
			return text, nil
		}

		totalToolCalls += len(state.toolUses)
		results := make([]llm.ToolResultBlock, 0, len(state.toolUses))
		for _, tu := range state.toolUses {
			results = append(results, r.executeTool(ctx, conversationID, tu))
		}

		history = append(history,
			llm.NewToolUseMessage(state.toolUses),
			llm.NewToolResultMessage(results),
		)
	}

	return fail(fmt.Errorf("tool loop exceeded maximum iterations (%d)", maxIterations))
}

func (r *Runner) consume(ctx context.Context, s llm.Stream, rec TranscriptRecorder) (*turnState, error) {
	defer func() { _ = s.Close() }()

	state := &turnState{}
	for s.Next() {
		event := s.Event()
		if event == nil {
			continue
		}

		switch event.Type {
		case llm.StreamEventTypeDelta:
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case llm.StreamDeltaTypeText:
				if event.Delta.Text == "" {
					continue
				}
				state.text.WriteString(event.Delta.Text)
				if err := rec.AppendText(ctx, event.Delta.Text); err != nil {
					return nil, fmt.Errorf("failed to record text delta: %w", err)
				}
			case llm.StreamDeltaTypeReasoning:
				if event.Delta.Text == "" {
					continue
				}
				if state.thinkingStart.IsZero() {
					state.thinkingStart = r.now()
				}
				state.thinkingMS = r.now().Sub(state.thinkingStart).Milliseconds()
				if err := rec.AppendReasoning(ctx, event.Delta.Text); err != nil {
					return nil, fmt.Errorf("failed to record reasoning delta: %w", err)
				}
			case llm.StreamDeltaTypeToolUse:
				if event.Delta.ToolUse != nil {
					state.toolUses = append(state.toolUses, *event.Delta.ToolUse)
				}
			}
		case llm.StreamEventTypeUsage:
			if event.Usage != nil {
				state.usage = event.Usage
			}
		}
	}

	if err := s.Err(); err != nil {
		return nil, err
	}
	return state, nil
}

func (r *Runner) executeTool(ctx context.Context, conversationID string, tu llm.ToolUseBlock) llm.ToolResultBlock {
	if r.tools == nil {
		return llm.ToolResultBlock{ID: tu.ID, Content: "no tools available", IsError: true}
	}

	args, err := json.Marshal(tu.Input)
	if err != nil {
		return llm.ToolResultBlock{ID: tu.ID, Content: fmt.Sprintf("invalid tool input: %v", err), IsError: true}
	}

	result, err := r.tools.Handle(ctx, tu.Name, conversationID, args)
	if err != nil {
		r.logger.Warn().Str("tool", tu.Name).Err(err).Msg("Tool execution failed")
		return llm.ToolResultBlock{ID: tu.ID, Content: err.Error(), IsError: true}
	}

	content, err := json.Marshal(result)
	if err != nil {
		return llm.ToolResultBlock{ID: tu.ID, Content: fmt.Sprintf("unencodable tool result: %v", err), IsError: true}
	}
	return llm.ToolResultBlock{ID: tu.ID, Content: string(content)}
}

// ToolNames lists the tools a dispatcher exposes, for logging at startup.
func ToolNames(d ToolDispatcher) []string {
	if d == nil {
		return nil
	}
	return lo.Map(d.Specs(), func(spec llm.ToolSpec, _ int) string { return spec.Name })
}
