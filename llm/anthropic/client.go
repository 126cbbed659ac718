// Package anthropic implements the llm.Client interface on top of the
// official Anthropic Go SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/llm"
)

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	client *anthropic.Client
	logger zerolog.Logger
}

// NewClient creates a Client with the given API key.
func NewClient(apiKey string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: &client,
		logger: logger.With().Str("component", "llm.anthropic").Logger(),
	}, nil
}

// Stream implements llm.Client.Stream. Stream creation is retried with
// exponential backoff on rate limits and transient provider failures.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2.0
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 2 * time.Minute
	eb.Reset()

	var raw *ssestream.Stream[anthropic.MessageStreamEventUnion]
	operation := func() error {
		raw = c.client.Messages.NewStreaming(ctx, params)
		if streamErr := raw.Err(); streamErr != nil {
			_ = raw.Close()
			classified := classifyError(streamErr)
			if !llm.IsRetryableError(classified) {
				return backoff.Permanent(classified)
			}
			c.logger.Warn().Err(streamErr).Msg("stream creation failed, retrying")
			return classified
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(eb, 4), ctx)); err != nil {
		return nil, err
	}

	return &stream{inner: raw, logger: c.logger}, nil
}

func buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	messages, err := toMessageParams(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  messages,
		Tools:     toToolParams(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params, nil
}

func toMessageParams(msgs []llm.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case llm.ContentBlockTypeToolUse:
				if block.ToolUse != nil {
					blocks = append(blocks, anthropic.NewToolUseBlock(
						block.ToolUse.ID,
						block.ToolUse.Input,
						block.ToolUse.Name,
					))
				}
			case llm.ContentBlockTypeToolResult:
				if block.ToolResult != nil {
					blocks = append(blocks, anthropic.NewToolResultBlock(
						block.ToolResult.ID,
						block.ToolResult.Content,
						block.ToolResult.IsError,
					))
				}
			default:
				return nil, fmt.Errorf("unsupported content block type %q", block.Type)
			}
		}

		switch msg.Role {
		case llm.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func toToolParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := spec.Schema["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := spec.Schema["required"].([]any); ok {
			for _, r := range required {
				if name, ok := r.(string); ok {
					schema.Required = append(schema.Required, name)
				}
			}
		}

		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: schema,
			},
		})
	}
	return tools
}

// stream adapts the SDK's SSE stream to llm.Stream. Partial tool input JSON
// is accumulated internally and surfaced as a single tool_use delta once the
// content block closes.
type stream struct {
	inner  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	logger zerolog.Logger

	pending   []llm.StreamEvent
	current   *llm.StreamEvent
	toolCall  *llm.ToolUseBlock
	toolInput strings.Builder
	usage     *llm.Usage
	finished  bool
	err       error
}

func (s *stream) Next() bool {
	if len(s.pending) > 0 {
		s.current = &s.pending[0]
		s.pending = s.pending[1:]
		return true
	}
	if s.finished || s.err != nil {
		return false
	}

	for s.inner.Next() {
		s.translate(s.inner.Current())
		if len(s.pending) > 0 {
			s.current = &s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.finished {
			return false
		}
	}

	if err := s.inner.Err(); err != nil {
		s.err = classifyError(err)
		return false
	}

	// Stream ended without a message_stop event.
	s.finished = true
	s.current = &llm.StreamEvent{Type: llm.StreamEventTypeDone, Usage: s.usage}
	return true
}

func (s *stream) Event() *llm.StreamEvent {
	return s.current
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	return s.inner.Close()
}

func (s *stream) translate(event anthropic.MessageStreamEventUnion) {
	switch evt := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			s.toolCall = &llm.ToolUseBlock{ID: block.ID, Name: block.Name}
			s.toolInput.Reset()
		}

	case anthropic.ContentBlockDeltaEvent:
		switch d := evt.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				s.push(llm.StreamEvent{
					Type:  llm.StreamEventTypeDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: d.Text},
				})
			}
		case anthropic.ThinkingDelta:
			if d.Thinking != "" {
				s.push(llm.StreamEvent{
					Type:  llm.StreamEventTypeDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeReasoning, Text: d.Thinking},
				})
			}
		case anthropic.InputJSONDelta:
			if s.toolCall != nil {
				s.toolInput.WriteString(d.PartialJSON)
			}
		}

	case anthropic.ContentBlockStopEvent:
		if s.toolCall != nil {
			s.toolCall.Input = decodeToolInput(s.toolInput.String(), s.logger)
			s.push(llm.StreamEvent{
				Type:  llm.StreamEventTypeDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolUse, ToolUse: s.toolCall},
			})
			s.toolCall = nil
			s.toolInput.Reset()
		}

	case anthropic.MessageDeltaEvent:
		s.usage = &llm.Usage{
			InputTokens:  evt.Usage.InputTokens,
			OutputTokens: evt.Usage.OutputTokens,
		}

	case anthropic.MessageStopEvent:
		if s.usage != nil {
			s.push(llm.StreamEvent{Type: llm.StreamEventTypeUsage, Usage: s.usage})
		}
		s.push(llm.StreamEvent{Type: llm.StreamEventTypeDone, Usage: s.usage})
		s.finished = true
	}
}

func (s *stream) push(evt llm.StreamEvent) {
	s.pending = append(s.pending, evt)
}

func decodeToolInput(raw string, logger zerolog.Logger) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		logger.Warn().Err(err).Msg("failed to decode tool input JSON")
		return map[string]any{}
	}
	return input
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return llm.NewRateLimitError("anthropic rate limited", nil, err)
		case apiErr.StatusCode >= 500:
			return llm.NewNetworkError("anthropic server error", err)
		default:
			return llm.NewProviderError("anthropic request failed", err)
		}
	}
	return llm.NewNetworkError("anthropic stream failed", err)
}
