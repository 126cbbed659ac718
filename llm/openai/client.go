// Package openai implements the llm.Client interface on top of the
// go-openai SDK's chat completion streaming API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/amparo-app/engine/llm"
)

// The chat completions API does not expose retry-after headers through the
// SDK error type, so rate limits report a fixed hint.
const defaultRetryAfter = 60 * time.Second

// Client implements llm.Client against the OpenAI chat completions API.
type Client struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewClient creates a Client. baseURL and organization are optional; model is
// the default used when a request does not name one.
func NewClient(apiKey, baseURL, model, organization string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.With().Str("component", "llm.openai").Logger(),
	}, nil
}

// Stream implements llm.Client.Stream.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	messages, err := toChatMessages(req)
	if err != nil {
		return nil, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toChatTools(req.Tools)
		chatReq.ToolChoice = "auto"
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	inner, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, classifyError(err)
	}

	return &stream{
		inner:     inner,
		logger:    c.logger,
		toolCalls: make(map[int]*toolCallAccumulator),
	}, nil
}

func toChatMessages(req *llm.Request) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == llm.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		// Tool results map onto dedicated tool-role messages; text and tool
		// calls collapse into a single chat message.
		var content string
		var toolCalls []openai.ToolCall
		var toolResults []openai.ChatCompletionMessage

		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				if content != "" {
					content += "\n"
				}
				content += block.Text
			case llm.ContentBlockTypeToolUse:
				if block.ToolUse == nil {
					continue
				}
				args, err := json.Marshal(block.ToolUse.Input)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool input: %w", err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   block.ToolUse.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.ToolUse.Name,
						Arguments: string(args),
					},
				})
			case llm.ContentBlockTypeToolResult:
				if block.ToolResult == nil {
					continue
				}
				toolResults = append(toolResults, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.ToolResult.Content,
					ToolCallID: block.ToolResult.ID,
				})
			}
		}

		if content != "" || len(toolCalls) > 0 {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:      role,
				Content:   content,
				ToolCalls: toolCalls,
			})
		}
		messages = append(messages, toolResults...)
	}

	return messages, nil
}

func toChatTools(specs []llm.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		})
	}
	return tools
}

// toolCallAccumulator gathers the partial tool call fragments that arrive
// across chunks, keyed by choice index.
type toolCallAccumulator struct {
	id   string
	name string
	args string
}

type stream struct {
	inner  *openai.ChatCompletionStream
	logger zerolog.Logger

	pending   []llm.StreamEvent
	current   *llm.StreamEvent
	toolCalls map[int]*toolCallAccumulator
	toolOrder []int
	usage     *llm.Usage
	finished  bool
	err       error
}

func (s *stream) Next() bool {
	if s.pop() {
		return true
	}
	if s.finished || s.err != nil {
		return false
	}

	for {
		response, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			s.flushToolCalls()
			if s.usage != nil {
				s.push(llm.StreamEvent{Type: llm.StreamEventTypeUsage, Usage: s.usage})
			}
			s.push(llm.StreamEvent{Type: llm.StreamEventTypeDone, Usage: s.usage})
			s.finished = true
			return s.pop()
		}
		if err != nil {
			s.err = classifyError(err)
			return false
		}

		if response.Usage != nil {
			s.usage = &llm.Usage{
				InputTokens:  int64(response.Usage.PromptTokens),
				OutputTokens: int64(response.Usage.CompletionTokens),
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			s.push(llm.StreamEvent{
				Type:  llm.StreamEventTypeDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: choice.Delta.Content},
			})
		}
		if choice.Delta.ReasoningContent != "" {
			s.push(llm.StreamEvent{
				Type:  llm.StreamEventTypeDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeReasoning, Text: choice.Delta.ReasoningContent},
			})
		}
		for _, tc := range choice.Delta.ToolCalls {
			s.accumulateToolCall(tc)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			s.flushToolCalls()
		}

		if s.pop() {
			return true
		}
	}
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

func (s *stream) pop() bool {
	if len(s.pending) == 0 {
		return false
	}
	s.current = &s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *stream) push(evt llm.StreamEvent) {
	s.pending = append(s.pending, evt)
}

func (s *stream) accumulateToolCall(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	acc, ok := s.toolCalls[idx]
	if !ok {
		acc = &toolCallAccumulator{}
		s.toolCalls[idx] = acc
		s.toolOrder = append(s.toolOrder, idx)
	}
	if tc.ID != "" {
		acc.id = tc.ID
	}
	if tc.Function.Name != "" {
		acc.name = tc.Function.Name
	}
	acc.args += tc.Function.Arguments
}

func (s *stream) flushToolCalls() {
	for _, idx := range s.toolOrder {
		acc := s.toolCalls[idx]
		input := map[string]any{}
		if acc.args != "" {
			if err := json.Unmarshal([]byte(acc.args), &input); err != nil {
				s.logger.Warn().Err(err).Str("tool", acc.name).Msg("failed to decode tool arguments")
				input = map[string]any{}
			}
		}
		s.push(llm.StreamEvent{
			Type: llm.StreamEventTypeDelta,
			Delta: &llm.StreamDelta{
				Type:    llm.StreamDeltaTypeToolUse,
				ToolUse: &llm.ToolUseBlock{ID: acc.id, Name: acc.name, Input: input},
			},
		})
	}
	s.toolCalls = make(map[int]*toolCallAccumulator)
	s.toolOrder = nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return llm.NewNetworkError("openai request failed", err)
	}

	switch apiErr.HTTPStatusCode {
	case http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		return llm.NewRateLimitError(fmt.Sprintf("openai rate limit: %s", apiErr.Message), &retryAfter, err)
	case http.StatusBadRequest:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     fmt.Sprintf("openai invalid request: %s", apiErr.Message),
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("openai server error: %s", apiErr.Message),
			Retryable:   true,
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("openai API error: %s", apiErr.Message),
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	}
}
