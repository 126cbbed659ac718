// Package ollama implements the llm.Client interface on top of the Ollama
// chat API.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/llm"
)

// Client implements llm.Client against a local or remote Ollama server.
type Client struct {
	client *api.Client
	model  string
	logger zerolog.Logger
}

// NewClient creates a Client. An empty host falls back to the environment
// (OLLAMA_HOST or http://localhost:11434). model is the default used when a
// request does not name one.
func NewClient(host, model string, logger zerolog.Logger) (*Client, error) {
	var client *api.Client

	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &Client{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "llm.ollama").Logger(),
	}, nil
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Stream implements llm.Client.Stream. The SDK drives a callback per chunk;
// a goroutine bridges those chunks onto a channel the returned stream pulls
// from.
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

	messages := toChatMessages(req)

	streaming := true
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &streaming,
		Options:  make(map[string]any),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toChatTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &stream{
		events: make(chan llm.StreamEvent, 16),
		cancel: cancel,
	}

	go func() {
		defer close(s.events)

		toolIndex := 0
		err := c.client.Chat(streamCtx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if err := s.send(streamCtx, llm.StreamEvent{
					Type:  llm.StreamEventTypeDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: resp.Message.Content},
				}); err != nil {
					return err
				}
			}
			if resp.Message.Thinking != "" {
				if err := s.send(streamCtx, llm.StreamEvent{
					Type:  llm.StreamEventTypeDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeReasoning, Text: resp.Message.Thinking},
				}); err != nil {
					return err
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				toolIndex++
				input := make(map[string]any, len(tc.Function.Arguments))
				for k, v := range tc.Function.Arguments {
					input[k] = v
				}
				// Ollama does not assign tool call IDs.
				id := fmt.Sprintf("call_%s_%d", tc.Function.Name, toolIndex)
				if err := s.send(streamCtx, llm.StreamEvent{
					Type: llm.StreamEventTypeDelta,
					Delta: &llm.StreamDelta{
						Type:    llm.StreamDeltaTypeToolUse,
						ToolUse: &llm.ToolUseBlock{ID: id, Name: tc.Function.Name, Input: input},
					},
				}); err != nil {
					return err
				}
			}
			if resp.Done {
				usage := &llm.Usage{
					InputTokens:  int64(resp.Metrics.PromptEvalCount),
					OutputTokens: int64(resp.Metrics.EvalCount),
				}
				if err := s.send(streamCtx, llm.StreamEvent{Type: llm.StreamEventTypeUsage, Usage: usage}); err != nil {
					return err
				}
				return s.send(streamCtx, llm.StreamEvent{Type: llm.StreamEventTypeDone, Usage: usage})
			}
			return nil
		})
		if err != nil && streamCtx.Err() == nil {
			s.setErr(llm.NewNetworkError("ollama chat failed", err))
		}
	}()

	return s, nil
}

func toChatMessages(req *llm.Request) []api.Message {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "assistant"
		}

		var content strings.Builder
		var toolCalls []api.ToolCall
		var toolResults []api.Message

		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				if content.Len() > 0 {
					content.WriteString("\n")
				}
				content.WriteString(block.Text)
			case llm.ContentBlockTypeToolUse:
				if block.ToolUse == nil {
					continue
				}
				args := make(api.ToolCallFunctionArguments, len(block.ToolUse.Input))
				for k, v := range block.ToolUse.Input {
					args[k] = v
				}
				toolCalls = append(toolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      block.ToolUse.Name,
						Arguments: args,
					},
				})
			case llm.ContentBlockTypeToolResult:
				if block.ToolResult == nil {
					continue
				}
				toolResults = append(toolResults, api.Message{
					Role:    "tool",
					Content: block.ToolResult.Content,
				})
			}
		}

		if content.Len() > 0 || len(toolCalls) > 0 {
			messages = append(messages, api.Message{
				Role:      role,
				Content:   content.String(),
				ToolCalls: toolCalls,
			})
		}
		messages = append(messages, toolResults...)
	}

	return messages
}

func toChatTools(specs []llm.ToolSpec) []api.Tool {
	tools := make([]api.Tool, 0, len(specs))
	for _, spec := range specs {
		properties := make(map[string]api.ToolProperty)
		if props, ok := spec.Schema["properties"].(map[string]any); ok {
			for name, raw := range props {
				prop := api.ToolProperty{Type: []string{"string"}}
				if propMap, ok := raw.(map[string]any); ok {
					if t, ok := propMap["type"].(string); ok {
						prop.Type = []string{t}
					}
					if desc, ok := propMap["description"].(string); ok {
						prop.Description = desc
					}
				}
				properties[name] = prop
			}
		}

		var required []string
		if raw, ok := spec.Schema["required"].([]any); ok {
			for _, r := range raw {
				if name, ok := r.(string); ok {
					required = append(required, name)
				}
			}
		}

		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return tools
}

type stream struct {
	events  chan llm.StreamEvent
	cancel  context.CancelFunc
	current *llm.StreamEvent

	mu  sync.Mutex
	err error
}

func (s *stream) Next() bool {
	evt, ok := <-s.events
	if !ok {
		return false
	}
	s.current = &evt
	return true
}

func (s *stream) Event() *llm.StreamEvent {
	return s.current
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.cancel()
	return nil
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stream) send(ctx context.Context, evt llm.StreamEvent) error {
	select {
	case s.events <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
