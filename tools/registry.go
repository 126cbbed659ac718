package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/llm"
	"github.com/amparo-app/engine/tools/schemas"
)

// ToolHandler handles a tool call within a conversation.
type ToolHandler func(ctx context.Context, conversationID string, args json.RawMessage) (any, error)

// Registry maps tool names to handlers.
type Registry struct {
	handlers map[string]ToolHandler
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	logger = logger.With().Str("component", "tool_registry").Logger()
	return &Registry{
		handlers: make(map[string]ToolHandler),
		logger:   logger,
	}
}

// Register registers a handler for a tool name.
func (r *Registry) Register(name string, h ToolHandler) {
	r.logger.Debug().Str("name", name).Msg("Registering tool handler")
	r.handlers[name] = h
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns llm.ToolSpec definitions for every registered tool that has
// a schema.
func (r *Registry) Specs() []llm.ToolSpec {
	all := schemas.All()
	specs := make([]llm.ToolSpec, 0, len(r.handlers))
	for _, name := range r.Names() {
		schema, ok := all[name]
		if !ok {
			r.logger.Warn().Str("tool", name).Msg("Registered tool has no schema, skipping")
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        name,
			Description: schema.Description,
			Schema:      schema.Schema,
		})
	}
	return specs
}

// Handle dispatches a tool call.
func (r *Registry) Handle(ctx context.Context, toolName, conversationID string, argsStr []byte) (any, error) {
	r.logger.Info().Str("tool", toolName).Str("conversation_id", conversationID).Msg("Handling tool call")

	h, ok := r.handlers[toolName]
	if !ok {
		r.logger.Error().Str("tool", toolName).Msg("Unknown tool requested")
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}

	r.logger.Debug().
		Str("tool", toolName).
		Str("args", string(argsStr)).
		Msg("Tool called with arguments")

	result, err := h(ctx, conversationID, json.RawMessage(argsStr))
	if err != nil {
		r.logger.Warn().Str("tool", toolName).Str("conversation_id", conversationID).Err(err).Msg("Tool returned error")
		return nil, err
	}

	if resultBytes, e := json.Marshal(result); e == nil {
		strResult := string(resultBytes)
		if len(strResult) > 500 {
			strResult = strResult[:500] + "... (truncated)"
		}
		r.logger.Info().Str("tool", toolName).Str("result", strResult).Msg("Tool returned result")
	}

	return result, nil
}
