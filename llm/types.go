// Package llm is a provider-neutral layer over streaming LLM APIs. It
// defines the message, tool, and stream-event types the chat runner
// consumes, leaving provider-specific wire details to the subpackages
// (anthropic, openai, ollama).
package llm

// MessageRole is the role of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one provider-neutral conversation message.
type Message struct {
	Role    MessageRole
	Content []ContentBlock
}

// ContentBlockType discriminates ContentBlock.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock is a single block within a message.
type ContentBlock struct {
	Type       ContentBlockType
	Text       string
	ToolUse    *ToolUseBlock
	ToolResult *ToolResultBlock
}

// ToolUseBlock is a tool invocation requested by the assistant.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock is the result of a tool invocation.
type ToolResultBlock struct {
	ID      string
	Content string
	IsError bool
}

// ToolSpec describes a tool offered to the model. Schema is a JSON-schema
// object in map form.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is a complete streaming request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int64
	Temperature *float64
}

// Usage is token accounting reported by the provider.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// StreamDeltaType discriminates StreamDelta.
type StreamDeltaType string

const (
	// StreamDeltaTypeText is an increment of the visible assistant text.
	StreamDeltaTypeText StreamDeltaType = "text"
	// StreamDeltaTypeReasoning is an increment of the model's auxiliary
	// thinking output, persisted on its own channel.
	StreamDeltaTypeReasoning StreamDeltaType = "reasoning"
	// StreamDeltaTypeToolUse is a completed tool invocation: providers
	// accumulate partial input JSON internally and emit one delta with the
	// full decoded input.
	StreamDeltaTypeToolUse StreamDeltaType = "tool_use"
)

// StreamDelta is one increment of streamed output.
type StreamDelta struct {
	Type    StreamDeltaType
	Text    string
	ToolUse *ToolUseBlock
}

// StreamEventType discriminates StreamEvent.
type StreamEventType string

const (
	StreamEventTypeDelta StreamEventType = "delta"
	StreamEventTypeUsage StreamEventType = "usage"
	StreamEventTypeDone  StreamEventType = "done"
)

// StreamEvent is one event from a provider stream.
type StreamEvent struct {
	Type  StreamEventType
	Delta *StreamDelta
	Usage *Usage
}

// NewTextMessage builds a single-text-block message.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: ContentBlockTypeText, Text: text}},
	}
}

// NewToolResultMessage builds the user-role message that carries tool
// results back to the model.
func NewToolResultMessage(results []ToolResultBlock) Message {
	content := make([]ContentBlock, len(results))
	for i := range results {
		content[i] = ContentBlock{Type: ContentBlockTypeToolResult, ToolResult: &results[i]}
	}
	return Message{Role: RoleUser, Content: content}
}

// NewToolUseMessage builds the assistant-role message that echoes the tool
// calls the model made, for the next request's history.
func NewToolUseMessage(toolUses []ToolUseBlock) Message {
	content := make([]ContentBlock, len(toolUses))
	for i := range toolUses {
		content[i] = ContentBlock{Type: ContentBlockTypeToolUse, ToolUse: &toolUses[i]}
	}
	return Message{Role: RoleAssistant, Content: content}
}
