package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/amparo-app/engine/chat"
	"github.com/amparo-app/engine/conversations"
	"github.com/amparo-app/engine/llm"
	"github.com/amparo-app/engine/session"
	"github.com/amparo-app/engine/stream"
)

// AssistantOptions carries the model settings for assistant_reply turns.
type AssistantOptions struct {
	Model         string
	SystemPrompt  string
	MaxTokens     int64
	MinChunkSize  int
	FlushInterval time.Duration
}

// RegisterAssistantTool registers assistant_reply: one full streamed
// assistant turn, persisted through the stream store, with the widget tools
// available to the model.
func (r *Registry) RegisterAssistantTool(runner *chat.Runner, convs *conversations.Store, msgs *stream.Store, sessions *session.Manager, opts AssistantOptions) {
	r.Register("assistant_reply", func(ctx context.Context, conversationID string, args json.RawMessage) (any, error) {
		var payload struct {
			ConversationID string `json:"conversation_id"`
			Message        string `json:"message"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("invalid assistant_reply arguments: %w", err)
		}
		convID := firstNonEmpty(payload.ConversationID, conversationID)
		if convID == "" {
			return nil, fmt.Errorf("conversation_id is required")
		}
		if payload.Message == "" {
			return nil, fmt.Errorf("message is required")
		}
		if _, err := convs.Get(ctx, convID); err != nil {
			return nil, err
		}

		messageID := uuid.NewString()
		sess, err := sessions.Acquire(convID, messageID)
		if err != nil {
			return nil, err
		}
		defer sess.Release()

		if err := msgs.CreateMessage(ctx, convID, messageID, "assistant", opts.Model); err != nil {
			return nil, fmt.Errorf("create assistant message: %w", err)
		}
		rec := stream.NewRecorder(msgs, messageID, opts.MinChunkSize, opts.FlushInterval, r.logger)

		// The model gets the widget tools but never assistant_reply
		// itself, so a turn cannot recurse into another turn.
		req := &llm.Request{
			Model:     opts.Model,
			System:    opts.SystemPrompt,
			MaxTokens: opts.MaxTokens,
			Messages:  []llm.Message{llm.NewTextMessage(llm.RoleUser, payload.Message)},
			Tools: lo.Filter(r.Specs(), func(spec llm.ToolSpec, _ int) bool {
				return spec.Name != "assistant_reply"
			}),
		}
		text, err := runner.Run(ctx, convID, req, rec)
		if err != nil {
			return nil, err
		}
		if err := convs.Touch(ctx, convID); err != nil {
			r.logger.Warn().Str("conversation_id", convID).Err(err).Msg("Failed to touch conversation")
		}
		return map[string]any{"message_id": messageID, "text": text}, nil
	})
}
