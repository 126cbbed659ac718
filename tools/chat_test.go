package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/chat"
	"github.com/amparo-app/engine/conversations"
	"github.com/amparo-app/engine/llm"
	"github.com/amparo-app/engine/session"
	"github.com/amparo-app/engine/stream"
)

type scriptedStream struct {
	events []llm.StreamEvent
	pos    int
}

func (s *scriptedStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedStream) Event() *llm.StreamEvent { return &s.events[s.pos-1] }
func (s *scriptedStream) Err() error              { return nil }
func (s *scriptedStream) Close() error            { return nil }

type scriptedClient struct {
	requests []*llm.Request
	events   []llm.StreamEvent
}

func (c *scriptedClient) Stream(_ context.Context, req *llm.Request) (llm.Stream, error) {
	c.requests = append(c.requests, req)
	return &scriptedStream{events: c.events}, nil
}

func TestAssistantReplyStreamsAndPersists(t *testing.T) {
	registry, db := setupTestRegistry(t)
	ctx := context.Background()

	client := &scriptedClient{events: []llm.StreamEvent{
		{Type: llm.StreamEventTypeDelta, Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: "Sounds good, "}},
		{Type: llm.StreamEventTypeDelta, Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: "I noted it."}},
		{Type: llm.StreamEventTypeDone},
	}}
	runner := chat.NewRunner(client, registry, zerolog.Nop())
	msgs := stream.NewStore(db, zerolog.Nop())
	convs := conversations.NewStore(db, zerolog.Nop())
	registry.RegisterAssistantTool(runner, convs, msgs, session.NewManager(zerolog.Nop()), AssistantOptions{
		Model:         "claude-haiku-4-5",
		SystemPrompt:  "You are a warm, concise companion.",
		MaxTokens:     512,
		MinChunkSize:  1,
		FlushInterval: 10 * time.Millisecond,
	})

	result, err := registry.Handle(ctx, "assistant_reply", "", []byte(`{"conversation_id": "conv-1", "message": "remind me to call Maria"}`))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	out, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", result)
	}
	if out["text"] != "Sounds good, I noted it." {
		t.Errorf("unexpected reply text %q", out["text"])
	}

	messageID, _ := out["message_id"].(string)
	msg, err := msgs.GetMessage(ctx, messageID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Status != stream.StatusComplete {
		t.Errorf("expected complete status, got %q", msg.Status)
	}
	text, err := msgs.MessageText(ctx, messageID, stream.ChannelText)
	if err != nil {
		t.Fatalf("MessageText: %v", err)
	}
	if text != "Sounds good, I noted it." {
		t.Errorf("persisted text = %q", text)
	}

	// The model must see the widget tools but never assistant_reply.
	if len(client.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(client.requests))
	}
	for _, spec := range client.requests[0].Tools {
		if spec.Name == "assistant_reply" {
			t.Error("assistant_reply offered to the model")
		}
	}
	if len(client.requests[0].Tools) != 3 {
		t.Errorf("expected 3 widget tools, got %d", len(client.requests[0].Tools))
	}
}

func TestAssistantReplyRequiresConversation(t *testing.T) {
	registry, db := setupTestRegistry(t)

	client := &scriptedClient{events: []llm.StreamEvent{{Type: llm.StreamEventTypeDone}}}
	runner := chat.NewRunner(client, registry, zerolog.Nop())
	registry.RegisterAssistantTool(runner,
		conversations.NewStore(db, zerolog.Nop()),
		stream.NewStore(db, zerolog.Nop()),
		session.NewManager(zerolog.Nop()),
		AssistantOptions{Model: "claude-haiku-4-5", MinChunkSize: 1, FlushInterval: 10 * time.Millisecond})

	_, err := registry.Handle(context.Background(), "assistant_reply", "", []byte(`{"conversation_id": "conv-missing", "message": "hi"}`))
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
	if !strings.Contains(err.Error(), "conv-missing") {
		t.Errorf("error does not name the conversation: %v", err)
	}

	_, err = registry.Handle(context.Background(), "assistant_reply", "conv-1", []byte(`{"message": ""}`))
	if err == nil {
		t.Fatal("expected error for empty message")
	}
}
