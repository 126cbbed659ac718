package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memorySink struct {
	chunks    map[Channel][]string
	completed *CompletionMeta
}

func newMemorySink() *memorySink {
	return &memorySink{chunks: make(map[Channel][]string)}
}

func (m *memorySink) AppendChunk(_ context.Context, _ string, channel Channel, content string) error {
	m.chunks[channel] = append(m.chunks[channel], content)
	return nil
}

func (m *memorySink) CompleteMessage(_ context.Context, _ string, meta CompletionMeta) error {
	m.completed = &meta
	return nil
}

func (m *memorySink) text(channel Channel) string {
	return strings.Join(m.chunks[channel], "")
}

func TestRecorderCompleteFlushesBothChannels(t *testing.T) {
	sink := newMemorySink()
	rec := NewRecorder(sink, "msg-1", 1<<20, time.Hour, zerolog.Nop())
	ctx := context.Background()

	if err := rec.AppendText(ctx, "Olá, "); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	if err := rec.AppendText(ctx, "tudo bem?"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	if err := rec.AppendReasoning(ctx, "user greeted; respond warmly"); err != nil {
		t.Fatalf("AppendReasoning: %v", err)
	}
	if len(sink.chunks[ChannelText]) != 0 {
		t.Fatalf("thresholds not reached, nothing should be flushed yet")
	}

	meta := CompletionMeta{Model: "claude-sonnet", ThinkingMS: 120, ToolCalls: 1}
	if err := rec.Complete(ctx, meta); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := sink.text(ChannelText); got != "Olá, tudo bem?" {
		t.Errorf("text = %q", got)
	}
	if got := sink.text(ChannelReasoning); got != "user greeted; respond warmly" {
		t.Errorf("reasoning = %q", got)
	}
	if sink.completed == nil || sink.completed.ToolCalls != 1 {
		t.Errorf("completion metadata not persisted: %+v", sink.completed)
	}

	// Terminal state: further appends are rejected, replay completes are no-ops.
	if err := rec.AppendText(ctx, "x"); err == nil {
		t.Errorf("append after completion must fail")
	}
	if err := rec.Complete(ctx, meta); err != nil {
		t.Errorf("second Complete must be a no-op: %v", err)
	}
}

// Simulates N deltas with a forced failure after delta k: the persisted
// concatenation plus the trailing note must contain every delta seen before
// the failure, in order.
func TestRecorderNoLossOnStreamFailure(t *testing.T) {
	sink := newMemorySink()
	rec := NewRecorder(sink, "msg-1", 8, time.Hour, zerolog.Nop())
	ctx := context.Background()

	deltas := []string{"The ", "quick ", "brown ", "fox ", "jumps ", "over"}
	failAfter := 4
	var sent strings.Builder
	for i := 0; i < failAfter; i++ {
		sent.WriteString(deltas[i])
		if err := rec.AppendText(ctx, deltas[i]); err != nil {
			t.Fatalf("AppendText: %v", err)
		}
	}

	cause := errors.New("connection reset")
	if err := rec.Fail(ctx, CompletionMeta{Model: "claude-sonnet"}, cause); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	persisted := sink.text(ChannelText)
	if !strings.HasPrefix(persisted, sent.String()) {
		t.Fatalf("persisted text must start with every delta seen:\n got  %q\n want prefix %q", persisted, sent.String())
	}
	if !strings.Contains(persisted, "connection reset") {
		t.Errorf("trailing note must explain the interruption: %q", persisted)
	}
	if sink.completed == nil {
		t.Fatalf("failed stream must still be marked complete")
	}
	if sink.completed.Error != "connection reset" {
		t.Errorf("completion error = %q", sink.completed.Error)
	}
}

// ctxSink refuses writes once the context is canceled, the way the real
// sqlite-backed store does.
type ctxSink struct{ *memorySink }

func (c *ctxSink) AppendChunk(ctx context.Context, messageID string, channel Channel, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memorySink.AppendChunk(ctx, messageID, channel, content)
}

func (c *ctxSink) CompleteMessage(ctx context.Context, messageID string, meta CompletionMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memorySink.CompleteMessage(ctx, messageID, meta)
}

// A client abort cancels the streaming context before the recorder
// finalizes. Buffered deltas must still be flushed and the message must
// leave the streaming state.
func TestRecorderFinalizesAfterContextCanceled(t *testing.T) {
	sink := &ctxSink{newMemorySink()}
	rec := NewRecorder(sink, "msg-1", 1<<20, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := rec.AppendText(ctx, "Antes de mais nada"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	cancel()

	if err := rec.Fail(ctx, CompletionMeta{Model: "claude-sonnet"}, ctx.Err()); err != nil {
		t.Fatalf("Fail after cancellation: %v", err)
	}
	persisted := sink.text(ChannelText)
	if !strings.HasPrefix(persisted, "Antes de mais nada") {
		t.Fatalf("buffered delta lost on cancellation: %q", persisted)
	}
	if !strings.Contains(persisted, "context canceled") {
		t.Errorf("trailing note missing: %q", persisted)
	}
	if sink.completed == nil {
		t.Fatal("message left in streaming state after cancellation")
	}
	if sink.completed.Error != "context canceled" {
		t.Errorf("completion error = %q", sink.completed.Error)
	}
}

func TestRecorderCompleteSurvivesContextCancel(t *testing.T) {
	sink := &ctxSink{newMemorySink()}
	rec := NewRecorder(sink, "msg-1", 1<<20, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := rec.AppendText(ctx, "tudo certo"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	cancel()

	if err := rec.Complete(ctx, CompletionMeta{Model: "claude-sonnet"}); err != nil {
		t.Fatalf("Complete after cancellation: %v", err)
	}
	if got := sink.text(ChannelText); got != "tudo certo" {
		t.Errorf("text = %q", got)
	}
	if sink.completed == nil {
		t.Fatal("completion metadata not persisted")
	}
}

func TestRecorderSizeThresholdProducesOrderedChunks(t *testing.T) {
	sink := newMemorySink()
	rec := NewRecorder(sink, "msg-1", 4, time.Hour, zerolog.Nop())
	ctx := context.Background()

	for _, d := range []string{"ab", "cd", "ef", "gh"} {
		if err := rec.AppendText(ctx, d); err != nil {
			t.Fatalf("AppendText: %v", err)
		}
	}
	if err := rec.Complete(ctx, CompletionMeta{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := sink.text(ChannelText); got != "abcdefgh" {
		t.Fatalf("chunk concatenation out of order: %q", got)
	}
	if len(sink.chunks[ChannelText]) < 2 {
		t.Fatalf("size threshold should have produced multiple chunks: %v", sink.chunks[ChannelText])
	}
}
