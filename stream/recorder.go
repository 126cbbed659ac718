package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ChunkSink is the storage a Recorder writes through. *Store satisfies it.
type ChunkSink interface {
	AppendChunk(ctx context.Context, messageID string, channel Channel, content string) error
	CompleteMessage(ctx context.Context, messageID string, meta CompletionMeta) error
}

// Recorder owns the buffered persistence of one streaming message: an
// independent buffer per channel, a terminal Complete/Fail transition, and
// the guarantee that buffered content is flushed on every exit path. It is
// scoped to the single streaming call that created the message; no other
// writer may append chunks for the same message concurrently.
type Recorder struct {
	sink      ChunkSink
	messageID string
	text      *Buffer
	reasoning *Buffer
	done      bool
	logger    zerolog.Logger
}

// NewRecorder creates a Recorder for one message. Thresholds apply to both
// channels; pass zero values for the defaults.
func NewRecorder(sink ChunkSink, messageID string, minChunkSize int, flushInterval time.Duration, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		sink:      sink,
		messageID: messageID,
		logger:    logger.With().Str("component", "stream_recorder").Str("message_id", messageID).Logger(),
	}
	r.text = NewBuffer(minChunkSize, flushInterval, func(ctx context.Context, content string) error {
		return sink.AppendChunk(ctx, messageID, ChannelText, content)
	})
	r.reasoning = NewBuffer(minChunkSize, flushInterval, func(ctx context.Context, content string) error {
		return sink.AppendChunk(ctx, messageID, ChannelReasoning, content)
	})
	return r
}

// AppendText buffers one primary-text delta.
func (r *Recorder) AppendText(ctx context.Context, delta string) error {
	if r.done {
		return fmt.Errorf("recorder: message %s already complete", r.messageID)
	}
	return r.text.Append(ctx, delta)
}

// AppendReasoning buffers one reasoning delta.
func (r *Recorder) AppendReasoning(ctx context.Context, delta string) error {
	if r.done {
		return fmt.Errorf("recorder: message %s already complete", r.messageID)
	}
	return r.reasoning.Append(ctx, delta)
}

// Complete flushes both buffers and marks the message complete with its
// final metadata. It is the normal-termination and cancellation path.
func (r *Recorder) Complete(ctx context.Context, meta CompletionMeta) error {
	if r.done {
		return nil
	}
	r.done = true
	// The caller's context may already be canceled on the abort path; the
	// final flush and status transition must still reach storage.
	ctx = context.WithoutCancel(ctx)
	if err := r.flushBoth(ctx); err != nil {
		return err
	}
	if err := r.sink.CompleteMessage(ctx, r.messageID, meta); err != nil {
		return err
	}
	r.logger.Info().
		Str("model", meta.Model).
		Int("tool_calls", meta.ToolCalls).
		Int64("thinking_ms", meta.ThinkingMS).
		Msg("Message completed")
	return nil
}

// Fail handles a mid-flight stream error: an explanatory trailing note is
// appended to the visible text, both buffers are flushed, and the message is
// marked complete rather than left perpetually in progress. Already-flushed
// chunks stay durable.
func (r *Recorder) Fail(ctx context.Context, meta CompletionMeta, cause error) error {
	if r.done {
		return nil
	}
	r.done = true
	ctx = context.WithoutCancel(ctx)
	r.text.buf.WriteString(fmt.Sprintf("\n\n[response interrupted: %v]", cause))
	if err := r.flushBoth(ctx); err != nil {
		return err
	}
	if meta.Error == "" && cause != nil {
		meta.Error = cause.Error()
	}
	if err := r.sink.CompleteMessage(ctx, r.messageID, meta); err != nil {
		return err
	}
	r.logger.Warn().Err(cause).Msg("Message completed after stream failure")
	return nil
}

func (r *Recorder) flushBoth(ctx context.Context) error {
	if err := r.text.Flush(ctx); err != nil {
		return fmt.Errorf("flush text: %w", err)
	}
	if err := r.reasoning.Flush(ctx); err != nil {
		return fmt.Errorf("flush reasoning: %w", err)
	}
	return nil
}
