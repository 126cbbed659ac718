// Package runtime holds background maintenance for the engine daemon.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/stream"
)

// Janitor finalizes messages whose stream was abandoned mid-flight, so no
// message stays in the streaming state forever. It runs on a cron schedule.
type Janitor struct {
	store           *stream.Store
	cron            *cron.Cron
	maxStreamingAge time.Duration
	logger          zerolog.Logger
}

// NewJanitor creates a Janitor. schedule is a cron expression; maxStreamingAge
// is how long a message may stay streaming before it is considered abandoned.
func NewJanitor(store *stream.Store, schedule string, maxStreamingAge time.Duration, logger zerolog.Logger) (*Janitor, error) {
	if maxStreamingAge <= 0 {
		return nil, fmt.Errorf("maxStreamingAge must be positive")
	}

	j := &Janitor{
		store:           store,
		cron:            cron.New(),
		maxStreamingAge: maxStreamingAge,
		logger:          logger.With().Str("component", "janitor").Logger(),
	}

	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Error().Err(err).Msg("Sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	return j, nil
}

// Start begins the cron loop.
func (j *Janitor) Start() {
	j.logger.Info().Dur("max_streaming_age", j.maxStreamingAge).Msg("Starting janitor")
	j.cron.Start()
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info().Msg("Janitor stopped")
}

// Sweep finalizes every message that has been streaming longer than
// maxStreamingAge: a trailing note is appended to its text channel and the
// message is completed with an error marker. Returns how many messages were
// finalized.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.maxStreamingAge)
	stale, err := j.store.StaleStreaming(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale messages: %w", err)
	}

	finalized := 0
	for _, msg := range stale {
		note := "\n\n[response interrupted: stream abandoned]"
		if err := j.store.AppendChunk(ctx, msg.ID, stream.ChannelText, note); err != nil {
			j.logger.Error().Str("message_id", msg.ID).Err(err).Msg("Failed to append trailing note")
			continue
		}
		meta := stream.CompletionMeta{
			Model:      msg.Model,
			ThinkingMS: msg.ThinkingMS,
			ToolCalls:  msg.ToolCalls,
			Error:      "stream abandoned",
		}
		if err := j.store.CompleteMessage(ctx, msg.ID, meta); err != nil {
			j.logger.Error().Str("message_id", msg.ID).Err(err).Msg("Failed to complete abandoned message")
			continue
		}
		finalized++
		j.logger.Warn().
			Str("message_id", msg.ID).
			Str("conversation_id", msg.ConversationID).
			Time("created_at", msg.CreatedAt).
			Msg("Finalized abandoned streaming message")
	}

	return finalized, nil
}
