package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amparo-app/engine/widget"
)

// RegisterWidgetTools registers the widget extraction and query tools.
// Tool calls carry an optional conversation_id argument; when absent the
// conversation bound to the calling session is used.
func (r *Registry) RegisterWidgetTools(store *widget.Store, resolver *widget.Resolver) {
	r.logger.Info().Msg("Registering widget tools in registry")

	r.Register("widget_search", func(ctx context.Context, conversationID string, args json.RawMessage) (any, error) {
		var payload struct {
			ConversationID string  `json:"conversation_id"`
			Query          string  `json:"query"`
			Type           string  `json:"type"`
			Limit          float64 `json:"limit"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("widget_search: invalid arguments: %w", err)
		}
		convID := firstNonEmpty(payload.ConversationID, conversationID)
		if convID == "" {
			return nil, fmt.Errorf("widget_search: conversation_id is required")
		}

		entities, err := store.SearchEntities(ctx, convID, payload.Query, payload.Type, int(payload.Limit))
		if err != nil {
			return nil, fmt.Errorf("widget_search: %w", err)
		}
		return map[string]any{
			"widgets": entities,
			"count":   len(entities),
		}, nil
	})

	r.Register("widget_upsert_batch", func(ctx context.Context, conversationID string, args json.RawMessage) (any, error) {
		var payload struct {
			ConversationID  string                  `json:"conversation_id"`
			SourceMessageID string                  `json:"source_message_id"`
			Widgets         []widget.RawExtraction  `json:"widgets"`
			Links           []widget.RawLink        `json:"links"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("widget_upsert_batch: invalid arguments: %w", err)
		}
		convID := firstNonEmpty(payload.ConversationID, conversationID)
		if convID == "" {
			return nil, fmt.Errorf("widget_upsert_batch: conversation_id is required")
		}

		existing, err := store.EntitiesForConversation(ctx, convID)
		if err != nil {
			return nil, fmt.Errorf("widget_upsert_batch: load existing: %w", err)
		}

		plan, err := resolver.ResolvePlan(convID, payload.Widgets, payload.Links, existing, payload.SourceMessageID)
		if err != nil {
			return nil, fmt.Errorf("widget_upsert_batch: resolve: %w", err)
		}

		result, err := store.Apply(ctx, convID, plan)
		if err != nil {
			return nil, fmt.Errorf("widget_upsert_batch: apply: %w", err)
		}
		return result, nil
	})

	r.Register("widget_update", func(ctx context.Context, conversationID string, args json.RawMessage) (any, error) {
		var payload struct {
			ConversationID string             `json:"conversation_id"`
			ID             int64              `json:"id"`
			Title          *string            `json:"title"`
			Description    *string            `json:"description"`
			TypedData      *widget.TypedData  `json:"typed_data"`
			RelatedTitles  *[]string          `json:"related_titles"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("widget_update: invalid arguments: %w", err)
		}
		convID := firstNonEmpty(payload.ConversationID, conversationID)
		if convID == "" {
			return nil, fmt.Errorf("widget_update: conversation_id is required")
		}
		if payload.ID <= 0 {
			return nil, fmt.Errorf("widget_update: id is required")
		}

		updated, err := store.UpdateEntity(ctx, convID, payload.ID, widget.EntityPatch{
			Title:         payload.Title,
			Description:   payload.Description,
			TypedData:     payload.TypedData,
			RelatedTitles: payload.RelatedTitles,
		})
		if err != nil {
			return nil, fmt.Errorf("widget_update: %w", err)
		}
		return updated, nil
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
