package schemas

// widgetItemSchema describes a single extracted widget in a batch upsert.
func widgetItemSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{
				"type":        "string",
				"description": "Widget type: task, person, event, note, goal, habit, health, or water-tracker.",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Display title of the widget. Matching is case- and whitespace-insensitive.",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Optional free-text description.",
			},
			"task": map[string]any{
				"type":        "object",
				"description": "Task payload: due_date, priority, completed.",
			},
			"person": map[string]any{
				"type":        "object",
				"description": "Person payload: relation, notes.",
			},
			"event": map[string]any{
				"type":        "object",
				"description": "Event payload: starts_at, ends_at, location.",
			},
			"goal": map[string]any{
				"type":        "object",
				"description": "Goal payload: target, progress, log.",
			},
			"habit": map[string]any{
				"type":        "object",
				"description": "Habit payload: frequency, streak.",
			},
			"health": map[string]any{
				"type":        "object",
				"description": "Health payload: metric, value, unit.",
			},
			"water": map[string]any{
				"type":        "object",
				"description": "Water tracker payload: current, target, unit, log.",
			},
			"related_titles": map[string]any{
				"type":        "array",
				"description": "Titles of other widgets this one relates to.",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"type", "title"},
	}
}

// WidgetSchemas returns schemas for widget extraction and query tools.
func WidgetSchemas() map[string]ToolSchema {
	return map[string]ToolSchema{
		"widget_search": {
			Description: "Search the widgets of a conversation by title substring and optional type.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"conversation_id": map[string]any{
						"type":        "string",
						"description": "Conversation to search within.",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "Title substring to match. Case-insensitive. Empty matches everything.",
					},
					"type": map[string]any{
						"type":        "string",
						"description": "Optional widget type filter.",
					},
					"limit": map[string]any{
						"type":        "number",
						"description": "Maximum number of results (default: 50).",
					},
				},
				"required": []string{"conversation_id"},
			},
		},
		"widget_upsert_batch": {
			Description: "Deduplicate a batch of extracted widgets against the conversation's existing widgets and persist the resulting creates, merges, and links.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"conversation_id": map[string]any{
						"type":        "string",
						"description": "Conversation the widgets belong to.",
					},
					"source_message_id": map[string]any{
						"type":        "string",
						"description": "Message the extraction came from, recorded on affected widgets.",
					},
					"widgets": map[string]any{
						"type":        "array",
						"description": "Extracted widgets to reconcile.",
						"items":       widgetItemSchema(),
					},
					"links": map[string]any{
						"type":        "array",
						"description": "Relationships between widgets, referenced by title.",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"from_title": map[string]any{"type": "string"},
								"to_title":   map[string]any{"type": "string"},
								"kind": map[string]any{
									"type":        "string",
									"description": "Link kind, e.g. related_to, assigned_to, depends_on, scheduled_for, tracked_by.",
								},
							},
							"required": []string{"from_title", "to_title", "kind"},
						},
					},
				},
				"required": []string{"conversation_id", "widgets"},
			},
		},
		"widget_update": {
			Description: "Patch a single widget by id. Omitted fields are left unchanged.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"conversation_id": map[string]any{
						"type":        "string",
						"description": "Conversation the widget belongs to.",
					},
					"id": map[string]any{
						"type":        "number",
						"description": "Row id of the widget to patch.",
					},
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"typed_data": map[string]any{
						"type":        "object",
						"description": "Replacement typed payload keyed by widget type (task, person, event, goal, habit, health, water).",
					},
					"related_titles": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
				"required": []string{"conversation_id", "id"},
			},
		},
	}
}
