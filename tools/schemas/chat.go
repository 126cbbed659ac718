package schemas

// ChatSchemas returns schemas for assistant conversation tools.
func ChatSchemas() map[string]ToolSchema {
	return map[string]ToolSchema{
		"assistant_reply": {
			Description: "Send a user message to the assistant and receive one complete reply. The reply is streamed into the conversation transcript, and the assistant may create or update widgets while responding. Only one reply can be in flight at a time.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"conversation_id": map[string]any{
						"type":        "string",
						"description": "ID of an existing conversation to reply within",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "The user's message text",
					},
				},
				"required": []string{"conversation_id", "message"},
			},
		},
	}
}
