// Package schemas contains tool schema definitions for the engine. These
// schemas describe the input parameters for tools exposed to models and MCP
// clients, and are registered with the tool registry at startup.
package schemas

// ToolSchema represents a tool's description and JSON schema.
type ToolSchema struct {
	Description string
	Schema      map[string]any
}

// All returns all tool schemas from all categories.
func All() map[string]ToolSchema {
	schemas := make(map[string]ToolSchema)

	for name, schema := range WidgetSchemas() {
		schemas[name] = schema
	}

	for name, schema := range ChatSchemas() {
		schemas[name] = schema
	}

	return schemas
}
